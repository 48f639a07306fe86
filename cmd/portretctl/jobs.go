package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

func (a *app) submitCmd() *cobra.Command {
	var file, subject, owner string
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Queue a donated image for reconciliation",
		Example: `  portretctl submit --file "Jan Jansen 2019.jpg" --subject "Jan Jansen" --owner vrijwilliger`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			id, err := svc.SubmitJob(cmd.Context(), file, subject, owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file name on the media repository")
	cmd.Flags().StringVar(&subject, "subject", "", "article title of the person depicted")
	cmd.Flags().StringVar(&owner, "owner", "portretctl", "operator submitting the job")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func (a *app) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <job-id>",
		Short: "Show the facts and status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			view, err := svc.GetJobView(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	var owner string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs of an owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			list, err := svc.List(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, job := range list {
				fmt.Fprintf(w, "%s\t%-10s\t%s\t%s\n", job.ID, job.Status, job.Subject, job.FileName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "portretctl", "owner whose jobs to list")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func (a *app) overrideCmd() *cobra.Command {
	f := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "override <job-id>",
		Short: "Correct derived facts before the next reconciliation",
		Example: `  portretctl override 5f0c... --capture-date 2019-05-04 --caption "Jan Jansen in 2019"
  portretctl override 5f0c... --license CC-BY-4.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := f.overrides(cmd.Flags())
			if err != nil {
				return err
			}
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			return svc.ApplyOverrides(cmd.Context(), args[0], overrides)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func (a *app) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id>",
		Short: "Release a reviewed job for the live upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd)
			if err != nil {
				return err
			}
			return svc.Approve(cmd.Context(), args[0])
		},
	}
}

type overrideFlags struct {
	captureDate, birthDate, deathDate string
	category, caption, license        string
	summary                           string
}

func (f *overrideFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.captureDate, "capture-date", "", "date the photo was taken (YYYY-MM-DD)")
	fs.StringVar(&f.birthDate, "birth-date", "", "subject's date of birth (YYYY-MM-DD)")
	fs.StringVar(&f.deathDate, "death-date", "", "subject's date of death (YYYY-MM-DD)")
	fs.StringVar(&f.category, "category", "", "category name on the media repository")
	fs.StringVar(&f.caption, "caption", "", "caption used in the article")
	fs.StringVar(&f.license, "license", "", "license code, e.g. CC-BY-SA-4.0")
	fs.StringVar(&f.summary, "summary", "", "edit summary")
}

// overrides turns the flags that were set into Overrides. Unset flags stay
// nil so they do not clear earlier corrections.
func (f *overrideFlags) overrides(fs *pflag.FlagSet) (models.Overrides, error) {
	var o models.Overrides
	dates := []struct {
		flag  string
		value string
		dst   **models.Date
	}{
		{"capture-date", f.captureDate, &o.CaptureDate},
		{"birth-date", f.birthDate, &o.BirthDate},
		{"death-date", f.deathDate, &o.DeathDate},
	}
	for _, d := range dates {
		if !fs.Changed(d.flag) {
			continue
		}
		parsed, err := models.ParseDate(d.value)
		if err != nil {
			return models.Overrides{}, fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.dst = &parsed
	}
	texts := []struct {
		flag  string
		value string
		dst   **string
	}{
		{"category", f.category, &o.Category},
		{"caption", f.caption, &o.Caption},
		{"license", f.license, &o.License},
		{"summary", f.summary, &o.EditSummary},
	}
	for _, t := range texts {
		if fs.Changed(t.flag) {
			v := t.value
			*t.dst = &v
		}
	}
	if o.IsZero() {
		return o, errors.New("no overrides given")
	}
	return o, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
