package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/reconcile"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/worker"
)

func (a *app) runCmd() *cobra.Command {
	var (
		file, subject string
		dryRun        bool
		askPD         bool
	)
	f := &overrideFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile one image directly",
		Long: `run prepares and reconciles a single image without going through the
job queue. It is a dry run unless --dry-run=false is given; the planned
writes are printed instead of sent.`,
		Example: `  portretctl run --file "Jan Jansen 2019.jpg" --subject "Jan Jansen"
  portretctl run --file "Jan Jansen 2019.jpg" --subject "Jan Jansen" --dry-run=false`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var overrides models.Overrides
			if anyChanged(cmd, "capture-date", "birth-date", "death-date", "category", "caption", "license", "summary") {
				var err error
				if overrides, err = f.overrides(cmd.Flags()); err != nil {
					return err
				}
			}
			credential, err := a.cfg.Credential()
			if err != nil {
				return err
			}
			if !dryRun && credential == "" {
				return errors.New("a bot credential is required for a live run")
			}

			opts := reconcile.Options{
				Logger:      a.log,
				ArticleSite: a.cfg.ArticleSite,
				ArticleHost: a.cfg.ArticleHost,
				MediaHost:   a.cfg.MediaHost,
			}
			if askPD {
				opts.PublicDomainReview = promptReview(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			job := models.Job{ID: uuid.NewString(), Subject: subject, FileName: file}
			journal := &mediawiki.MemorySink{}
			platforms := worker.NewClientFactory(a.cfg, credential, nil).Platforms(job, journal, a.log)
			engine := reconcile.New(reconcile.Subject{JobID: job.ID, Title: subject, FileName: file}, platforms, opts)
			engine.SetDryRun(dryRun)

			if err := engine.Prepare(cmd.Context(), overrides); err != nil {
				return err
			}
			report, runErr := engine.Run(cmd.Context())
			printReport(cmd.OutOrStdout(), report, journal.Mutations())
			if runErr != nil {
				return runErr
			}
			if report.Failed {
				return errors.New(report.FailureSummary())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "file name on the media repository")
	cmd.Flags().StringVar(&subject, "subject", "", "article title of the person depicted")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "record writes instead of sending them")
	cmd.Flags().BoolVar(&askPD, "review-pd", false, "ask before marking a public domain file as copyrighted")
	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func anyChanged(cmd *cobra.Command, names ...string) bool {
	for _, n := range names {
		if cmd.Flags().Changed(n) {
			return true
		}
	}
	return false
}

// promptReview asks the operator on the terminal. Anything but "y" or
// "yes" leaves the copyright status unset.
func promptReview(in io.Reader, out io.Writer) reconcile.PublicDomainReview {
	reader := bufio.NewReader(in)
	return func(_ context.Context, subject reconcile.Subject, text string) (bool, error) {
		fmt.Fprintf(out, "The description of %s mentions public domain:\n\n%s\n\nIs the file copyrighted? [y/N] ", subject.FileName, text)
		answer, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes", "j", "ja":
			return true, nil
		}
		return false, nil
	}
}

func printReport(w io.Writer, report reconcile.Report, planned []mediawiki.Mutation) {
	for _, s := range report.Steps {
		line := fmt.Sprintf("%-22s %s", s.Step, s.Outcome)
		if s.Detail != "" {
			line += "  " + s.Detail
		}
		fmt.Fprintln(w, line)
	}
	if len(planned) > 0 {
		fmt.Fprintf(w, "\n%d planned writes:\n", len(planned))
		for i, m := range planned {
			fmt.Fprintf(w, "%3d  %-9s %-14s %s\n", i+1, m.Platform, m.Action, describe(m.Params))
		}
	}
	fmt.Fprintf(w, "\nwrites: %d\n", report.Writes)
	if report.Confirmation != "" {
		fmt.Fprintf(w, "\n%s\n", report.Confirmation)
	}
}

func describe(p mediawiki.Params) string {
	for _, key := range []string{"title", "titles", "entity", "id", "claim", "url"} {
		if v := p[key]; v != "" {
			if prop := p["property"]; prop != "" {
				return v + " " + prop
			}
			return v
		}
	}
	return ""
}
