package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/jobs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/logging"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
)

// app is the state shared by every subcommand once the root has run.
type app struct {
	envFile string
	verbose bool

	cfg config.Config
	log *zerolog.Logger
	pg  *store.Postgres
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "portretctl",
		Short: "Operate the Wikiportret bot",
		Long: `portretctl submits Wikiportret jobs, shows what the dry run found,
applies corrections and approves uploads. The run command reconciles a
single image directly and is dry by default.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.pg != nil {
				a.pg.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		a.submitCmd(),
		a.viewCmd(),
		a.listCmd(),
		a.overrideCmd(),
		a.approveCmd(),
		a.runCmd(),
	)
	return root
}

func (a *app) setup() error {
	if a.envFile != "" {
		_ = godotenv.Load(a.envFile)
	}
	a.cfg = config.Load()
	if a.verbose {
		a.cfg.LogLevel = "debug"
	}
	if a.cfg.LogFormat == "json" {
		a.cfg.LogFormat = "console"
	}
	a.log = logging.New(a.cfg, "portretctl")
	return nil
}

// service connects to Postgres on first use so that run works without a
// database.
func (a *app) service(cmd *cobra.Command) (*jobs.Service, error) {
	if a.pg == nil {
		pg, err := store.NewPostgres(cmd.Context(), a.cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.RunMigrations(cmd.Context()); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.pg = pg
	}
	return jobs.NewService(a.pg, a.log), nil
}
