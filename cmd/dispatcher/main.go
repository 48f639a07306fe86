package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/artifact"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/logging"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/reconcile"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/telemetry"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg, "dispatcher")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	credential, err := cfg.Credential()
	if err != nil {
		log.Fatal().Err(err).Msg("bot credential")
	}
	if credential == "" {
		log.Warn().Msg("no bot credential configured, live uploads will be rejected")
	}

	var rdb *redis.Client
	if cfg.SharedBudget() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("connect redis for shared edit budget")
		}
	}

	arts, err := artifact.New(ctx, cfg.ArtifactDir, artifact.S3Config{
		Bucket:    cfg.ArtifactS3Bucket,
		Region:    cfg.ArtifactS3Region,
		Endpoint:  cfg.ArtifactS3Endpoint,
		PathStyle: cfg.ArtifactS3PathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init artifact store")
	}

	runner := worker.NewRunner(st, worker.NewClientFactory(cfg, credential, rdb), worker.RunnerOptions{
		Artifacts: arts,
		Previews:  worker.NewPreviewRenderer(arts, cfg.PreviewWidth, cfg.PreviewMaxBytes, cfg.HTTPTimeout, cfg.UserAgent),
		Engine: reconcile.Options{
			ArticleSite: cfg.ArticleSite,
			ArticleHost: cfg.ArticleHost,
			MediaHost:   cfg.MediaHost,
		},
		Logger: log,
	})
	dispatcher := worker.NewDispatcher(cfg, st, runner, log)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Dur("interval", cfg.DispatchInterval).
		Int("edit_budget", cfg.EditBudget).
		Str("budget_scope", cfg.EditBudgetScope).
		Msg("dispatcher started")
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatcher stopped")
		os.Exit(1)
	}
	log.Info().Msg("dispatcher stopped")
}
