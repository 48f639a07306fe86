package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/api"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/jobs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/logging"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/ratelimit"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.New(cfg, "api")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	limiter := ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, jobs.NewService(st, log), limiter, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("port", cfg.HTTPPort).Bool("jwt", cfg.JWTSecret != "").Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
