// Package worker discovers claimable jobs and runs each one in its own
// goroutine.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/config"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/telemetry"
)

const finishTimeout = 10 * time.Second

// JobRunner executes a claimed job and returns the status to record.
type JobRunner interface {
	Run(ctx context.Context, job models.Job) (string, error)
}

// Dispatcher drives the polling loop: release stale locks, claim new and
// approved jobs, start one worker per job.
type Dispatcher struct {
	cfg    config.Config
	store  store.SessionStore
	runner JobRunner
	log    zerolog.Logger

	wg sync.WaitGroup
}

func NewDispatcher(cfg config.Config, st store.SessionStore, runner JobRunner, log *zerolog.Logger) *Dispatcher {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Second
	}
	if cfg.StaleLockThreshold <= 0 {
		cfg.StaleLockThreshold = store.StaleLockThreshold
	}
	d := &Dispatcher{cfg: cfg, store: st, runner: runner, log: zerolog.Nop()}
	if log != nil {
		d.log = log.With().Str("component", "dispatcher").Logger()
	}
	return d
}

// Run ticks until ctx is cancelled, then waits for running workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		if _, err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			d.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until every started worker has recorded its final status.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Tick performs one dispatch round and returns the number of workers started.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	released, err := d.store.ReleaseStaleLocks(ctx, d.cfg.StaleLockThreshold)
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	if released > 0 {
		telemetry.StaleLocksRelease.Add(float64(released))
		d.log.Warn().Int64("released", released).Msg("stale locks released")
	}

	started := 0
	claims := []struct {
		kind  string
		claim func(context.Context, int) ([]models.Job, error)
	}{
		{models.KindPrepare, d.store.ClaimPending},
		{models.KindUpload, d.store.ClaimReady},
	}
	for _, c := range claims {
		jobs, err := c.claim(ctx, d.cfg.ClaimBatchSize)
		if err != nil {
			return started, fmt.Errorf("claim %s jobs: %w", c.kind, err)
		}
		if len(jobs) > 0 {
			telemetry.JobsClaimed.WithLabelValues(c.kind).Add(float64(len(jobs)))
		}
		for _, job := range jobs {
			d.wg.Add(1)
			go d.work(ctx, job)
			started++
		}
	}
	return started, nil
}

func (d *Dispatcher) work(ctx context.Context, job models.Job) {
	defer d.wg.Done()
	kind := job.Kind()
	log := d.log.With().Str("job_id", job.ID).Str("kind", kind).Logger()

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	stop := d.heartbeat(ctx, job.ID, &log)
	status, runErr := failureStatus(kind), error(nil)
	defer func() {
		stop()
		if r := recover(); r != nil {
			status, runErr = failureStatus(kind), fmt.Errorf("worker panic: %v", r)
		}
		d.finish(ctx, job, kind, status, runErr, &log)
	}()

	log.Info().Msg("job started")
	status, runErr = d.runner.Run(ctx, job)
}

// heartbeat keeps the job's lock fresh so a slow but alive worker is not
// mistaken for a crashed one.
func (d *Dispatcher) heartbeat(ctx context.Context, jobID string, log *zerolog.Logger) func() {
	if d.cfg.LockHeartbeat <= 0 {
		return func() {}
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(d.cfg.LockHeartbeat)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := d.store.TouchLock(hbCtx, jobID); err != nil && hbCtx.Err() == nil {
					log.Warn().Err(err).Msg("lock heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// finish records the final status and releases the lock. A job that failed
// while the dispatcher was shutting down goes back to its claimable status,
// since every step is safe to repeat.
func (d *Dispatcher) finish(ctx context.Context, job models.Job, kind, status string, runErr error, log *zerolog.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr != nil && ctx.Err() != nil {
		back := claimableStatus(kind)
		if err := d.store.SetStatus(wctx, job.ID, back, nil); err != nil {
			log.Error().Err(err).Msg("release interrupted job")
			return
		}
		_ = d.store.AppendAudit(wctx, job.ID, "interrupted", "returned to "+back)
		log.Warn().Str("status", back).Msg("job interrupted by shutdown")
		return
	}

	if !validFinal(kind, status) {
		if runErr == nil {
			runErr = fmt.Errorf("runner returned unexpected status %q", status)
		}
		status = failureStatus(kind)
	}
	var lastErr *string
	detail := ""
	if runErr != nil {
		msg := runErr.Error()
		lastErr, detail = &msg, msg
	}
	if err := d.store.SetStatus(wctx, job.ID, status, lastErr); err != nil {
		log.Error().Err(err).Str("status", status).Msg("record final status")
		return
	}
	if err := d.store.AppendAudit(wctx, job.ID, status, detail); err != nil {
		log.Warn().Err(err).Msg("audit final status")
	}
	telemetry.JobsFinished.WithLabelValues(kind, status).Inc()

	if runErr != nil {
		log.Error().Err(runErr).Str("status", status).Msg("job failed")
		return
	}
	log.Info().Str("status", status).Msg("job finished")
}

func failureStatus(kind string) string {
	if kind == models.KindUpload {
		return models.StatusUploadFail
	}
	return models.StatusFailed
}

func claimableStatus(kind string) string {
	if kind == models.KindUpload {
		return models.StatusReady
	}
	return models.StatusPending
}

func validFinal(kind, status string) bool {
	if kind == models.KindUpload {
		return status == models.StatusUploaded || status == models.StatusUploadFail
	}
	return status == models.StatusCompleted || status == models.StatusFailed
}
