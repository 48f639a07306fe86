package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/artifact"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/mediawiki"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/reconcile"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
)

// RunnerOptions carry the optional collaborators of a Runner.
type RunnerOptions struct {
	// Artifacts receives dry-run journals. Nil keeps them in memory only.
	Artifacts artifact.Store
	Previews  Previewer
	Review    reconcile.PublicDomainReview
	Engine    reconcile.Options
	Logger    *zerolog.Logger
}

// Runner executes one claimed job with a fresh engine and fresh clients, so
// nothing is shared between concurrently running jobs.
type Runner struct {
	store     store.SessionStore
	platforms PlatformFactory
	artifacts artifact.Store
	previews  Previewer
	engine    reconcile.Options
	log       zerolog.Logger
}

func NewRunner(st store.SessionStore, platforms PlatformFactory, opts RunnerOptions) *Runner {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	engine := opts.Engine
	if opts.Review != nil {
		engine.PublicDomainReview = opts.Review
	}
	return &Runner{
		store:     st,
		platforms: platforms,
		artifacts: opts.Artifacts,
		previews:  opts.Previews,
		engine:    engine,
		log:       log,
	}
}

// Run reconciles job and returns the status it should end in. The prepare
// path simulates every write; the upload path performs them.
func (r *Runner) Run(ctx context.Context, job models.Job) (string, error) {
	if job.Kind() == models.KindUpload {
		return r.upload(ctx, job)
	}
	return r.prepare(ctx, job)
}

func (r *Runner) prepare(ctx context.Context, job models.Job) (string, error) {
	log := r.jobLogger(job, models.KindPrepare)
	engine := r.newEngine(job, r.journal(job), &log)
	engine.SetDryRun(true)

	if err := engine.Prepare(ctx, job.Overrides); err != nil {
		return models.StatusFailed, fmt.Errorf("prepare: %w", err)
	}
	report, runErr := engine.Run(ctx)

	facts := engine.Facts()
	if r.previews != nil && facts.MediaURL != "" {
		loc, err := r.previews.Render(ctx, job.ID, facts.MediaURL)
		if err != nil {
			log.Warn().Err(err).Msg("preview not rendered")
		} else {
			facts.PreviewLocation = loc
		}
	}
	if err := r.store.PersistFacts(ctx, job.ID, facts); err != nil {
		return models.StatusFailed, fmt.Errorf("persist facts: %w", err)
	}
	r.audit(ctx, job.ID, report, &log)

	log.Info().Int("planned_mutations", facts.PlannedMutations).Bool("failed", report.Failed).Msg("dry run finished")
	return outcome(report, runErr, models.StatusCompleted, models.StatusFailed)
}

func (r *Runner) upload(ctx context.Context, job models.Job) (string, error) {
	log := r.jobLogger(job, models.KindUpload)
	engine := r.newEngine(job, nil, &log)
	engine.SetDryRun(false)

	if err := engine.Prepare(ctx, job.Overrides); err != nil {
		return models.StatusUploadFail, fmt.Errorf("prepare: %w", err)
	}
	report, runErr := engine.Run(ctx)

	if err := r.store.PersistFacts(ctx, job.ID, engine.Facts()); err != nil {
		log.Error().Err(err).Msg("persist facts")
	}
	r.audit(ctx, job.ID, report, &log)

	status, err := outcome(report, runErr, models.StatusUploaded, models.StatusUploadFail)
	if err != nil {
		return status, err
	}
	if err := r.store.SaveConfirmation(ctx, job.ID, report.Confirmation); err != nil {
		return models.StatusUploadFail, fmt.Errorf("save confirmation: %w", err)
	}
	log.Info().Int("writes", report.Writes).Msg("upload finished")
	return status, nil
}

func (r *Runner) newEngine(job models.Job, sink mediawiki.Sink, log *zerolog.Logger) *reconcile.Engine {
	opts := r.engine
	opts.Logger = log
	subject := reconcile.Subject{JobID: job.ID, Title: job.Subject, FileName: job.FileName}
	return reconcile.New(subject, r.platforms.Platforms(job, sink, log), opts)
}

func (r *Runner) journal(job models.Job) mediawiki.Sink {
	if r.artifacts == nil {
		return &mediawiki.MemorySink{}
	}
	return &mediawiki.JournalSink{Store: r.artifacts, Prefix: "journals/" + job.ID}
}

func (r *Runner) jobLogger(job models.Job, kind string) zerolog.Logger {
	return r.log.With().
		Str("job_id", job.ID).
		Str("kind", kind).
		Str("subject", job.Subject).
		Str("file", job.FileName).
		Logger()
}

func (r *Runner) audit(ctx context.Context, jobID string, report reconcile.Report, log *zerolog.Logger) {
	raw, err := json.Marshal(report.Steps)
	if err != nil {
		return
	}
	if err := r.store.AppendAudit(ctx, jobID, "report", string(raw)); err != nil {
		log.Warn().Err(err).Msg("audit report")
	}
}

func outcome(report reconcile.Report, runErr error, ok, failed string) (string, error) {
	if runErr != nil {
		return failed, runErr
	}
	if report.Failed {
		return failed, errors.New(report.FailureSummary())
	}
	return ok, nil
}
