// Package jobs is the surface the review front end talks to: submitting a
// donated image, reading back what the dry run found, correcting facts and
// approving the upload.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/store"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/telemetry"
)

// Conditions returned instead of a view while a job has nothing to review.
var (
	ErrNotStarted       = errors.New("job has not been started yet")
	ErrStillProcessing  = errors.New("job is still processing")
	ErrProcessingFailed = errors.New("job processing failed")
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotEditable  = errors.New("job can no longer be changed")
)

const defaultListLimit = 50

type Service struct {
	store store.SessionStore
	log   zerolog.Logger
}

func NewService(st store.SessionStore, log *zerolog.Logger) *Service {
	s := &Service{store: st, log: zerolog.Nop()}
	if log != nil {
		s.log = log.With().Str("component", "jobs").Logger()
	}
	return s
}

// SubmitJob queues a new job and returns its id.
func (s *Service) SubmitJob(ctx context.Context, fileName, subject, ownerID string) (string, error) {
	fileName = models.NormalizeFileName(fileName)
	subject = strings.TrimSpace(strings.ReplaceAll(subject, "_", " "))
	switch {
	case fileName == "":
		return "", fmt.Errorf("%w: file name is required", ErrInvalidInput)
	case subject == "":
		return "", fmt.Errorf("%w: subject is required", ErrInvalidInput)
	case ownerID == "":
		return "", fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	job, err := s.store.CreateJob(ctx, ownerID, subject, fileName)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsSubmitted.Inc()
	s.log.Info().Str("job_id", job.ID).Str("owner", ownerID).Str("subject", subject).Str("file", fileName).Msg("job submitted")
	return job.ID, nil
}

// Job returns the raw job row.
func (s *Service) Job(ctx context.Context, id string) (models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns the owner's most recent jobs, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	return s.store.ListJobs(ctx, ownerID, limit)
}

// GetJobView returns the job with its facts and, once uploaded, the
// confirmation text for the donor.
func (s *Service) GetJobView(ctx context.Context, id string) (models.JobView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return models.JobView{}, err
	}
	switch job.Status {
	case models.StatusPending:
		return models.JobView{}, ErrNotStarted
	case models.StatusProcessing:
		return models.JobView{}, ErrStillProcessing
	case models.StatusFailed:
		if job.LastError != nil {
			return models.JobView{}, fmt.Errorf("%w: %s", ErrProcessingFailed, *job.LastError)
		}
		return models.JobView{}, ErrProcessingFailed
	}

	facts, err := s.store.LoadFacts(ctx, id)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return models.JobView{}, fmt.Errorf("load facts: %w", err)
	}
	view := models.JobView{Job: job, Facts: facts}
	if job.Confirmation != nil {
		view.Confirmation = *job.Confirmation
	}
	return view, nil
}

// ApplyOverrides merges corrections into the job's overrides. A job that was
// already prepared goes back to pending so the dry run is repeated with the
// corrected facts before it can be approved.
func (s *Service) ApplyOverrides(ctx context.Context, id string, overrides models.Overrides) error {
	if overrides.IsZero() {
		return fmt.Errorf("%w: no overrides given", ErrInvalidInput)
	}
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.StatusPending, models.StatusCompleted:
	default:
		return fmt.Errorf("%w: status is %s", ErrNotEditable, job.Status)
	}

	if err := s.store.SaveOverrides(ctx, id, job.Overrides.Merge(overrides)); err != nil {
		return fmt.Errorf("save overrides: %w", err)
	}
	if job.Status == models.StatusCompleted {
		if err := s.store.Transition(ctx, id, models.StatusCompleted, models.StatusPending); err != nil {
			return fmt.Errorf("requeue after overrides: %w", err)
		}
	}
	if err := s.store.AppendAudit(ctx, id, "overrides", job.Status); err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Msg("audit overrides")
	}
	s.log.Info().Str("job_id", id).Msg("overrides applied")
	return nil
}

// Approve releases a reviewed job for the live upload.
func (s *Service) Approve(ctx context.Context, id string) error {
	if err := s.store.Transition(ctx, id, models.StatusCompleted, models.StatusReady); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return fmt.Errorf("%w: only completed jobs can be approved", ErrNotEditable)
		}
		return err
	}
	if err := s.store.AppendAudit(ctx, id, "approved", ""); err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Msg("audit approval")
	}
	s.log.Info().Str("job_id", id).Msg("job approved for upload")
	return nil
}
