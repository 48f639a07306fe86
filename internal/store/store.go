// Package store persists jobs, their discovered facts and an audit trail.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

// StaleLockThreshold is how long a lock may go without a touch before the
// dispatcher assumes its worker died.
const StaleLockThreshold = time.Minute

var (
	// ErrJobLocked is returned when a change needs the job to be idle.
	ErrJobLocked = errors.New("job is locked by a worker")
	// ErrStatusConflict is returned by Transition when the job is not in
	// the expected status.
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// SessionStore is the persistence contract shared by the dispatcher, the
// job service and the API.
//
// ClaimPending and ClaimReady must be atomic: a job is handed to exactly one
// caller even when several dispatchers poll at once.
type SessionStore interface {
	CreateJob(ctx context.Context, ownerID, subject, fileName string) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobs(ctx context.Context, ownerID string, limit int) ([]models.Job, error)

	ClaimPending(ctx context.Context, limit int) ([]models.Job, error)
	ClaimReady(ctx context.Context, limit int) ([]models.Job, error)
	TouchLock(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id, status string, lastError *string) error
	Transition(ctx context.Context, id, from, to string) error
	ReleaseStaleLocks(ctx context.Context, threshold time.Duration) (int64, error)

	PersistFacts(ctx context.Context, id string, facts models.Facts) error
	LoadFacts(ctx context.Context, id string) (models.Facts, error)
	SaveOverrides(ctx context.Context, id string, overrides models.Overrides) error
	SaveConfirmation(ctx context.Context, id, text string) error

	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// claimTarget maps a claimable status to its in-progress status.
var claimTarget = map[string]string{
	models.StatusPending: models.StatusProcessing,
	models.StatusReady:   models.StatusUploading,
}

// releaseTarget maps an in-progress status back to its claimable status.
var releaseTarget = map[string]string{
	models.StatusProcessing: models.StatusPending,
	models.StatusUploading:  models.StatusReady,
}
