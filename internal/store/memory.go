package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

// Memory is an in-process SessionStore. A single mutex makes every claim
// atomic, which is all the dispatcher needs.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	facts map[string]models.Facts
	audit []models.AuditLog
	now   func() time.Time
}

var _ SessionStore = (*Memory)(nil)

// NewMemory returns an empty store. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		jobs:  map[string]*models.Job{},
		facts: map[string]models.Facts{},
		now:   now,
	}
}

func (m *Memory) CreateJob(_ context.Context, ownerID, subject, fileName string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	job := &models.Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Subject:   subject,
		FileName:  fileName,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	m.appendAudit(job.ID, "submitted", "owner="+ownerID)
	return *job, nil
}

func (m *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, errs.NewNotFoundError("job", id)
	}
	return *job, nil
}

func (m *Memory) ListJobs(_ context.Context, ownerID string, limit int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimPending(ctx context.Context, limit int) ([]models.Job, error) {
	return m.claim(models.StatusPending, limit)
}

func (m *Memory) ClaimReady(ctx context.Context, limit int) ([]models.Job, error) {
	return m.claim(models.StatusReady, limit)
}

func (m *Memory) claim(from string, limit int) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*models.Job
	for _, job := range m.jobs {
		if job.Status == from && !job.Locked {
			candidates = append(candidates, job)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	now := m.now().UTC()
	out := make([]models.Job, 0, len(candidates))
	for _, job := range candidates {
		job.Status = claimTarget[from]
		job.Locked = true
		job.LockedAt = &now
		job.UpdatedAt = now
		out = append(out, *job)
	}
	return out, nil
}

func (m *Memory) TouchLock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Locked {
		now := m.now().UTC()
		job.LockedAt = &now
	}
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id, status string, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.NewNotFoundError("job", id)
	}
	job.Status = status
	job.LastError = lastError
	job.Locked = false
	job.LockedAt = nil
	job.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Transition(_ context.Context, id, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.NewNotFoundError("job", id)
	}
	if job.Status != from || job.Locked {
		return ErrStatusConflict
	}
	job.Status = to
	job.LastError = nil
	job.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) ReleaseStaleLocks(_ context.Context, threshold time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().UTC().Add(-threshold)
	var n int64
	for _, job := range m.jobs {
		if !job.Locked || job.LockedAt == nil || !job.LockedAt.Before(cutoff) {
			continue
		}
		job.Locked = false
		job.LockedAt = nil
		if back, ok := releaseTarget[job.Status]; ok {
			job.Status = back
		}
		job.UpdatedAt = m.now().UTC()
		n++
	}
	return n, nil
}

func (m *Memory) PersistFacts(_ context.Context, id string, facts models.Facts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return errs.NewNotFoundError("job", id)
	}
	m.facts[id] = facts
	return nil
}

func (m *Memory) LoadFacts(_ context.Context, id string) (models.Facts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return models.Facts{}, errs.NewNotFoundError("facts", id)
	}
	return f, nil
}

func (m *Memory) SaveOverrides(_ context.Context, id string, overrides models.Overrides) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.NewNotFoundError("job", id)
	}
	if job.Locked {
		return ErrJobLocked
	}
	job.Overrides = overrides
	job.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) SaveConfirmation(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return errs.NewNotFoundError("job", id)
	}
	job.Confirmation = &text
	return nil
}

func (m *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAudit(jobID, event, detail)
	return nil
}

func (m *Memory) appendAudit(jobID, event, detail string) {
	m.audit = append(m.audit, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: m.now().UTC()})
}

// Audit returns the audit rows recorded for a job, oldest first.
func (m *Memory) Audit(jobID string) []models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, a := range m.audit {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out
}
