package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/errs"
	"github.com/Daniuu-Wikipedia/Wikiportrait-Bot/internal/models"
)

const jobColumns = `id, owner_id, subject, file_name, status, locked, locked_at, overrides, last_error, confirmation, created_at, updated_at`

// Postgres wraps pgxpool for job persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ SessionStore = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health probes.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJob inserts a pending job and its submission audit row in one
// transaction.
func (s *Postgres) CreateJob(ctx context.Context, ownerID, subject, fileName string) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, owner_id, subject, file_name, status, locked, overrides, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, '{}'::jsonb, $6, $6)
	`, id, ownerID, subject, fileName, models.StatusPending, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts) VALUES ($1, 'submitted', $2, $3)
	`, id, "owner="+ownerID, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert audit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:        id,
		OwnerID:   ownerID,
		Subject:   subject,
		FileName:  fileName,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, errs.NewNotFoundError("job", id)
	}
	return job, err
}

// ListJobs returns an owner's most recent jobs, newest first.
func (s *Postgres) ListJobs(ctx context.Context, ownerID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ClaimPending locks up to limit pending jobs and moves them to processing.
func (s *Postgres) ClaimPending(ctx context.Context, limit int) ([]models.Job, error) {
	return s.claim(ctx, models.StatusPending, limit)
}

// ClaimReady locks up to limit approved jobs and moves them to uploading.
func (s *Postgres) ClaimReady(ctx context.Context, limit int) ([]models.Job, error) {
	return s.claim(ctx, models.StatusReady, limit)
}

// claim relies on FOR UPDATE SKIP LOCKED so concurrent dispatchers never
// select the same row.
func (s *Postgres) claim(ctx context.Context, from string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs
		SET status = $2, locked = TRUE, locked_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = $1 AND NOT locked
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, from, claimTarget[from], limit)
	if err != nil {
		return nil, fmt.Errorf("claim %s jobs: %w", from, err)
	}
	return collectJobs(rows)
}

// TouchLock refreshes the lock timestamp of a running job.
func (s *Postgres) TouchLock(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET locked_at = NOW() WHERE id = $1 AND locked`, id)
	return err
}

// SetStatus records a final status and releases the lock.
func (s *Postgres) SetStatus(ctx context.Context, id, status string, lastError *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, locked = FALSE, locked_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NewNotFoundError("job", id)
	}
	return nil
}

// Transition moves an idle job from one status to another.
func (s *Postgres) Transition(ctx context.Context, id, from, to string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $3, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND NOT locked
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("transition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrStatusConflict
	}
	return nil
}

// ReleaseStaleLocks unlocks jobs whose lock is older than threshold and puts
// in-progress jobs back into their claimable status.
func (s *Postgres) ReleaseStaleLocks(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET locked = FALSE,
		    locked_at = NULL,
		    status = CASE status WHEN $2::text THEN $3::text WHEN $4::text THEN $5::text ELSE status END,
		    updated_at = NOW()
		WHERE locked AND locked_at < $1
	`, cutoff,
		models.StatusProcessing, releaseTarget[models.StatusProcessing],
		models.StatusUploading, releaseTarget[models.StatusUploading])
	if err != nil {
		return 0, fmt.Errorf("release stale locks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PersistFacts stores the latest facts for a job, replacing older ones.
func (s *Postgres) PersistFacts(ctx context.Context, id string, facts models.Facts) error {
	raw, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_facts (job_id, facts, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (job_id) DO UPDATE SET facts = EXCLUDED.facts, updated_at = EXCLUDED.updated_at
	`, id, raw)
	if err != nil {
		return fmt.Errorf("persist facts: %w", err)
	}
	return nil
}

// LoadFacts returns the facts last persisted for a job.
func (s *Postgres) LoadFacts(ctx context.Context, id string) (models.Facts, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT facts FROM job_facts WHERE job_id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Facts{}, errs.NewNotFoundError("facts", id)
	}
	if err != nil {
		return models.Facts{}, fmt.Errorf("load facts: %w", err)
	}
	var f models.Facts
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.Facts{}, fmt.Errorf("unmarshal facts: %w", err)
	}
	return f, nil
}

// SaveOverrides replaces a job's overrides. It refuses while a worker holds
// the job.
func (s *Postgres) SaveOverrides(ctx context.Context, id string, overrides models.Overrides) error {
	raw, err := json.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET overrides = $2, updated_at = NOW() WHERE id = $1 AND NOT locked
	`, id, raw)
	if err != nil {
		return fmt.Errorf("save overrides: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobLocked
	}
	return nil
}

// SaveConfirmation stores the donor confirmation text of an uploaded job.
func (s *Postgres) SaveConfirmation(ctx context.Context, id, text string) error {
	_, err := s.pool.Exec(ctx, `UPDATE jobs SET confirmation = $2, updated_at = NOW() WHERE id = $1`, id, text)
	return err
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		job          models.Job
		lockedAt     pgtype.Timestamptz
		overrides    []byte
		lastErr      pgtype.Text
		confirmation pgtype.Text
	)
	err := row.Scan(&job.ID, &job.OwnerID, &job.Subject, &job.FileName, &job.Status, &job.Locked,
		&lockedAt, &overrides, &lastErr, &confirmation, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		job.LockedAt = &t
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &job.Overrides); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}
	job.LastError = textPtr(lastErr)
	job.Confirmation = textPtr(confirmation)
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
