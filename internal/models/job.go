package models

import (
	"regexp"
	"strings"
	"time"
)

// Job lifecycle states persisted in Postgres.
//
// The prepare path runs pending -> processing -> completed | failed.
// The upload path runs ready -> uploading -> up | ufail.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusReady      = "ready"
	StatusUploading  = "uploading"
	StatusUploaded   = "up"
	StatusUploadFail = "ufail"
)

// Job kinds, derived from the status a job was claimed in.
const (
	KindPrepare = "prepare"
	KindUpload  = "upload"
)

// Job is one request to reconcile a single donated image with its subject.
type Job struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Subject      string     `json:"subject"`
	FileName     string     `json:"file_name"`
	Status       string     `json:"status"`
	Locked       bool       `json:"locked"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	Overrides    Overrides  `json:"overrides"`
	LastError    *string    `json:"last_error,omitempty"`
	Confirmation *string    `json:"confirmation,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Kind reports which worker path handles the job in its current status.
func (j Job) Kind() string {
	switch j.Status {
	case StatusReady, StatusUploading, StatusUploaded, StatusUploadFail:
		return KindUpload
	default:
		return KindPrepare
	}
}

// Terminal reports whether no worker will pick the job up again.
func (j Job) Terminal() bool {
	switch j.Status {
	case StatusFailed, StatusUploaded, StatusUploadFail:
		return true
	}
	return false
}

var disambiguator = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

// DisplayName is the subject's article title without a trailing
// parenthetical disambiguator, e.g. "Jan Jansen (voetballer)" -> "Jan Jansen".
func (j Job) DisplayName() string {
	return DisplayName(j.Subject)
}

// DisplayName strips a trailing "(...)" from an article title.
func DisplayName(title string) string {
	name := strings.TrimSpace(disambiguator.ReplaceAllString(title, ""))
	if name == "" {
		return strings.TrimSpace(title)
	}
	return name
}

// NormalizeFileName strips a namespace prefix and converts underscores to spaces.
func NormalizeFileName(name string) string {
	name = strings.TrimSpace(name)
	for _, prefix := range []string{"File:", "Bestand:", "file:", "bestand:"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

// JobView is what the front end shows an operator for a prepared job.
type JobView struct {
	Job          Job    `json:"job"`
	Facts        Facts  `json:"facts"`
	Confirmation string `json:"confirmation,omitempty"`
}
