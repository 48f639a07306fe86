// Package errs defines the failure taxonomy shared by the platform clients,
// the reconciliation engine and the dispatcher. Policy decisions are made with
// errors.Is against the sentinels below, never by string matching.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport indicates the network request itself failed. Callers may retry.
	ErrTransport = errors.New("transport failure")

	// ErrToken indicates a write token could not be obtained.
	ErrToken = errors.New("write token unavailable")

	// ErrOverload indicates the platform asked clients to back off (maxlag).
	// The current job must stop.
	ErrOverload = errors.New("platform overloaded")

	// ErrNotFound indicates an expected remote object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDataQuality indicates derived facts are inconsistent. Only the
	// offending step is skipped.
	ErrDataQuality = errors.New("data quality warning")

	// ErrDuplicateState indicates the remote already holds a conflicting value.
	ErrDuplicateState = errors.New("duplicate state")

	// ErrDisambiguation indicates the target article is a disambiguation page.
	ErrDisambiguation = errors.New("disambiguation page")

	// ErrAPI indicates the platform returned an error object.
	ErrAPI = errors.New("api error")
)

// TransportError wraps a failed HTTP round trip or an undecodable response.
type TransportError struct {
	Platform string
	Action   string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Platform, e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// TokenError is returned after the token fetch was retried and still failed.
type TokenError struct {
	Platform string
	Attempts int
	Err      error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: no csrf token after %d attempts: %v", e.Platform, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: no csrf token after %d attempts", e.Platform, e.Attempts)
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool { return target == ErrToken }

// OverloadError reports a maxlag (or HTTP 503) response.
type OverloadError struct {
	Platform string
	Info     string
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("%s overloaded: %s", e.Platform, e.Info)
}

func (e *OverloadError) Is(target error) bool { return target == ErrOverload }

// APIError is any other error object returned by the platform.
type APIError struct {
	Platform string
	Code     string
	Info     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %s: %s", e.Platform, e.Code, e.Info)
}

func (e *APIError) Is(target error) bool { return target == ErrAPI }

// HasCode reports whether err is an APIError carrying the given code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NotFoundError represents a missing remote object.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// DataQualityWarning aborts one step without failing the job.
type DataQualityWarning struct {
	Step    string
	Message string
}

func (e *DataQualityWarning) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func (e *DataQualityWarning) Is(target error) bool { return target == ErrDataQuality }

// DuplicateStateError means the remote holds a different value than the one
// the step would write. It is surfaced to the operator instead of overwritten.
type DuplicateStateError struct {
	Step     string
	Existing string
	Wanted   string
}

func (e *DuplicateStateError) Error() string {
	return fmt.Sprintf("%s: already holds %q, refusing to add %q", e.Step, e.Existing, e.Wanted)
}

func (e *DuplicateStateError) Is(target error) bool { return target == ErrDuplicateState }

// DisambiguationError aborts the whole job.
type DisambiguationError struct {
	Title string
}

func (e *DisambiguationError) Error() string {
	return fmt.Sprintf("%q is a disambiguation page", e.Title)
}

func (e *DisambiguationError) Is(target error) bool { return target == ErrDisambiguation }

// Fatal reports whether err must stop the whole job rather than one step.
func Fatal(err error) bool {
	return errors.Is(err, ErrOverload) || errors.Is(err, ErrToken) || errors.Is(err, ErrDisambiguation)
}
