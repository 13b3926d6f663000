package shared

import (
	"fmt"
	"strings"
	"time"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNoRootFolder       = fmt.Errorf("no root folder configured in whisparr")
	ErrMovieNotFound      = fmt.Errorf("movie not found after creation")
	ErrSceneInFlight      = fmt.Errorf("scene is already being synced")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")

	// Ledger errors
	ErrNotFound = fmt.Errorf("record not found")
)

// TransportError is returned for non-2xx responses and for network failures that
// survived the retry budget. StatusCode is 0 when no response was received.
type TransportError struct {
	Method      string
	URL         string
	StatusCode  int
	BodyPreview string
	Err         error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: request failed: %v", e.Method, e.URL, e.Err)
	}
	if e.BodyPreview == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.BodyPreview)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying for a read: a
// network error or a 502, 503 or 504 response.
func (e *TransportError) Transient() bool {
	switch e.StatusCode {
	case 0, 502, 503, 504:
		return true
	}
	return false
}

// SceneNotFoundError is returned when the catalog has no scene with the given id.
type SceneNotFoundError struct {
	SceneID string
}

func (e *SceneNotFoundError) Error() string {
	return fmt.Sprintf("scene %s not found", e.SceneID)
}

// ValidationError reports a malformed catalog payload.
type ValidationError struct {
	SceneID string
	Fields  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scene %s: invalid catalog payload: %s", e.SceneID, strings.Join(e.Fields, "; "))
}

// WhisparrError is returned when the target rejects a write or cannot satisfy
// movie resolution.
type WhisparrError struct {
	Op  string
	Err error
}

func (e *WhisparrError) Error() string {
	return fmt.Sprintf("whisparr %s: %v", e.Op, e.Err)
}

func (e *WhisparrError) Unwrap() error { return e.Err }

// ManualImportError is returned when the target rejects an import command.
type ManualImportError struct {
	Path    string
	MovieID int
	Err     error
}

func (e *ManualImportError) Error() string {
	return fmt.Sprintf("manual import of %s into movie %d: %v", e.Path, e.MovieID, e.Err)
}

func (e *ManualImportError) Unwrap() error { return e.Err }

// FileOperationError covers move preconditions and I/O failures.
type FileOperationError struct {
	Op          string
	Source      string
	Destination string
	Err         error
}

func (e *FileOperationError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Source, e.Destination, e.Err)
}

func (e *FileOperationError) Unwrap() error { return e.Err }

// CommandTimeoutError is returned when a remote command does not reach a
// terminal status before the polling deadline.
type CommandTimeoutError struct {
	CommandID  int
	Name       string
	LastStatus string
	Timeout    time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %s (%d) still %s after %s", e.Name, e.CommandID, e.LastStatus, e.Timeout)
}

// CommandFailedError is returned when a remote command ends in a failed state.
type CommandFailedError struct {
	CommandID int
	Name      string
	Status    string
	Message   string
}

func (e *CommandFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command %s (%d) ended %s", e.Name, e.CommandID, e.Status)
	}
	return fmt.Sprintf("command %s (%d) ended %s: %s", e.Name, e.CommandID, e.Status, e.Message)
}
