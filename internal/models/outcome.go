package models

import (
	"fmt"
	"time"
)

// SyncState is the overall result of processing one scene.
type SyncState int

const (
	Skipped SyncState = iota
	Succeeded
	Failed
)

func (s SyncState) String() string {
	switch s {
	case Skipped:
		return "skipped"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return ""
	}
}

// ParseSyncState is the inverse of [SyncState.String].
func ParseSyncState(s string) (SyncState, bool) {
	switch s {
	case "skipped":
		return Skipped, true
	case "succeeded":
		return Succeeded, true
	case "failed":
		return Failed, true
	}
	return Failed, false
}

func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SyncState) UnmarshalText(b []byte) error {
	v, ok := ParseSyncState(string(b))
	if !ok {
		return fmt.Errorf("unknown sync state %q", b)
	}
	*s = v
	return nil
}

// Reasons attached to skipped or failed outcomes.
const (
	ReasonNoSharedKey     = "no-id"
	ReasonIgnoredTag      = "ignored-tag"
	ReasonSceneFetch      = "scene-fetch"
	ReasonMovieResolution = "movie-resolution"
)

// SceneLevel is the File value of an error that is not tied to a single file.
const SceneLevel = ""

// FileError is a recorded failure. File is [SceneLevel] for scene-wide errors.
type FileError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// FileResult records what happened to one file.
type FileResult struct {
	CatalogPath     string `json:"catalog_path"`
	ResolvedPath    string `json:"resolved_path"`
	Moved           bool   `json:"moved"`
	InPlace         bool   `json:"in_place"`
	AlreadyImported bool   `json:"already_imported"`
	Imported        bool   `json:"imported"`
	Renamed         bool   `json:"renamed"`
	Error           string `json:"error,omitempty"`
}

// SyncOutcome is the tagged result of a scene sync.
type SyncOutcome struct {
	SceneID        string       `json:"scene_id"`
	State          SyncState    `json:"state"`
	Reason         string       `json:"reason,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	MovieID        int          `json:"movie_id,omitempty"`
	ProcessedFiles int          `json:"processed_files"`
	Files          []FileResult `json:"files,omitempty"`
	Errors         []FileError  `json:"errors,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// Success is true for skipped and succeeded scenes.
func (o *SyncOutcome) Success() bool {
	return o.State != Failed
}

// Status returns the state name for reports.
func (o *SyncOutcome) Status() string {
	return o.State.String()
}

// Duration is how long the sync took.
func (o *SyncOutcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// SyncRun is a ledger row: one recorded outcome and the batch it belonged to.
type SyncRun struct {
	ID      string
	BatchID string
	Outcome *SyncOutcome
}
