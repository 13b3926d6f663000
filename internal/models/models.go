// package models defines the data model shared by the catalog and target clients and the sync engine
package models

import (
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// SceneRecord is a catalog scene after boundary validation.
type SceneRecord struct {
	ID          string
	Title       string
	TagNames    []string
	ExternalIDs map[string]string // endpoint -> remote id
	Files       []FileRef
}

// SharedKey returns the external id whose endpoint contains substr, or "" when the
// scene has none. Endpoints are scanned in sorted order so the pick is stable.
func (s *SceneRecord) SharedKey(substr string) string {
	endpoints := make([]string, 0, len(s.ExternalIDs))
	for ep := range s.ExternalIDs {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	for _, ep := range endpoints {
		if strings.Contains(ep, substr) && s.ExternalIDs[ep] != "" {
			return s.ExternalIDs[ep]
		}
	}
	return ""
}

// FileRef is a media file as the catalog sees it.
type FileRef struct {
	CatalogPath string
	Size        int64
}

// Basename returns the file name portion of the catalog path, accepting either separator.
func (f FileRef) Basename() string {
	return path.Base(strings.ReplaceAll(f.CatalogPath, `\`, "/"))
}

// TargetMovie is the target-side entity a scene maps to. ID is zero until created.
type TargetMovie struct {
	ID               int
	Title            string
	SharedKey        string
	QualityProfileID int
	RootFolderPath   string
	Path             string
	Monitored        bool
	FileCount        int
	SizeOnDisk       int64
}

// MovieDefaults are applied when a movie has to be created.
type MovieDefaults struct {
	Title          string
	Monitored      bool
	QualityProfile string
	RootFolder     string
}

// QualityProfile is a target quality profile.
type QualityProfile struct {
	ID   int
	Name string
}

// RootFolder is a target library root.
type RootFolder struct {
	ID   int
	Path string
}

// ManualImportCandidate is one entry of a manual import preview. Quality and
// Languages are passed back to the target untouched.
type ManualImportCandidate struct {
	Path         string
	FolderName   string
	Size         int64
	MovieID      int
	ReleaseGroup string
	Quality      json.RawMessage
	Languages    json.RawMessage
	Rejections   []string
}

// CommandStatus is the normalized status of a remote command.
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandStarted   CommandStatus = "started"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// ParseCommandStatus folds the target's status vocabulary into [CommandStatus].
// aborted, cancelled and orphaned jobs count as failed; anything unknown is
// still in progress.
func ParseCommandStatus(s string) CommandStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return CommandQueued
	case "started":
		return CommandStarted
	case "completed":
		return CommandCompleted
	case "failed", "aborted", "cancelled", "orphaned":
		return CommandFailed
	default:
		return CommandStarted
	}
}

// RemoteCommand is a handle on a background job queued in the target.
type RemoteCommand struct {
	ID      int
	Name    string
	Status  CommandStatus
	Result  string
	Message string
}

// IsTerminal reports whether polling can stop.
func (c *RemoteCommand) IsTerminal() bool {
	return c.Status == CommandCompleted || c.Status == CommandFailed
}
