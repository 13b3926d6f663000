package services

import (
	"context"
	"time"

	"github.com/desertthunder/whisparr-sync/internal/models"
)

// Transport is the JSON-over-HTTP contract both remote clients are built on.
type Transport interface {
	Do(ctx context.Context, req Request, result any) (*APIResponse, error)
}

// Catalog reads scenes from Stash.
type Catalog interface {
	// FetchScene returns the validated scene or a SceneNotFoundError,
	// ValidationError or TransportError.
	FetchScene(ctx context.Context, sceneID string) (*models.SceneRecord, error)

	// SceneIDs lists every scene id, paging perPage at a time.
	SceneIDs(ctx context.Context, perPage int) ([]string, error)
}

// Target drives movies, imports and commands in Whisparr.
type Target interface {
	// FindMovie returns the movie carrying sharedKey, or nil when there is none.
	FindMovie(ctx context.Context, sharedKey string) (*models.TargetMovie, error)

	// CreateMovie adds a movie with the given defaults. It is never retried.
	CreateMovie(ctx context.Context, sharedKey string, defaults models.MovieDefaults) (*models.TargetMovie, error)

	// ManualImportPreview lists import candidates in the directory holding sourcePath.
	ManualImportPreview(ctx context.Context, movieID int, sourcePath string) ([]models.ManualImportCandidate, error)

	// MatchCandidate picks the preview entry for sourcePath, or nil when none corresponds to it.
	MatchCandidate(candidates []models.ManualImportCandidate, sourcePath string, movieID int) *models.ManualImportCandidate

	ExecuteManualImport(ctx context.Context, movieID int, candidate *models.ManualImportCandidate) (*models.RemoteCommand, error)
	QueueRenameCommand(ctx context.Context, movieID int) (*models.RemoteCommand, error)
	QueueRefreshCommand(ctx context.Context, movieID int) (*models.RemoteCommand, error)

	// PollCommand waits for a terminal status until timeout elapses.
	PollCommand(ctx context.Context, commandID int, timeout, interval time.Duration) (*models.RemoteCommand, error)
}
