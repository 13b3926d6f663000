package tasks

import (
	"fmt"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	FetchScene Phase = iota
	ResolveMovie
	ProcessFile
	RefreshMovie
	SceneDone
	ListScenes
	BulkScene
)

func (p Phase) String() string {
	switch p {
	case FetchScene:
		return "fetch_scene"
	case ResolveMovie:
		return "resolve_movie"
	case ProcessFile:
		return "process_file"
	case RefreshMovie:
		return "refresh_movie"
	case SceneDone:
		return "scene_done"
	case ListScenes:
		return "list_scenes"
	case BulkScene:
		return "bulk_scene"
	default:
		return ""
	}
}

func fetchSceneUpdate(sceneID string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchScene,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching scene %s from Stash...", sceneID),
	}
}

func resolveMovieUpdate(key string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ResolveMovie,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Resolving Whisparr movie for %s...", key),
	}
}

func fileUpdate(step, total int, catalogPath string, maxLen int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ProcessFile,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, shared.TruncatePath(catalogPath, maxLen)),
	}
}

func refreshUpdate(movieID int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RefreshMovie,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Refreshing movie %d...", movieID),
	}
}

func doneUpdate(out *models.SyncOutcome) ProgressUpdate {
	msg := fmt.Sprintf("Scene %s %s", out.SceneID, out.State)
	if out.Reason != "" {
		msg += fmt.Sprintf(" (%s)", out.Reason)
	}
	return ProgressUpdate{
		Phase:   SceneDone,
		Step:    1,
		Total:   1,
		Message: msg,
		Data:    out,
	}
}

func listScenesUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ListScenes,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d scenes", count),
	}
}

func bulkSceneUpdate(step, total int, out *models.SyncOutcome) ProgressUpdate {
	mark := "✓"
	if !out.Success() {
		mark = "✗"
	}
	return ProgressUpdate{
		Phase:   BulkScene,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s %s", step, total, mark, out.SceneID, out.State),
		Data:    out,
	}
}
