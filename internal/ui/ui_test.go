package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/whisparr-sync/internal/models"
)

func TestRenderOutcome(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		outcome *models.SyncOutcome
		want    []string
		absent  []string
	}{
		{
			name: "Succeeded",
			outcome: &models.SyncOutcome{
				SceneID: "4", State: models.Succeeded, MovieID: 9, ProcessedFiles: 2,
				Files: []models.FileResult{
					{CatalogPath: "/s/a.mp4", ResolvedPath: "/l/M/a.mp4", Imported: true},
					{CatalogPath: "/s/b.mp4", AlreadyImported: true},
					{CatalogPath: "/s/c.mp4", Error: "disk full"},
				},
				StartedAt: start, FinishedAt: start.Add(2 * time.Second),
			},
			want: []string{"Scene 4", "succeeded", "movie 9, 2/3 files processed in 2s", "/l/M/a.mp4",
				"/s/b.mp4 already imported", "/s/c.mp4: disk full"},
		},
		{
			name:    "Skipped",
			outcome: &models.SyncOutcome{SceneID: "5", State: models.Skipped, Reason: models.ReasonIgnoredTag, Detail: "Trailer"},
			want:    []string{"Scene 5", "skipped", "(ignored-tag)", "Trailer"},
			absent:  []string{"movie"},
		},
		{
			name: "Failed",
			outcome: &models.SyncOutcome{SceneID: "6", State: models.Failed, Reason: models.ReasonMovieResolution,
				Errors: []models.FileError{{File: models.SceneLevel, Message: "status 500"}}},
			want: []string{"failed", "(movie-resolution)", "! status 500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Styles.RenderOutcome(tt.outcome)
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("expected %q in:\n%s", w, out)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("did not expect %q in:\n%s", a, out)
				}
			}
		})
	}
}

func TestRenderSummary(t *testing.T) {
	out := Styles.RenderSummary(10, 7, 2, 1)
	for _, w := range []string{"10 scenes:", "7 succeeded", "2 skipped", "1 failed"} {
		if !strings.Contains(out, w) {
			t.Errorf("expected %q in %q", w, out)
		}
	}
}

func TestMark(t *testing.T) {
	for state, want := range map[models.SyncState]string{models.Succeeded: "✓", models.Skipped: "-", models.Failed: "✗"} {
		if got := Styles.Mark(state); !strings.Contains(got, want) {
			t.Errorf("Mark(%s) = %q, want %q", state, got, want)
		}
	}
}
