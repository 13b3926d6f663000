package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
	"github.com/desertthunder/whisparr-sync/internal/tasks"
	"github.com/desertthunder/whisparr-sync/internal/ui"
)

// Sync processes one scene and prints its outcome. A failed scene exits with status 1.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	sceneID := strings.TrimSpace(cmd.String("scene"))
	if sceneID == "" {
		return fmt.Errorf("%w: --scene", shared.ErrMissingArgument)
	}
	if err := r.prepare(ctx, cmd.String("config")); err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	rec := r.recorder(ctx, cmd.Bool("no-history"))

	r.logger.Info("starting scene sync", "scene", sceneID)
	out, err := r.runScene(ctx, sceneID, !asJSON, rec)
	if out == nil {
		return err
	}

	if asJSON {
		if werr := r.writeJSON(out, true); werr != nil {
			return werr
		}
	} else {
		r.writePlain("\n%s", ui.Styles.RenderOutcome(out))
	}

	if out.State == models.Failed {
		return cli.Exit("", 1)
	}
	return nil
}

// runScene runs the engine for one scene, printing progress unless quiet, and
// records the outcome when rec is set.
func (r *Runner) runScene(ctx context.Context, sceneID string, showProgress bool, rec tasks.RunRecorder) (*models.SyncOutcome, error) {
	var progressCh chan tasks.ProgressUpdate
	drained := make(chan struct{})
	if showProgress {
		progressCh = make(chan tasks.ProgressUpdate, 50)
		go func() {
			defer close(drained)
			for update := range progressCh {
				r.printProgress(update)
			}
		}()
	} else {
		close(drained)
	}

	out, err := r.engine.ProcessScene(ctx, sceneID, progressCh)
	if progressCh != nil {
		close(progressCh)
	}
	<-drained

	if rec != nil && out != nil {
		if rerr := rec.Record(ctx, "", out); rerr != nil {
			r.logger.Warn("failed to record run", "scene", sceneID, "err", rerr)
		}
	}
	return out, err
}

func (r *Runner) printProgress(update tasks.ProgressUpdate) {
	switch update.Phase {
	case tasks.FetchScene:
		r.writePlain("📥 %s\n", update.Message)
	case tasks.ResolveMovie:
		r.writePlain("🎬 %s\n", update.Message)
	case tasks.ProcessFile:
		r.writePlain("   %s\n", update.Message)
	case tasks.RefreshMovie:
		r.writePlain("🔄 %s\n", update.Message)
	case tasks.ListScenes:
		r.writePlain("📋 %s\n", update.Message)
	case tasks.BulkScene:
		if out, ok := update.Data.(*models.SyncOutcome); ok {
			r.writePlain("[%d/%d] %s %s %s\n", update.Step, update.Total, ui.Styles.Mark(out.State), out.SceneID, ui.Styles.State(out.State))
		}
	}
}
