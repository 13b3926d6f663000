package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/repositories"
	"github.com/desertthunder/whisparr-sync/internal/shared"
	"github.com/desertthunder/whisparr-sync/internal/ui"
)

// historyLedger opens the run history or explains why it is unavailable.
func (r *Runner) historyLedger(ctx context.Context, cmd *cli.Command) (*repositories.SyncRunRepository, error) {
	if err := r.loadConfig(cmd.String("config")); err != nil {
		return nil, err
	}
	ledger, err := r.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: database.path is empty, run history is disabled", shared.ErrMissingConfig)
	}
	return ledger, nil
}

// HistoryList prints recent runs, newest first.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	state := strings.ToLower(strings.TrimSpace(cmd.String("state")))
	if state != "" {
		if _, ok := models.ParseSyncState(state); !ok {
			return fmt.Errorf("%w: --state %q", shared.ErrInvalidFlag, state)
		}
	}

	ledger, err := r.historyLedger(ctx, cmd)
	if err != nil {
		return err
	}

	criteria := map[string]any{
		"scene_id": cmd.String("scene"),
		"batch_id": cmd.String("batch"),
		"state":    state,
	}
	runs, err := ledger.List(ctx, criteria, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		items := make([]map[string]any, 0, len(runs))
		for _, run := range runs {
			items = append(items, map[string]any{"id": run.ID, "batch_id": run.BatchID, "outcome": run.Outcome})
		}
		return r.writeJSON(items, true)
	}

	if len(runs) == 0 {
		r.writePlain("No runs recorded.\n")
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Sync History (%d runs)", len(runs)))
	for _, run := range runs {
		out := run.Outcome
		line := fmt.Sprintf("%s %s  scene %-8s %s", ui.Styles.Mark(out.State), out.FinishedAt.Local().Format(time.DateTime), out.SceneID, ui.Styles.State(out.State))
		if out.Reason != "" {
			line += " " + ui.Styles.Help(out.Reason)
		}
		if out.MovieID != 0 {
			line += fmt.Sprintf("  movie %d, %d files", out.MovieID, out.ProcessedFiles)
		}
		r.writePlain("%s\n", line)
		r.writePlain("  %s\n", ui.Styles.Help(run.ID))
	}
	return nil
}

// HistoryShow prints one run with its file results.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return fmt.Errorf("%w: run id", shared.ErrMissingArgument)
	}

	ledger, err := r.historyLedger(ctx, cmd)
	if err != nil {
		return err
	}

	run, err := ledger.Get(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("no run with id %s: %w", id, err)
	} else if err != nil {
		return err
	}

	if run.BatchID != "" {
		r.writePlain("Batch: %s\n", run.BatchID)
	}
	r.writePlain("%s", ui.Styles.RenderOutcome(run.Outcome))
	return nil
}

// HistoryPrune deletes runs older than --older-than.
func (r *Runner) HistoryPrune(ctx context.Context, cmd *cli.Command) error {
	age := cmd.Duration("older-than")
	if age <= 0 {
		return fmt.Errorf("%w: --older-than must be positive", shared.ErrInvalidFlag)
	}

	ledger, err := r.historyLedger(ctx, cmd)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-age)
	n, err := ledger.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	r.logger.Info("pruned run history", "removed", n, "cutoff", cutoff)
	r.writePlain("✓ Removed %d runs finished before %s\n", n, cutoff.Format(time.DateTime))
	return nil
}
