package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/shared"
	"github.com/desertthunder/whisparr-sync/internal/tasks"
	"github.com/desertthunder/whisparr-sync/internal/ui"
)

// Bulk syncs every catalog scene, or the scenes given with --ids.
func (r *Runner) Bulk(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(ctx, cmd.String("config")); err != nil {
		return err
	}

	opts, err := r.bulkOpts(cmd)
	if err != nil {
		return err
	}
	opts.Recorder = r.recorder(ctx, cmd.Bool("no-history"))

	r.writePlain("Starting bulk sync...\n")

	progressCh := make(chan tasks.ProgressUpdate, 100)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for update := range progressCh {
			r.printProgress(update)
		}
	}()

	result, err := r.engine.BulkSync(ctx, progressCh, opts)
	close(progressCh)
	<-drained

	if result == nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Bulk Sync Complete")
	r.writePlain("Batch: %s\n", result.BatchID)
	r.writePlain("%s\n", ui.Styles.RenderSummary(result.Total, result.Succeeded, result.Skipped, result.Failed))
	if missing := result.Total - len(result.Outcomes); missing > 0 {
		r.writePlain("%s\n", ui.Styles.Warn(fmt.Sprintf("%d scenes were not started", missing)))
	}
	if result.Failed > 0 {
		r.writePlain("\nFailed scenes:\n")
		for _, out := range result.Outcomes {
			if !out.Success() {
				r.writePlain("  - %s %s\n", out.SceneID, ui.Styles.Help(out.Reason))
			}
		}
	}
	if opts.CSVPath != "" {
		r.writePlain("\nResults appended to %s\n", opts.CSVPath)
	}

	return err
}

// bulkOpts merges command flags over the [sync] config section.
func (r *Runner) bulkOpts(cmd *cli.Command) (tasks.BulkOpts, error) {
	opts := r.defaultBulkOpts()
	opts.CSVPath = cmd.String("csv")
	opts.JSONPath = cmd.String("report")

	for _, id := range cmd.StringSlice("ids") {
		for _, part := range strings.Split(id, ",") {
			if part = strings.TrimSpace(part); part != "" {
				opts.IDs = append(opts.IDs, part)
			}
		}
	}

	if w := cmd.Int("workers"); w != 0 {
		if w < 0 {
			return opts, fmt.Errorf("%w: --workers must be positive", shared.ErrInvalidFlag)
		}
		opts.Workers = w
	}
	if rate := cmd.Float("rate"); rate >= 0 {
		opts.RateLimit = rate
	}
	if n := cmd.Int("page-size"); n != 0 {
		if n < 0 {
			return opts, fmt.Errorf("%w: --page-size must be positive", shared.ErrInvalidFlag)
		}
		opts.PageSize = n
	}
	if tf := cmd.String("textfile"); tf != "" {
		opts.Textfile = tf
	}
	return opts, nil
}

func (r *Runner) defaultBulkOpts() tasks.BulkOpts {
	cfg := r.config
	return tasks.BulkOpts{
		Workers:   cfg.Sync.BulkWorkers,
		RateLimit: cfg.Sync.BulkRateLimit,
		PageSize:  cfg.Sync.BulkPageSize,
		Textfile:  cfg.Metrics.Textfile,
	}
}
