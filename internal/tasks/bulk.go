package tasks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/whisparr-sync/internal/formatter"
	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// RunRecorder persists finished outcomes. [repositories.SyncRunRepository]
// implements it; the engine only writes through it.
type RunRecorder interface {
	Record(ctx context.Context, batchID string, out *models.SyncOutcome) error
}

// BulkOpts contains configuration for a bulk scene sync.
type BulkOpts struct {
	IDs       []string    // scenes to sync; every catalog scene when empty
	Workers   int         // concurrent scenes (default: 2)
	RateLimit float64     // scene starts per second, 0 is unlimited
	PageSize  int         // catalog page size when listing scenes (default: 100)
	CSVPath   string      // appended outcome report, skipped when empty
	JSONPath  string      // full JSON report, skipped when empty
	Textfile  string      // prometheus textfile written after the run
	Recorder  RunRecorder // optional run ledger
}

// BulkResult summarizes a bulk run. Outcomes are in the order the scenes were scheduled.
type BulkResult struct {
	BatchID   string
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Outcomes  []*models.SyncOutcome
	StartedAt time.Time
	Finished  time.Time
}

type bulkJob struct {
	index   int
	sceneID string
}

// BulkSync runs [SceneEngine.ProcessScene] over many scenes with a worker pool and a rate limiter.
//
// Scenes listed from the catalog are processed newest first. A failed scene never
// stops the batch; only a failure to list scenes or a cancelled context ends the
// run early, in which case the scenes not yet started are absent from the result.
func (e *SceneEngine) BulkSync(ctx context.Context, prog chan<- ProgressUpdate, opts BulkOpts) (*BulkResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}

	ids := opts.IDs
	if len(ids) == 0 {
		listed, err := e.catalog.SceneIDs(ctx, opts.PageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list scenes: %w", err)
		}
		ids = slices.Clone(listed)
		slices.Reverse(ids)
	}
	e.sendProgress(prog, listScenesUpdate(len(ids)))

	result := &BulkResult{
		BatchID:   shared.GenerateID(),
		Total:     len(ids),
		StartedAt: e.now(),
	}
	logger := e.logger.With("batch", result.BatchID)
	logger.Info("starting bulk sync", "scenes", len(ids), "workers", opts.Workers, "rate", opts.RateLimit)

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	jobs := make(chan bulkJob)
	slots := make([]*models.SyncOutcome, len(ids))
	done := make(chan int, len(ids))

	var wg sync.WaitGroup
	for range opts.Workers {
		wg.Add(1)
		go e.bulkWorker(ctx, &wg, jobs, slots, done)
	}

	go func() {
		defer close(jobs)
		for i, id := range ids {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case jobs <- bulkJob{index: i, sceneID: id}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	completed := 0
	for i := range done {
		completed++
		out := slots[i]
		e.sendProgress(prog, bulkSceneUpdate(completed, len(ids), out))

		if opts.Recorder != nil {
			if err := opts.Recorder.Record(ctx, result.BatchID, out); err != nil {
				logger.Warn("failed to record run", "scene", out.SceneID, "err", err)
			}
		}
	}

	for _, out := range slots {
		if out == nil {
			continue
		}
		result.Outcomes = append(result.Outcomes, out)
		switch out.State {
		case models.Succeeded:
			result.Succeeded++
		case models.Skipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}
	result.Finished = e.now()

	logger.Info("bulk sync finished",
		"succeeded", result.Succeeded, "skipped", result.Skipped, "failed", result.Failed,
		"not_started", result.Total-len(result.Outcomes), "took", result.Finished.Sub(result.StartedAt))

	if err := e.writeBulkReports(result, opts); err != nil {
		return result, err
	}
	return result, ctx.Err()
}

// bulkWorker processes scenes from jobs, writing each outcome to its own slot.
func (e *SceneEngine) bulkWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan bulkJob, slots []*models.SyncOutcome, done chan<- int) {
	defer wg.Done()

	for job := range jobs {
		if ctx.Err() != nil {
			return
		}
		out, _ := e.ProcessScene(ctx, job.sceneID, nil)
		slots[job.index] = out
		done <- job.index
	}
}

func (e *SceneEngine) writeBulkReports(result *BulkResult, opts BulkOpts) error {
	if opts.CSVPath != "" {
		if err := formatter.AppendOutcomesCSV(opts.CSVPath, result.Outcomes); err != nil {
			return fmt.Errorf("bulk sync completed but failed to write CSV report: %w", err)
		}
	}
	if opts.JSONPath != "" {
		report := &formatter.BulkReport{
			BatchID:   result.BatchID,
			StartedAt: result.StartedAt,
			Finished:  result.Finished,
			Total:     result.Total,
			Succeeded: result.Succeeded,
			Skipped:   result.Skipped,
			Failed:    result.Failed,
			Outcomes:  result.Outcomes,
		}
		if err := formatter.WriteJSONReport(report, opts.JSONPath); err != nil {
			return fmt.Errorf("bulk sync completed but failed to write JSON report: %w", err)
		}
	}
	if opts.Textfile != "" {
		if err := metrics.WriteTextfile(opts.Textfile); err != nil {
			return fmt.Errorf("bulk sync completed but failed to write metrics: %w", err)
		}
	}
	return nil
}
