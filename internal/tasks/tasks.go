package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/whisparr-sync/internal/files"
	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/services"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// FileMover is the part of [files.Manager] the engine depends on.
type FileMover interface {
	Locate(catalogPath, movieDir string) files.Placement
	Move(ctx context.Context, src, dst string) error
}

// Options are the per-run settings of a [SceneEngine].
type Options struct {
	EndpointSubstr string   // stash_ids endpoint that carries the shared key
	IgnoreTags     []string // scenes carrying any of these are skipped
	Monitored      bool
	QualityProfile string
	RootFolder     string
	MoveFiles      bool
	Rename         bool
	Workers        int // per-file pool size, 1 is sequential
	PollInterval   time.Duration
	PollTimeout    time.Duration
	MaxPathLength  int // display truncation in logs
}

// OptionsFromConfig builds engine options from the loaded configuration.
func OptionsFromConfig(cfg *shared.Config) Options {
	return Options{
		EndpointSubstr: cfg.Stash.EndpointSubstr,
		IgnoreTags:     cfg.Stash.IgnoreTags,
		Monitored:      cfg.Whisparr.Monitored,
		QualityProfile: cfg.Whisparr.QualityProfile,
		RootFolder:     cfg.Whisparr.RootFolder,
		MoveFiles:      cfg.Whisparr.MoveFiles,
		Rename:         cfg.Whisparr.Rename,
		Workers:        cfg.Sync.Workers,
		PollInterval:   cfg.Commands.PollInterval,
		PollTimeout:    cfg.Commands.PollTimeout,
		MaxPathLength:  cfg.Limits.MaxPathLength,
	}
}

// SceneLoggerFunc returns the logger for one scene and a closer releasing
// whatever it opened.
type SceneLoggerFunc func(sceneID string) (*log.Logger, io.Closer)

// EngineOption configures a [SceneEngine].
type EngineOption func(*SceneEngine)

// WithSceneLogger replaces the default scene-tagged child logger, e.g. with
// [shared.LogSink.ForScene].
func WithSceneLogger(fn SceneLoggerFunc) EngineOption {
	return func(e *SceneEngine) { e.sceneLogger = fn }
}

// WithClock overrides the time source used for outcome timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *SceneEngine) { e.now = now }
}

// SceneEngine synchronizes one catalog scene into the target per call.
//
// It holds no state between calls: the movie a scene resolves to is looked up
// (or created) once per [SceneEngine.ProcessScene] and shared by that call's
// file workers only.
type SceneEngine struct {
	catalog     services.Catalog
	target      services.Target
	files       FileMover
	opts        Options
	logger      *log.Logger
	sceneLogger SceneLoggerFunc
	now         func() time.Time
}

// NewSceneEngine wires the engine's collaborators.
func NewSceneEngine(catalog services.Catalog, target services.Target, mover FileMover, opts Options, logger *log.Logger, options ...EngineOption) *SceneEngine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Minute
	}

	e := &SceneEngine{
		catalog: catalog,
		target:  target,
		files:   mover,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
	e.sceneLogger = func(sceneID string) (*log.Logger, io.Closer) {
		return shared.WithLogger(e.logger, "scene", sceneID), nopCloser{}
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// sendProgress sends a progress update through the channel without blocking.
func (e *SceneEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// ProcessScene runs the scene state machine and returns its outcome.
//
// Skipped and Succeeded outcomes come with a nil error; per-file problems are
// listed in the outcome's Errors. A scene that cannot be fetched or whose movie
// cannot be resolved ends Failed and the cause is also returned.
func (e *SceneEngine) ProcessScene(ctx context.Context, sceneID string, progress chan<- ProgressUpdate) (*models.SyncOutcome, error) {
	logger, closer := e.sceneLogger(sceneID)
	defer closer.Close()

	out := &models.SyncOutcome{SceneID: sceneID, StartedAt: e.now()}
	defer func() {
		out.FinishedAt = e.now()
		metrics.RecordScene(out.State.String(), out.Reason, out.Duration())
		logger.Info("scene finished", "state", out.State, "reason", out.Reason,
			"files", len(out.Files), "processed", out.ProcessedFiles, "errors", len(out.Errors), "took", out.Duration())
		e.sendProgress(progress, doneUpdate(out))
	}()

	e.sendProgress(progress, fetchSceneUpdate(sceneID))
	scene, err := e.catalog.FetchScene(ctx, sceneID)
	if err != nil {
		logger.Error("failed to fetch scene", "err", err)
		e.fail(out, models.ReasonSceneFetch, err)
		return out, err
	}

	key := scene.SharedKey(e.opts.EndpointSubstr)
	if key == "" {
		logger.Info("scene has no shared id, skipping", "endpoint", e.opts.EndpointSubstr)
		e.skip(out, models.ReasonNoSharedKey, "no stash id for "+e.opts.EndpointSubstr)
		return out, nil
	}
	if tag, ok := services.HasIgnoredTag(scene, e.opts.IgnoreTags); ok {
		logger.Info("scene carries an ignored tag, skipping", "tag", tag)
		e.skip(out, models.ReasonIgnoredTag, tag)
		return out, nil
	}

	e.sendProgress(progress, resolveMovieUpdate(key))
	movie, err := e.resolveMovie(ctx, logger, key, scene)
	if err != nil {
		logger.Error("failed to resolve movie", "stash_id", key, "err", err)
		e.fail(out, models.ReasonMovieResolution, err)
		return out, err
	}
	out.MovieID = movie.ID
	logger = logger.With("movie", movie.ID)

	e.processFiles(ctx, logger, movie, scene.Files, out, progress)

	if anyMoved(out.Files) {
		e.sendProgress(progress, refreshUpdate(movie.ID))
		if cmd, err := e.target.QueueRefreshCommand(ctx, movie.ID); err != nil {
			logger.Warn("failed to queue movie refresh", "err", err)
			out.Errors = append(out.Errors, models.FileError{File: models.SceneLevel, Message: err.Error()})
		} else {
			logger.Debug("queued movie refresh", "command_id", cmd.ID)
		}
	}

	out.State = models.Succeeded
	return out, nil
}

func (e *SceneEngine) skip(out *models.SyncOutcome, reason, detail string) {
	out.State = models.Skipped
	out.Reason = reason
	out.Detail = detail
}

func (e *SceneEngine) fail(out *models.SyncOutcome, reason string, err error) {
	out.State = models.Failed
	out.Reason = reason
	out.Detail = err.Error()
	out.Errors = append(out.Errors, models.FileError{File: models.SceneLevel, Message: err.Error()})
}

// resolveMovie finds the movie for key or creates it with the configured defaults.
func (e *SceneEngine) resolveMovie(ctx context.Context, logger *log.Logger, key string, scene *models.SceneRecord) (*models.TargetMovie, error) {
	movie, err := e.target.FindMovie(ctx, key)
	if err != nil {
		return nil, err
	}
	if movie != nil {
		logger.Debug("movie exists", "movie", movie.ID, "path", shared.TruncatePath(movie.Path, e.opts.MaxPathLength))
		return movie, nil
	}

	title := scene.Title
	if title == "" {
		title = key
	}
	movie, err = e.target.CreateMovie(ctx, key, models.MovieDefaults{
		Title:          title,
		Monitored:      e.opts.Monitored,
		QualityProfile: e.opts.QualityProfile,
		RootFolder:     e.opts.RootFolder,
	})
	if err != nil {
		return nil, err
	}
	if movie == nil || movie.ID == 0 {
		return nil, &shared.WhisparrError{Op: "create movie", Err: fmt.Errorf("%w: no movie returned", shared.ErrMovieNotFound)}
	}
	return movie, nil
}

// processFiles runs the per-file protocol on a bounded pool. Each file writes
// its own slot, so results and errors come out in file order.
func (e *SceneEngine) processFiles(ctx context.Context, logger *log.Logger, movie *models.TargetMovie, refs []models.FileRef, out *models.SyncOutcome, progress chan<- ProgressUpdate) {
	results := make([]models.FileResult, len(refs))
	errs := make([]error, len(refs))

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, ref := range refs {
		g.Go(func() error {
			e.sendProgress(progress, fileUpdate(i+1, len(refs), ref.CatalogPath, e.opts.MaxPathLength))
			results[i], errs[i] = e.processFile(ctx, logger.With("file", ref.Basename()), movie, ref)
			return nil
		})
	}
	_ = g.Wait()

	out.Files = results
	for i, err := range errs {
		status := fileStatus(results[i], err)
		metrics.FilesProcessed.WithLabelValues(status).Inc()
		if err != nil {
			out.Files[i].Error = err.Error()
			out.Errors = append(out.Errors, models.FileError{File: refs[i].CatalogPath, Message: err.Error()})
			continue
		}
		out.ProcessedFiles++
	}
}

// processFile is one pass of locate, move, preview, match, import and rename.
// Steps for a single file always run in this order.
func (e *SceneEngine) processFile(ctx context.Context, logger *log.Logger, movie *models.TargetMovie, ref models.FileRef) (models.FileResult, error) {
	res := models.FileResult{CatalogPath: ref.CatalogPath}

	place := e.files.Locate(ref.CatalogPath, movie.Path)
	res.InPlace = place.InPlace
	res.ResolvedPath = place.Path()

	switch {
	case place.InPlace:
		logger.Debug("file already in movie folder", "path", shared.TruncatePath(res.ResolvedPath, e.opts.MaxPathLength))
	case e.opts.MoveFiles:
		if err := e.files.Move(ctx, place.Mapped, place.Expected); err != nil {
			logger.Error("failed to move file", "err", err)
			return res, err
		}
		res.Moved = true
		res.ResolvedPath = place.Expected
	}

	candidates, err := e.target.ManualImportPreview(ctx, movie.ID, res.ResolvedPath)
	if err != nil {
		logger.Error("failed to fetch import preview", "err", err)
		return res, err
	}

	candidate := e.target.MatchCandidate(candidates, res.ResolvedPath, movie.ID)
	if candidate == nil {
		logger.Info("no import candidate, file already imported")
		res.AlreadyImported = true
		return res, nil
	}

	cmd, err := e.target.ExecuteManualImport(ctx, movie.ID, candidate)
	if err != nil {
		logger.Error("manual import rejected", "err", err)
		return res, err
	}
	if _, err := e.target.PollCommand(ctx, cmd.ID, e.opts.PollTimeout, e.opts.PollInterval); err != nil {
		logger.Error("manual import did not complete", "command_id", cmd.ID, "err", err)
		return res, err
	}
	res.Imported = true
	logger.Info("imported file", "path", shared.TruncatePath(candidate.Path, e.opts.MaxPathLength))

	if !e.opts.Rename {
		return res, nil
	}
	cmd, err = e.target.QueueRenameCommand(ctx, movie.ID)
	if err != nil {
		logger.Warn("failed to queue rename", "err", err)
		return res, err
	}
	if _, err := e.target.PollCommand(ctx, cmd.ID, e.opts.PollTimeout, e.opts.PollInterval); err != nil {
		logger.Warn("rename did not complete, import kept", "command_id", cmd.ID, "err", err)
		return res, err
	}
	res.Renamed = true
	return res, nil
}

func fileStatus(res models.FileResult, err error) string {
	var timeout *shared.CommandTimeoutError
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case err != nil:
		return "failed"
	case res.AlreadyImported:
		return "already_imported"
	default:
		return "imported"
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func anyMoved(results []models.FileResult) bool {
	for _, r := range results {
		if r.Moved {
			return true
		}
	}
	return false
}
