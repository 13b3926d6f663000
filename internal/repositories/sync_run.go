package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// SyncRunRepository stores finished sync outcomes with their per-file results.
//
// Rows are written after a scene is done and are only read back for history
// listings.
type SyncRunRepository struct {
	db *sql.DB
}

// NewSyncRunRepository creates a new SyncRunRepository with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Record stores out under batchID. It satisfies tasks.RunRecorder.
func (r *SyncRunRepository) Record(ctx context.Context, batchID string, out *models.SyncOutcome) error {
	return r.Create(ctx, &models.SyncRun{BatchID: batchID, Outcome: out})
}

// Create inserts a run and its file results in one transaction and sets run.ID.
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	out := run.Outcome
	if out == nil || out.SceneID == "" {
		return fmt.Errorf("%w: run has no scene", shared.ErrMissingArgument)
	}

	errs, err := json.Marshal(out.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}

	id := shared.GenerateID()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sync_runs (
			id, batch_id, scene_id, state, reason, movie_id,
			processed_files, error_count, errors, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		id,
		nullable(run.BatchID),
		out.SceneID,
		out.State.String(),
		nullable(out.Reason),
		nullableInt(out.MovieID),
		out.ProcessedFiles,
		len(out.Errors),
		string(errs),
		out.StartedAt,
		out.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}

	fileQuery := `
		INSERT INTO sync_file_results (
			run_id, position, catalog_path, resolved_path, moved,
			in_place, already_imported, imported, renamed, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, f := range out.Files {
		_, err := tx.ExecContext(ctx, fileQuery,
			id, i, f.CatalogPath, f.ResolvedPath, f.Moved,
			f.InPlace, f.AlreadyImported, f.Imported, f.Renamed, nullable(f.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to insert file result %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync run: %w", err)
	}
	run.ID = id
	return nil
}

// Get retrieves a run by ID including its file results.
func (r *SyncRunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `
		SELECT
			id, batch_id, scene_id, state, reason, movie_id,
			processed_files, errors, started_at, finished_at
		FROM sync_runs
		WHERE id = ?
	`
	run, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: sync run %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	run.Outcome.Files, err = r.fileResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List retrieves the most recent runs matching criteria, newest first. Supported
// criteria are scene_id, batch_id and state. A limit of zero or less returns
// every match. File results are not loaded.
func (r *SyncRunRepository) List(ctx context.Context, criteria map[string]any, limit int) ([]*models.SyncRun, error) {
	query := `
		SELECT
			id, batch_id, scene_id, state, reason, movie_id,
			processed_files, errors, started_at, finished_at
		FROM sync_runs
		WHERE 1 = 1
	`

	args := []any{}

	if sceneID, ok := criteria["scene_id"].(string); ok && sceneID != "" {
		query += " AND scene_id = ?"
		args = append(args, sceneID)
	}

	if batchID, ok := criteria["batch_id"].(string); ok && batchID != "" {
		query += " AND batch_id = ?"
		args = append(args, batchID)
	}

	if state, ok := criteria["state"].(string); ok && state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}

	query += " ORDER BY finished_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return runs, nil
}

// Prune deletes runs that finished before cutoff and returns how many were removed.
// File results go with them through the foreign key cascade.
func (r *SyncRunRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sync_runs WHERE finished_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scan reads one sync_runs row from a [sql.Row] or [sql.Rows].
func (r *SyncRunRepository) scan(row scanner) (*models.SyncRun, error) {
	var (
		id         string
		batchID    sql.NullString
		sceneID    string
		state      string
		reason     sql.NullString
		movieID    sql.NullInt64
		processed  int
		errs       sql.NullString
		startedAt  time.Time
		finishedAt time.Time
	)

	err := row.Scan(
		&id, &batchID, &sceneID, &state, &reason, &movieID,
		&processed, &errs, &startedAt, &finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan sync run: %w", err)
	}

	parsed, ok := models.ParseSyncState(state)
	if !ok {
		return nil, fmt.Errorf("sync run %s: unknown state %q", id, state)
	}

	out := &models.SyncOutcome{
		SceneID:        sceneID,
		State:          parsed,
		Reason:         reason.String,
		MovieID:        int(movieID.Int64),
		ProcessedFiles: processed,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &out.Errors); err != nil {
			return nil, fmt.Errorf("sync run %s: failed to decode errors: %w", id, err)
		}
	}

	return &models.SyncRun{ID: id, BatchID: batchID.String, Outcome: out}, nil
}

func (r *SyncRunRepository) fileResults(ctx context.Context, runID string) ([]models.FileResult, error) {
	query := `
		SELECT catalog_path, resolved_path, moved, in_place, already_imported, imported, renamed, error
		FROM sync_file_results
		WHERE run_id = ?
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file results: %w", err)
	}
	defer rows.Close()

	var results []models.FileResult
	for rows.Next() {
		var (
			f      models.FileResult
			errMsg sql.NullString
		)
		if err := rows.Scan(&f.CatalogPath, &f.ResolvedPath, &f.Moved, &f.InPlace,
			&f.AlreadyImported, &f.Imported, &f.Renamed, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan file result: %w", err)
		}
		f.Error = errMsg.String
		results = append(results, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}
