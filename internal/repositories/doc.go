// Package repositories implements the SQLite run ledger.
//
// [SyncRunRepository] writes one sync_runs row per finished scene and one
// sync_file_results row per file, in a single transaction. The ledger is a
// record of what happened; the sync engine never reads it to decide what to do,
// so deleting the database changes nothing about the next run.
//
// Schema and migrations live in the shared package ([shared.RunMigrations]).
package repositories
