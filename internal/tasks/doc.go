// Package tasks syncs Stash scenes into Whisparr with real-time progress reporting.
//
// # Core Operations
//
//  1. [SceneEngine.ProcessScene] : one scene
//     - Fetches the scene from the catalog and skips it when it has no StashDB id
//     or carries an ignored tag
//     - Finds the Whisparr movie for the StashDB id, creating it when missing
//     - For each file: locate, move into the movie folder, manual import
//     preview, match, import, optional rename
//     - Queues one movie refresh when any file was moved
//
//  2. [SceneEngine.BulkSync] : many scenes
//     - Lists every scene id (newest first) unless ids are given
//     - Runs ProcessScene on a rate limited worker pool
//     - Records each outcome through an optional [RunRecorder] and writes
//     CSV/JSON reports and a metrics textfile
//
// # Outcomes
//
// Every call ends in a [models.SyncOutcome] tagged Skipped, Succeeded or
// Failed. A file that fails is listed in the outcome and does not stop the
// other files; only scene fetch and movie resolution failures fail the scene.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// Updates use select with default to prevent blocking, and a nil channel is allowed.
package tasks
