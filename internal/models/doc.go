// Package models defines the records exchanged between the catalog client, the target client and the sync engine.
//
// Catalog side:
//   - [SceneRecord] : a validated catalog scene with tags, external ids and files
//   - [FileRef] : a media file path as the catalog reports it
//
// Target side:
//   - [TargetMovie] : the movie a scene is imported into, found or created by shared key
//   - [ManualImportCandidate] : a transient manual import preview entry
//   - [RemoteCommand] : a queued background job polled to a terminal [CommandStatus]
//
// Results:
//   - [SyncOutcome] : Skipped, Succeeded or Failed, with per-file [FileResult] rows and [FileError] entries
package models
