// Package services implements the clients for the Stash catalog ([Catalog]) and the Whisparr target ([Target]).
//
// # Transport
//
// Both clients sit on a [Transport]. [APIService] is the HTTP implementation:
// it joins paths onto a base URL, sets the API key header, encodes bodies as JSON
// and decodes successful responses into the caller's value.
//
// GET and HEAD requests are retried on network errors and 500/502/503/504 with
// doubling backoff, up to the configured attempt cap (at most 5). POST is sent
// once. Stash GraphQL queries are read-only and opt in to retries with
// [Request.Idempotent].
//
// [BreakerTransport] wraps a transport with a circuit breaker so a dead server
// fails fast during bulk runs.
//
// # Stash
//
// [StashService] issues findScene and findScenes queries. Payloads are validated
// before they become [models.SceneRecord]; a null scene is a
// [shared.SceneNotFoundError] and a malformed one a [shared.ValidationError].
//
// # Whisparr
//
// [WhisparrService] covers movie lookup and creation, manual import previews,
// the ManualImport, RenameFiles and RefreshMovie commands, and command polling.
// Polling is bounded by a deadline and ends with a terminal command or a
// [shared.CommandTimeoutError].
//
// # Error Handling
//
// Services return typed errors from the shared package:
//   - [shared.TransportError] : non-2xx status or network failure
//   - [shared.WhisparrError] : movie or command call failed
//   - [shared.ManualImportError] : import command could not be queued
//   - [shared.CommandFailedError] : command finished in the failed state
//   - [shared.ErrAPIRequest] : response body could not be decoded
package services
