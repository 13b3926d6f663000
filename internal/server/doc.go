// Package server receives Stash scene hooks over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [Middleware] wraps handlers in reverse order (last added executes first).
// The [BasicRouter] implementation uses [http.ServeMux] internally with
// per-method dispatch.
//
// # Hook Handler
//
// [HookHandler] accepts the payload Stash passes to plugins, or a bare
// {"scene_id": ...} body, on POST /hooks/scene. Each scene is synced at most
// once at a time: a second request for a scene that is still running gets 409.
// Bulk mode payloads start one bulk run at a time.
//
// [DecodeHookPayload] is shared with the hook command, which reads the same
// payload from stdin.
//
// # Routes
//
//	POST /hooks/scene   sync a scene (202, or 200 with the outcome when ?wait=true)
//	GET  /health        liveness and in-flight count
//	GET  /metrics       prometheus exposition
package server
