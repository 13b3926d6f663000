// package server contains the router, middleware and handlers of the scene hook receiver
package server

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/tasks"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an http.Handler that knows the path patterns it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// Syncer is the part of [tasks.SceneEngine] the hook handlers drive.
type Syncer interface {
	ProcessScene(ctx context.Context, sceneID string, progress chan<- tasks.ProgressUpdate) (*models.SyncOutcome, error)
	BulkSync(ctx context.Context, prog chan<- tasks.ProgressUpdate, opts tasks.BulkOpts) (*tasks.BulkResult, error)
}

// NewHookRouter mounts the hook receiver, /health and /metrics behind panic
// recovery and request logging.
func NewHookRouter(hooks *HookHandler, logger *log.Logger) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(logger), LogRequests(logger))
	r.Handler(hooks)
	r.Handle(http.MethodGet, "/health", HealthHandler(hooks))
	r.Handle(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}
