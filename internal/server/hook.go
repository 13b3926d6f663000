package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
	"github.com/desertthunder/whisparr-sync/internal/tasks"
)

const maxHookBody = 1 << 20

// HookRequest is a decoded Stash plugin invocation.
type HookRequest struct {
	SceneID   string
	Bulk      bool
	PluginDir string
	StashURL  string // from server_connection, empty when absent
}

type hookPayload struct {
	SceneID any `json:"scene_id"`
	Args    struct {
		Mode        string `json:"mode"`
		HookContext struct {
			ID   any    `json:"id"`
			Type string `json:"type"`
		} `json:"hookContext"`
	} `json:"args"`
	PluginDir        string `json:"PluginDir"`
	ServerConnection *struct {
		Scheme string `json:"Scheme"`
		Host   string `json:"Host"`
		Port   int    `json:"Port"`
	} `json:"server_connection"`
}

// DecodeHookPayload reads the JSON Stash hands a plugin (or a bare
// {"scene_id": ...} body). The scene id may be a string or a number. A payload
// with neither a scene id nor bulk mode is an error.
func DecodeHookPayload(r io.Reader) (*HookRequest, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxHookBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read hook payload: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: empty hook payload", shared.ErrInvalidInput)
	}

	var p hookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	req := &HookRequest{PluginDir: p.PluginDir}
	req.SceneID, err = idString(p.SceneID)
	if err == nil && req.SceneID == "" {
		req.SceneID, err = idString(p.Args.HookContext.ID)
	}
	if err != nil {
		return nil, err
	}
	if req.SceneID == "" {
		if p.Args.Mode != "bulk" {
			return nil, fmt.Errorf("%w: no scene id and not bulk mode", shared.ErrMissingArgument)
		}
		req.Bulk = true
	}

	if sc := p.ServerConnection; sc != nil && sc.Host != "" {
		scheme := sc.Scheme
		if scheme == "" {
			scheme = "http"
		}
		host := sc.Host
		if host == "0.0.0.0" {
			host = "localhost"
		}
		if sc.Port > 0 {
			host += ":" + strconv.Itoa(sc.Port)
		}
		req.StashURL = scheme + "://" + host
	}
	return req, nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		id = strings.TrimSpace(id)
		if !plainID(id) {
			return "", fmt.Errorf("%w: scene id %q", shared.ErrInvalidInput, id)
		}
		return id, nil
	case float64:
		if id <= 0 || id != float64(int64(id)) {
			return "", fmt.Errorf("%w: scene id %v", shared.ErrInvalidInput, id)
		}
		return strconv.FormatInt(int64(id), 10), nil
	default:
		return "", fmt.Errorf("%w: scene id of type %T", shared.ErrInvalidInput, v)
	}
}

// plainID reports whether id is made of letters, digits, '-' and '_' only.
// The empty string is allowed and means no id.
func plainID(id string) bool {
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// HookOptions configures a [HookHandler].
type HookOptions struct {
	Bulk     tasks.BulkOpts    // used for bulk mode requests
	Recorder tasks.RunRecorder // single-scene outcomes, optional
}

// HookHandler receives scene hooks over HTTP.
//
// Requests are answered with 202 and processed in the background unless the
// query has wait=true, in which case the outcome is returned. A scene already
// being synced is rejected with 409. A bulk run excludes every other run, so
// scene requests during it and bulk requests while anything is in flight get
// 409 as well.
type HookHandler struct {
	syncer Syncer
	opts   HookOptions
	logger *log.Logger
	base   context.Context

	mu       sync.Mutex
	inFlight map[string]struct{}
	bulk     bool
	wg       sync.WaitGroup
}

// NewHookHandler creates a handler whose background work is bound to base.
func NewHookHandler(base context.Context, syncer Syncer, opts HookOptions, logger *log.Logger) *HookHandler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &HookHandler{
		syncer:   syncer,
		opts:     opts,
		logger:   logger,
		base:     base,
		inFlight: make(map[string]struct{}),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *HookHandler) Routes() []string {
	return []string{"/hooks/scene"}
}

func (h *HookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.reply(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	req, err := DecodeHookPayload(r.Body)
	if err != nil {
		h.reply(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if req.Bulk {
		h.startBulk(w)
		return
	}

	if !h.acquire(req.SceneID) {
		h.logger.Warn("scene already in flight", "scene", req.SceneID)
		h.reply(w, http.StatusConflict, map[string]any{"scene_id": req.SceneID, "error": shared.ErrSceneInFlight.Error()})
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer h.release(req.SceneID)
		out := h.process(r.Context(), req.SceneID)
		h.reply(w, http.StatusOK, out)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.release(req.SceneID)
		h.process(h.base, req.SceneID)
	}()
	h.reply(w, http.StatusAccepted, map[string]any{"scene_id": req.SceneID, "status": "accepted"})
}

func (h *HookHandler) process(ctx context.Context, sceneID string) *models.SyncOutcome {
	out, err := h.syncer.ProcessScene(ctx, sceneID, nil)
	if err != nil {
		h.logger.Error("scene sync failed", "scene", sceneID, "err", err)
	}
	if h.opts.Recorder != nil && out != nil {
		if err := h.opts.Recorder.Record(ctx, "", out); err != nil {
			h.logger.Warn("failed to record run", "scene", sceneID, "err", err)
		}
	}
	return out
}

func (h *HookHandler) startBulk(w http.ResponseWriter) {
	h.mu.Lock()
	if h.bulk {
		h.mu.Unlock()
		h.reply(w, http.StatusConflict, map[string]any{"error": "bulk sync already running"})
		return
	}
	if n := len(h.inFlight); n > 0 {
		h.mu.Unlock()
		h.reply(w, http.StatusConflict, map[string]any{"error": fmt.Sprintf("%d scenes in flight", n)})
		return
	}
	h.bulk = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			h.bulk = false
			h.mu.Unlock()
		}()

		res, err := h.syncer.BulkSync(h.base, nil, h.opts.Bulk)
		if err != nil {
			h.logger.Error("bulk sync failed", "err", err)
		}
		if res != nil {
			h.logger.Info("bulk sync done", "batch", res.BatchID, "succeeded", res.Succeeded, "skipped", res.Skipped, "failed", res.Failed)
		}
	}()
	h.reply(w, http.StatusAccepted, map[string]any{"mode": "bulk", "status": "accepted"})
}

// acquire claims sceneID. It fails while the scene or a bulk run, which
// covers every scene, is in flight.
func (h *HookHandler) acquire(sceneID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inFlight[sceneID]; busy || h.bulk {
		return false
	}
	h.inFlight[sceneID] = struct{}{}
	return true
}

func (h *HookHandler) release(sceneID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, sceneID)
}

// InFlight returns how many scenes are being synced right now.
func (h *HookHandler) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inFlight)
}

// Wait blocks until background syncs have finished or ctx is done.
func (h *HookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(ctx.Err(), fmt.Errorf("%d scenes still in flight", h.InFlight()))
	}
}

func (h *HookHandler) reply(w http.ResponseWriter, code int, body any) {
	metrics.HookRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	writeJSON(w, code, body)
}

// HealthHandler reports liveness and the number of scenes in flight.
func HealthHandler(hooks *HookHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "in_flight": hooks.InFlight()})
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
