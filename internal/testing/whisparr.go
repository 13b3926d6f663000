package testing

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// FakeMovie is a movie held by [WhisparrServer].
type FakeMovie struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	StashID          string `json:"stashId"`
	ForeignID        string `json:"foreignId"`
	Path             string `json:"path"`
	RootFolderPath   string `json:"rootFolderPath"`
	QualityProfileID int    `json:"qualityProfileId"`
	Monitored        bool   `json:"monitored"`
}

// FakeCandidate is a file [WhisparrServer] offers in manual import previews
// until it has been imported.
type FakeCandidate struct {
	Path       string `json:"path"`
	FolderName string `json:"folderName"`
	Size       int64  `json:"size"`
	MovieID    int    `json:"movieId"`
}

// FakeCommand is a command queued on [WhisparrServer].
type FakeCommand struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	Body     map[string]any `json:"-"`
	polls    int
	finalize string
}

// WhisparrServer is an in-memory Whisparr v3 API good enough for the sync flow.
//
// Commands report "started" for PollsBeforeDone polls and then the status in
// FinalStatus (default "completed"). A completed ManualImport removes the
// imported path from later previews.
type WhisparrServer struct {
	*httptest.Server

	mu              sync.Mutex
	APIKey          string
	Movies          []*FakeMovie
	Profiles        map[int]string
	RootFolders     []string
	Candidates      []FakeCandidate
	Imported        map[string]bool
	Commands        []*FakeCommand
	FinalStatus     map[string]string
	PollsBeforeDone int
	FailStatus      map[string]int // "METHOD /path" -> forced status code
	Requests        []string
	nextID          int
}

// NewWhisparrServer starts a fake server with one quality profile and one root folder.
func NewWhisparrServer(t *testing.T) *WhisparrServer {
	t.Helper()
	w := &WhisparrServer{
		APIKey:      "whisparr-key",
		Profiles:    map[int]string{1: "Any", 4: "HD"},
		RootFolders: []string{"/data/whisparr"},
		Imported:    make(map[string]bool),
		FinalStatus: make(map[string]string),
		FailStatus:  make(map[string]int),
		nextID:      100,
	}
	w.Server = httptest.NewServer(http.HandlerFunc(w.handle))
	t.Cleanup(w.Close)
	return w
}

// AddMovie seeds an existing movie and returns it.
func (w *WhisparrServer) AddMovie(stashID, moviePath string) *FakeMovie {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	m := &FakeMovie{ID: w.nextID, Title: stashID, StashID: stashID, ForeignID: stashID, Path: moviePath}
	w.Movies = append(w.Movies, m)
	return m
}

// AddCandidate makes a file visible to manual import previews.
func (w *WhisparrServer) AddCandidate(c FakeCandidate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Candidates = append(w.Candidates, c)
}

// RequestLog returns a copy of the "METHOD /path" lines seen so far.
func (w *WhisparrServer) RequestLog() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.Requests...)
}

// CommandsNamed returns queued commands with the given name.
func (w *WhisparrServer) CommandsNamed(name string) []*FakeCommand {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*FakeCommand
	for _, c := range w.Commands {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// FailOn makes every method request to p answer with code.
func (w *WhisparrServer) FailOn(method, p string, code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.FailStatus[method+" "+p] = code
}

// ClearFailure undoes [WhisparrServer.FailOn].
func (w *WhisparrServer) ClearFailure(method, p string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.FailStatus, method+" "+p)
}

// MovieCount returns how many movies exist.
func (w *WhisparrServer) MovieCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Movies)
}

func (w *WhisparrServer) handle(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	w.Requests = append(w.Requests, key)

	if r.Header.Get("X-Api-Key") != w.APIKey {
		rw.WriteHeader(http.StatusUnauthorized)
		return
	}
	if code, ok := w.FailStatus[key]; ok {
		rw.WriteHeader(code)
		fmt.Fprintf(rw, `{"message":"forced %d"}`, code)
		return
	}

	var body map[string]any
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &body); err != nil {
				rw.WriteHeader(http.StatusBadRequest)
				return
			}
		}
	}

	switch {
	case key == "GET /api/v3/movie":
		w.listMovies(rw, r.URL.Query().Get("stashId"))
	case key == "POST /api/v3/movie":
		w.createMovie(rw, body)
	case key == "GET /api/v3/qualityprofile":
		var out []map[string]any
		for id, name := range w.Profiles {
			out = append(out, map[string]any{"id": id, "name": name})
		}
		sortByID(out)
		writeJSON(rw, out)
	case key == "GET /api/v3/rootfolder":
		out := make([]map[string]any, len(w.RootFolders))
		for i, p := range w.RootFolders {
			out[i] = map[string]any{"id": i + 1, "path": p}
		}
		writeJSON(rw, out)
	case key == "GET /api/v3/manualimport":
		w.preview(rw, r.URL.Query().Get("folder"))
	case key == "POST /api/v3/command":
		w.queueCommand(rw, body)
	case strings.HasPrefix(key, "GET /api/v3/command/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/v3/command/"))
		w.pollCommand(rw, id)
	case key == "GET /api/v3/system/status":
		writeJSON(rw, map[string]any{"version": "2.0.0-fake"})
	default:
		rw.WriteHeader(http.StatusNotFound)
	}
}

func (w *WhisparrServer) listMovies(rw http.ResponseWriter, stashID string) {
	out := []*FakeMovie{}
	for _, m := range w.Movies {
		if stashID == "" || m.StashID == stashID {
			out = append(out, m)
		}
	}
	writeJSON(rw, out)
}

func (w *WhisparrServer) createMovie(rw http.ResponseWriter, body map[string]any) {
	stashID, _ := body["stashId"].(string)
	root, _ := body["rootFolderPath"].(string)
	title, _ := body["title"].(string)
	for _, m := range w.Movies {
		if m.StashID == stashID {
			rw.WriteHeader(http.StatusBadRequest)
			writeJSON(rw, []map[string]any{{"errorMessage": "This movie has already been added"}})
			return
		}
	}

	w.nextID++
	profile, _ := body["qualityProfileId"].(float64)
	monitored, _ := body["monitored"].(bool)
	m := &FakeMovie{
		ID:               w.nextID,
		Title:            title,
		StashID:          stashID,
		ForeignID:        stashID,
		RootFolderPath:   root,
		Path:             path.Join(root, title),
		QualityProfileID: int(profile),
		Monitored:        monitored,
	}
	w.Movies = append(w.Movies, m)
	rw.WriteHeader(http.StatusCreated)
	writeJSON(rw, m)
}

func (w *WhisparrServer) preview(rw http.ResponseWriter, folder string) {
	out := []FakeCandidate{}
	for _, c := range w.Candidates {
		if w.Imported[c.Path] {
			continue
		}
		if path.Dir(c.Path) == folder {
			out = append(out, c)
		}
	}
	writeJSON(rw, out)
}

func (w *WhisparrServer) queueCommand(rw http.ResponseWriter, body map[string]any) {
	name, _ := body["name"].(string)
	w.nextID++
	final := w.FinalStatus[name]
	if final == "" {
		final = "completed"
	}
	cmd := &FakeCommand{ID: w.nextID, Name: name, Status: "queued", Body: body, finalize: final}
	w.Commands = append(w.Commands, cmd)
	rw.WriteHeader(http.StatusCreated)
	writeJSON(rw, cmd)
}

func (w *WhisparrServer) pollCommand(rw http.ResponseWriter, id int) {
	for _, c := range w.Commands {
		if c.ID != id {
			continue
		}
		c.polls++
		switch {
		case c.Status == "completed" || c.Status == "failed" || c.Status == "aborted":
		case c.finalize == "never":
			c.Status = "started"
		case c.polls > w.PollsBeforeDone:
			c.Status = c.finalize
			if c.Name == "ManualImport" && c.Status == "completed" {
				w.markImported(c.Body)
			}
		default:
			c.Status = "started"
		}
		writeJSON(rw, c)
		return
	}
	rw.WriteHeader(http.StatusNotFound)
}

func (w *WhisparrServer) markImported(body map[string]any) {
	files, _ := body["files"].([]any)
	for _, f := range files {
		if m, ok := f.(map[string]any); ok {
			if p, ok := m["path"].(string); ok {
				w.Imported[p] = true
			}
		}
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(v)
}

func sortByID(items []map[string]any) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j]["id"].(int) < items[j-1]["id"].(int); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
