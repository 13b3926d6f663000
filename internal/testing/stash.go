package testing

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

// FakeScene is a scene served by [StashServer] in GraphQL wire shape.
type FakeScene struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Tags     []string          `json:"-"`
	Files    []FakeFile        `json:"files"`
	StashIDs map[string]string `json:"-"` // endpoint -> stash_id
}

// FakeFile is one file of a [FakeScene].
type FakeFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// StashServer answers the findScene, findScenes and version queries.
type StashServer struct {
	*httptest.Server

	mu     sync.Mutex
	APIKey string
	Scenes map[string]*FakeScene
	Raw    map[string]string // scene id -> literal findScene JSON, overrides Scenes
	Fail   int               // when non-zero every request answers with this status
	Calls  int
}

// NewStashServer starts a fake Stash holding scenes.
func NewStashServer(t *testing.T, scenes ...*FakeScene) *StashServer {
	t.Helper()
	s := &StashServer{
		APIKey: "stash-key",
		Scenes: make(map[string]*FakeScene),
		Raw:    make(map[string]string),
	}
	for _, sc := range scenes {
		s.Scenes[sc.ID] = sc
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Put adds or replaces a scene.
func (s *StashServer) Put(sc *FakeScene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scenes[sc.ID] = sc
}

func (s *StashServer) handle(rw http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	if r.URL.Path != "/graphql" || r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("ApiKey") != s.APIKey {
		rw.WriteHeader(http.StatusUnauthorized)
		return
	}
	if s.Fail != 0 {
		rw.WriteHeader(s.Fail)
		return
	}

	data, _ := io.ReadAll(r.Body)
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(req.Query, "findScenes"):
		s.findScenes(rw, req.Variables)
	case strings.Contains(req.Query, "findScene"):
		id, _ := req.Variables["id"].(string)
		s.findScene(rw, id)
	case strings.Contains(req.Query, "version"):
		io.WriteString(rw, `{"data":{"version":{"version":"v0.0.0-fake"}}}`)
	default:
		io.WriteString(rw, `{"errors":[{"message":"unknown query"}],"data":null}`)
	}
}

func (s *StashServer) findScene(rw http.ResponseWriter, id string) {
	if raw, ok := s.Raw[id]; ok {
		io.WriteString(rw, `{"data":{"findScene":`+raw+`}}`)
		return
	}
	sc, ok := s.Scenes[id]
	if !ok {
		io.WriteString(rw, `{"data":{"findScene":null}}`)
		return
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"findScene": sceneWire(sc)}})
}

func (s *StashServer) findScenes(rw http.ResponseWriter, vars map[string]any) {
	ids := make([]string, 0, len(s.Scenes))
	for id := range s.Scenes {
		ids = append(ids, id)
	}
	for id := range s.Raw {
		if _, dup := s.Scenes[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})

	page, perPage := 1, len(ids)
	if filter, ok := vars["filter"].(map[string]any); ok {
		if p, ok := filter["page"].(float64); ok {
			page = int(p)
		}
		if pp, ok := filter["per_page"].(float64); ok && pp > 0 {
			perPage = int(pp)
		}
	}

	start := min((page-1)*perPage, len(ids))
	end := min(start+perPage, len(ids))
	scenes := make([]map[string]string, 0, end-start)
	for _, id := range ids[start:end] {
		scenes = append(scenes, map[string]string{"id": id})
	}
	writeJSON(rw, map[string]any{"data": map[string]any{"findScenes": map[string]any{"count": len(ids), "scenes": scenes}}})
}

func sceneWire(sc *FakeScene) map[string]any {
	tags := make([]map[string]string, len(sc.Tags))
	for i, t := range sc.Tags {
		tags[i] = map[string]string{"name": t}
	}
	files := sc.Files
	if files == nil {
		files = []FakeFile{}
	}
	ids := make([]map[string]string, 0, len(sc.StashIDs))
	for endpoint, id := range sc.StashIDs {
		ids = append(ids, map[string]string{"endpoint": endpoint, "stash_id": id})
	}
	return map[string]any{
		"id":        sc.ID,
		"title":     sc.Title,
		"tags":      tags,
		"files":     files,
		"stash_ids": ids,
	}
}
