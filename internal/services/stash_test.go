package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// graphQLServer answers every query with the handler's data payload.
func graphQLServer(t *testing.T, handler func(query string, vars map[string]any) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/graphql" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("ApiKey") != "stash-key" {
			t.Errorf("expected ApiKey header, got %q", r.Header.Get("ApiKey"))
		}
		body, _ := io.ReadAll(r.Body)
		var req graphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad graphql request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(handler(req.Query, req.Variables)))
	}))
}

func newTestStash(url string) *StashService {
	return NewStashService(newTestAPI(url, WithHeader("ApiKey", "stash-key")), nil)
}

func TestStashService(t *testing.T) {
	ctx := context.Background()

	t.Run("FetchScene", func(t *testing.T) {
		t.Run("Valid Scene", func(t *testing.T) {
			server := graphQLServer(t, func(q string, vars map[string]any) string {
				if vars["id"] != "12" {
					t.Errorf("expected id variable 12, got %v", vars["id"])
				}
				return `{"data":{"findScene":{"id":"12","title":"A Scene",
					"tags":[{"name":"Favorite"}],
					"files":[{"path":"/data/stash/a.mp4","size":1024}],
					"stash_ids":[{"endpoint":"https://stashdb.org/graphql","stash_id":"abc-123"}]}}}`
			})
			defer server.Close()

			scene, err := newTestStash(server.URL).FetchScene(ctx, "12")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scene.Title != "A Scene" || len(scene.Files) != 1 || scene.Files[0].Size != 1024 {
				t.Errorf("unexpected scene: %+v", scene)
			}
			if key := scene.SharedKey("stashdb.org"); key != "abc-123" {
				t.Errorf("expected shared key abc-123, got %q", key)
			}
		})

		t.Run("Empty Lists Are Valid", func(t *testing.T) {
			server := graphQLServer(t, func(string, map[string]any) string {
				return `{"data":{"findScene":{"id":"1","title":"","tags":[],"files":[],"stash_ids":[]}}}`
			})
			defer server.Close()

			scene, err := newTestStash(server.URL).FetchScene(ctx, "1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if scene.SharedKey("stashdb.org") != "" {
				t.Error("expected no shared key")
			}
		})

		t.Run("Not Found", func(t *testing.T) {
			server := graphQLServer(t, func(string, map[string]any) string {
				return `{"data":{"findScene":null}}`
			})
			defer server.Close()

			_, err := newTestStash(server.URL).FetchScene(ctx, "99")
			var nf *shared.SceneNotFoundError
			if !errors.As(err, &nf) || nf.SceneID != "99" {
				t.Errorf("expected SceneNotFoundError, got %v", err)
			}
		})

		t.Run("Malformed Payload", func(t *testing.T) {
			tc := []struct {
				name  string
				scene string
				field string
			}{
				{name: "null files", scene: `{"id":"1","tags":[],"files":null,"stash_ids":[]}`, field: "Files"},
				{name: "missing tags", scene: `{"id":"1","files":[],"stash_ids":[]}`, field: "Tags"},
				{name: "file without path", scene: `{"id":"1","tags":[],"files":[{"size":3}],"stash_ids":[]}`, field: "Path"},
				{name: "wrong type", scene: `{"id":"1","tags":"oops","files":[],"stash_ids":[]}`, field: ""},
			}

			for _, tt := range tc {
				t.Run(tt.name, func(t *testing.T) {
					server := graphQLServer(t, func(string, map[string]any) string {
						return `{"data":{"findScene":` + tt.scene + `}}`
					})
					defer server.Close()

					_, err := newTestStash(server.URL).FetchScene(ctx, "1")
					var ve *shared.ValidationError
					if !errors.As(err, &ve) {
						t.Fatalf("expected ValidationError, got %v", err)
					}
					if tt.field != "" && !strings.Contains(ve.Error(), tt.field) {
						t.Errorf("expected %s in %v", tt.field, ve)
					}
				})
			}
		})

		t.Run("GraphQL Errors", func(t *testing.T) {
			server := graphQLServer(t, func(string, map[string]any) string {
				return `{"errors":[{"message":"unauthorized"}],"data":null}`
			})
			defer server.Close()

			_, err := newTestStash(server.URL).FetchScene(ctx, "1")
			var te *shared.TransportError
			if !errors.As(err, &te) || !strings.Contains(te.BodyPreview, "unauthorized") {
				t.Errorf("expected TransportError with graphql message, got %v", err)
			}
		})
	})

	t.Run("SceneIDs", func(t *testing.T) {
		server := graphQLServer(t, func(q string, vars map[string]any) string {
			filter := vars["filter"].(map[string]any)
			switch filter["page"].(float64) {
			case 1:
				return `{"data":{"findScenes":{"count":3,"scenes":[{"id":"1"},{"id":"2"}]}}}`
			case 2:
				return `{"data":{"findScenes":{"count":3,"scenes":[{"id":"3"}]}}}`
			}
			t.Errorf("unexpected page %v", filter["page"])
			return `{"data":{"findScenes":{"count":3,"scenes":[]}}}`
		})
		defer server.Close()

		ids, err := newTestStash(server.URL).SceneIDs(ctx, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Join(ids, ",") != "1,2,3" {
			t.Errorf("unexpected ids %v", ids)
		}
	})

	t.Run("Version", func(t *testing.T) {
		server := graphQLServer(t, func(string, map[string]any) string {
			return `{"data":{"version":{"version":"v0.27.0"}}}`
		})
		defer server.Close()

		v, err := newTestStash(server.URL).Version(ctx)
		if err != nil || v != "v0.27.0" {
			t.Errorf("Version() = %q, %v", v, err)
		}
	})
}

func TestHasIgnoredTag(t *testing.T) {
	scene := &models.SceneRecord{TagNames: []string{"Favorite", " Compilation "}}

	tc := []struct {
		name   string
		ignore []string
		want   string
		found  bool
	}{
		{name: "no ignore list", ignore: nil},
		{name: "no overlap", ignore: []string{"Trailer"}},
		{name: "case insensitive", ignore: []string{"compilation"}, want: " Compilation ", found: true},
		{name: "first scene tag wins", ignore: []string{"COMPILATION", "favorite"}, want: "Favorite", found: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := HasIgnoredTag(scene, tt.ignore)
			if ok != tt.found || got != tt.want {
				t.Errorf("HasIgnoredTag() = %q, %v; want %q, %v", got, ok, tt.want, tt.found)
			}
		})
	}
}
