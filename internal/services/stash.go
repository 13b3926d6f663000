package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

const (
	findSceneQuery = `query FindScene($id: ID!) {
  findScene(id: $id) {
    id
    title
    tags { name }
    files { path size }
    stash_ids { endpoint stash_id }
  }
}`

	findScenesQuery = `query FindScenes($filter: FindFilterType) {
  findScenes(filter: $filter) {
    count
    scenes { id }
  }
}`

	versionQuery = `query Version { version { version } }`
)

// StashService talks to the Stash GraphQL API.
type StashService struct {
	api    Transport
	logger *log.Logger
}

// NewStashService creates a catalog client on top of api.
func NewStashService(api Transport, logger *log.Logger) *StashService {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &StashService{api: api, logger: logger}
}

// NewStashTransport builds the transport for a Stash server. Stash expects the key in an ApiKey header.
func NewStashTransport(cfg *shared.Config, client *http.Client, logger *log.Logger) *APIService {
	return NewAPIService("stash", cfg.Stash.URL, client,
		WithHeader("ApiKey", cfg.Stash.APIKey),
		WithRetry(cfg.HTTP.RetryMax, cfg.HTTP.RetryDelay),
		WithMaxLogBody(cfg.Limits.MaxLogBody),
		WithAPILogger(logger),
	)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type stashScene struct {
	ID       string         `json:"id" validate:"required"`
	Title    string         `json:"title"`
	Tags     []stashTag     `json:"tags" validate:"required,dive"`
	Files    []stashFile    `json:"files" validate:"required,dive"`
	StashIDs []stashSceneID `json:"stash_ids" validate:"required,dive"`
}

type stashTag struct {
	Name string `json:"name" validate:"required"`
}

type stashFile struct {
	Path string `json:"path" validate:"required"`
	Size int64  `json:"size"`
}

type stashSceneID struct {
	Endpoint string `json:"endpoint" validate:"required"`
	StashID  string `json:"stash_id"`
}

// query runs a read-only GraphQL operation and decodes its data field.
func (s *StashService) query(ctx context.Context, query string, vars map[string]any, data any) error {
	var resp graphQLResponse
	req := Request{
		Method:     http.MethodPost,
		Path:       "/graphql",
		Body:       graphQLRequest{Query: query, Variables: vars},
		Idempotent: true,
	}
	apiResp, err := s.api.Do(ctx, req, &resp)
	if err != nil {
		return err
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return &shared.TransportError{
			Method:      req.Method,
			URL:         req.Path,
			StatusCode:  apiResp.StatusCode,
			BodyPreview: "graphql: " + strings.Join(msgs, "; "),
		}
	}

	if err := json.Unmarshal(resp.Data, data); err != nil {
		return fmt.Errorf("%w: failed to decode graphql data: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// FetchScene loads a scene and validates it at the boundary.
func (s *StashService) FetchScene(ctx context.Context, sceneID string) (*models.SceneRecord, error) {
	var data struct {
		FindScene *json.RawMessage `json:"findScene"`
	}
	if err := s.query(ctx, findSceneQuery, map[string]any{"id": sceneID}, &data); err != nil {
		return nil, err
	}
	if data.FindScene == nil || string(*data.FindScene) == "null" {
		return nil, &shared.SceneNotFoundError{SceneID: sceneID}
	}

	var raw stashScene
	if err := json.Unmarshal(*data.FindScene, &raw); err != nil {
		return nil, &shared.ValidationError{SceneID: sceneID, Fields: []string{err.Error()}}
	}

	problems, err := shared.ValidateStruct(&raw)
	if err != nil {
		return nil, &shared.ValidationError{SceneID: sceneID, Fields: []string{err.Error()}}
	}
	if len(problems) > 0 {
		return nil, &shared.ValidationError{SceneID: sceneID, Fields: problems}
	}

	return raw.record(), nil
}

func (sc stashScene) record() *models.SceneRecord {
	rec := &models.SceneRecord{
		ID:          sc.ID,
		Title:       sc.Title,
		TagNames:    make([]string, 0, len(sc.Tags)),
		ExternalIDs: make(map[string]string, len(sc.StashIDs)),
		Files:       make([]models.FileRef, 0, len(sc.Files)),
	}
	for _, t := range sc.Tags {
		rec.TagNames = append(rec.TagNames, t.Name)
	}
	for _, id := range sc.StashIDs {
		rec.ExternalIDs[id.Endpoint] = id.StashID
	}
	for _, f := range sc.Files {
		rec.Files = append(rec.Files, models.FileRef{CatalogPath: f.Path, Size: f.Size})
	}
	return rec
}

// SceneIDs pages through findScenes in id order.
func (s *StashService) SceneIDs(ctx context.Context, perPage int) ([]string, error) {
	if perPage <= 0 {
		perPage = 100
	}

	var ids []string
	for page := 1; ; page++ {
		var data struct {
			FindScenes struct {
				Count  int `json:"count"`
				Scenes []struct {
					ID string `json:"id"`
				} `json:"scenes"`
			} `json:"findScenes"`
		}
		vars := map[string]any{
			"filter": map[string]any{"page": page, "per_page": perPage, "sort": "id", "direction": "ASC"},
		}
		if err := s.query(ctx, findScenesQuery, vars, &data); err != nil {
			return ids, fmt.Errorf("failed to list scenes (page %d): %w", page, err)
		}

		for _, sc := range data.FindScenes.Scenes {
			ids = append(ids, sc.ID)
		}
		s.logger.Debug("listed scenes", "page", page, "seen", len(ids), "count", data.FindScenes.Count)

		if len(data.FindScenes.Scenes) < perPage || len(ids) >= data.FindScenes.Count {
			return ids, nil
		}
	}
}

// Version returns the Stash server version; used as a reachability check.
func (s *StashService) Version(ctx context.Context) (string, error) {
	var data struct {
		Version struct {
			Version string `json:"version"`
		} `json:"version"`
	}
	if err := s.query(ctx, versionQuery, nil, &data); err != nil {
		return "", err
	}
	return data.Version.Version, nil
}

// HasIgnoredTag reports the first scene tag that appears in ignore, compared
// case-insensitively after trimming.
func HasIgnoredTag(scene *models.SceneRecord, ignore []string) (string, bool) {
	if len(ignore) == 0 {
		return "", false
	}
	for _, tag := range scene.TagNames {
		for _, ig := range ignore {
			if strings.EqualFold(strings.TrimSpace(tag), strings.TrimSpace(ig)) {
				return tag, true
			}
		}
	}
	return "", false
}
