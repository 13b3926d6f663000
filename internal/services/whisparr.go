package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/desertthunder/whisparr-sync/internal/metrics"
	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/shared"
)

const (
	commandManualImport = "ManualImport"
	commandRenameFiles  = "RenameFiles"
	commandRefreshMovie = "RefreshMovie"
)

var defaultLanguages = json.RawMessage(`[{"id":1,"name":"English"}]`)

// WhisparrService talks to the Whisparr v3 API.
type WhisparrService struct {
	api    Transport
	logger *log.Logger
}

// NewWhisparrService creates a target client on top of api.
func NewWhisparrService(api Transport, logger *log.Logger) *WhisparrService {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &WhisparrService{api: api, logger: logger}
}

// NewWhisparrTransport builds the transport for a Whisparr server.
func NewWhisparrTransport(cfg *shared.Config, client *http.Client, logger *log.Logger) *APIService {
	return NewAPIService("whisparr", cfg.Whisparr.URL, client,
		WithHeader("X-Api-Key", cfg.Whisparr.APIKey),
		WithRetry(cfg.HTTP.RetryMax, cfg.HTTP.RetryDelay),
		WithMaxLogBody(cfg.Limits.MaxLogBody),
		WithAPILogger(logger),
	)
}

type whisparrMovie struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	ForeignID        string `json:"foreignId"`
	StashID          string `json:"stashId"`
	QualityProfileID int    `json:"qualityProfileId"`
	RootFolderPath   string `json:"rootFolderPath"`
	Path             string `json:"path"`
	Monitored        bool   `json:"monitored"`
	Statistics       struct {
		MovieFileCount int   `json:"movieFileCount"`
		SizeOnDisk     int64 `json:"sizeOnDisk"`
	} `json:"statistics"`
}

func (m whisparrMovie) model() *models.TargetMovie {
	key := m.StashID
	if key == "" {
		key = m.ForeignID
	}
	return &models.TargetMovie{
		ID:               m.ID,
		Title:            m.Title,
		SharedKey:        key,
		QualityProfileID: m.QualityProfileID,
		RootFolderPath:   m.RootFolderPath,
		Path:             m.Path,
		Monitored:        m.Monitored,
		FileCount:        m.Statistics.MovieFileCount,
		SizeOnDisk:       m.Statistics.SizeOnDisk,
	}
}

type addMovieRequest struct {
	Title            string          `json:"title"`
	ForeignID        string          `json:"foreignId"`
	StashID          string          `json:"stashId"`
	Monitored        bool            `json:"monitored"`
	QualityProfileID int             `json:"qualityProfileId"`
	RootFolderPath   string          `json:"rootFolderPath"`
	AddOptions       addMovieOptions `json:"addOptions"`
}

type addMovieOptions struct {
	Monitor        string `json:"monitor"`
	SearchForMovie bool   `json:"searchForMovie"`
}

type importPreviewItem struct {
	Path         string          `json:"path"`
	FolderName   string          `json:"folderName"`
	Size         int64           `json:"size"`
	MovieID      int             `json:"movieId"`
	Movie        *movieRef       `json:"movie"`
	ReleaseGroup string          `json:"releaseGroup"`
	Quality      json.RawMessage `json:"quality"`
	Languages    json.RawMessage `json:"languages"`
	Rejections   []struct {
		Reason string `json:"reason"`
	} `json:"rejections"`
}

type movieRef struct {
	ID int `json:"id"`
}

type manualImportFile struct {
	Path         string          `json:"path"`
	FolderName   string          `json:"folderName"`
	MovieID      int             `json:"movieId"`
	ReleaseGroup string          `json:"releaseGroup"`
	Quality      json.RawMessage `json:"quality,omitempty"`
	Languages    json.RawMessage `json:"languages"`
	IndexerFlags int             `json:"indexerFlags"`
}

type commandRequest struct {
	Name       string             `json:"name"`
	Files      []manualImportFile `json:"files,omitempty"`
	ImportMode string             `json:"importMode,omitempty"`
	MovieIDs   []int              `json:"movieIds,omitempty"`
}

type commandResource struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	CommandName string `json:"commandName"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	Message     string `json:"message"`
}

func (c commandResource) model() *models.RemoteCommand {
	name := c.Name
	if name == "" {
		name = c.CommandName
	}
	return &models.RemoteCommand{
		ID:      c.ID,
		Name:    name,
		Status:  models.ParseCommandStatus(c.Status),
		Result:  c.Result,
		Message: c.Message,
	}
}

// FindMovie looks a movie up by shared key. The server filter is not trusted:
// results are matched on stashId or foreignId, and when more than one matches
// the lowest id wins.
func (w *WhisparrService) FindMovie(ctx context.Context, sharedKey string) (*models.TargetMovie, error) {
	var movies []whisparrMovie
	if err := w.get(ctx, "/api/v3/movie", url.Values{"stashId": {sharedKey}}, &movies); err != nil {
		return nil, err
	}

	var matches []whisparrMovie
	for _, m := range movies {
		if m.StashID == sharedKey || m.ForeignID == sharedKey {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if len(matches) > 1 {
		w.logger.Warn("multiple movies share a stash id, using the oldest", "stash_id", sharedKey,
			"count", len(matches), "movie_id", matches[0].ID)
	}
	return matches[0].model(), nil
}

// CreateMovie adds the movie and returns the created entity.
//
// The quality profile is resolved by name (case-insensitive) and falls back to the
// first profile; the root folder is the configured path when Whisparr knows it,
// otherwise the first root folder.
func (w *WhisparrService) CreateMovie(ctx context.Context, sharedKey string, defaults models.MovieDefaults) (*models.TargetMovie, error) {
	profileID, err := w.resolveQualityProfile(ctx, defaults.QualityProfile)
	if err != nil {
		return nil, &shared.WhisparrError{Op: "resolve quality profile", Err: err}
	}

	rootFolder, err := w.resolveRootFolder(ctx, defaults.RootFolder)
	if err != nil {
		return nil, &shared.WhisparrError{Op: "resolve root folder", Err: err}
	}

	monitor := "none"
	if defaults.Monitored {
		monitor = "movieOnly"
	}
	title := defaults.Title
	if title == "" {
		title = sharedKey
	}

	body := addMovieRequest{
		Title:            title,
		ForeignID:        sharedKey,
		StashID:          sharedKey,
		Monitored:        defaults.Monitored,
		QualityProfileID: profileID,
		RootFolderPath:   rootFolder,
		AddOptions:       addMovieOptions{Monitor: monitor, SearchForMovie: false},
	}

	var created whisparrMovie
	if err := w.post(ctx, "/api/v3/movie", body, &created); err != nil {
		return nil, &shared.WhisparrError{Op: "create movie", Err: err}
	}
	if created.ID == 0 {
		return nil, &shared.WhisparrError{Op: "create movie", Err: fmt.Errorf("%w: response carried no movie id", shared.ErrAPIRequest)}
	}

	w.logger.Info("created movie", "movie_id", created.ID, "title", created.Title, "root_folder", rootFolder, "quality_profile", profileID)
	return created.model(), nil
}

// QualityProfiles lists the configured quality profiles.
func (w *WhisparrService) QualityProfiles(ctx context.Context) ([]models.QualityProfile, error) {
	var raw []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}
	if err := w.get(ctx, "/api/v3/qualityprofile", nil, &raw); err != nil {
		return nil, err
	}
	profiles := make([]models.QualityProfile, len(raw))
	for i, p := range raw {
		profiles[i] = models.QualityProfile{ID: p.ID, Name: p.Name}
	}
	return profiles, nil
}

// RootFolders lists the library roots.
func (w *WhisparrService) RootFolders(ctx context.Context) ([]models.RootFolder, error) {
	var raw []struct {
		ID   int    `json:"id"`
		Path string `json:"path"`
	}
	if err := w.get(ctx, "/api/v3/rootfolder", nil, &raw); err != nil {
		return nil, err
	}
	folders := make([]models.RootFolder, len(raw))
	for i, f := range raw {
		folders[i] = models.RootFolder{ID: f.ID, Path: f.Path}
	}
	return folders, nil
}

func (w *WhisparrService) resolveQualityProfile(ctx context.Context, name string) (int, error) {
	profiles, err := w.QualityProfiles(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, name) {
			return p.ID, nil
		}
	}
	if len(profiles) > 0 {
		w.logger.Warn("quality profile not found, using first available", "wanted", name, "using", profiles[0].Name)
		return profiles[0].ID, nil
	}
	w.logger.Warn("no quality profiles reported, using id 1")
	return 1, nil
}

func (w *WhisparrService) resolveRootFolder(ctx context.Context, configured string) (string, error) {
	folders, err := w.RootFolders(ctx)
	if err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", shared.ErrNoRootFolder
	}

	if configured != "" {
		want := normalizePath(configured)
		for _, f := range folders {
			if normalizePath(f.Path) == want {
				return f.Path, nil
			}
		}
		w.logger.Warn("configured root folder not found, using first available", "wanted", configured, "using", folders[0].Path)
	}
	return folders[0].Path, nil
}

// ManualImportPreview asks Whisparr what it would import from the directory holding sourcePath.
func (w *WhisparrService) ManualImportPreview(ctx context.Context, movieID int, sourcePath string) ([]models.ManualImportCandidate, error) {
	query := url.Values{
		"folder":              {path.Dir(normalizePath(sourcePath))},
		"movieId":             {strconv.Itoa(movieID)},
		"filterExistingFiles": {"true"},
	}

	var items []importPreviewItem
	if err := w.get(ctx, "/api/v3/manualimport", query, &items); err != nil {
		return nil, err
	}

	candidates := make([]models.ManualImportCandidate, 0, len(items))
	for _, it := range items {
		c := models.ManualImportCandidate{
			Path:         it.Path,
			FolderName:   it.FolderName,
			Size:         it.Size,
			MovieID:      it.MovieID,
			ReleaseGroup: it.ReleaseGroup,
			Quality:      it.Quality,
			Languages:    it.Languages,
		}
		if c.MovieID == 0 && it.Movie != nil {
			c.MovieID = it.Movie.ID
		}
		for _, r := range it.Rejections {
			c.Rejections = append(c.Rejections, r.Reason)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// MatchCandidate resolves sourcePath against a preview.
//
// An exact match on the normalized path wins. Otherwise candidates with the same
// file name are considered: one whose movie hint equals movieID is preferred,
// then the first in preview order. Ambiguous file name matches are logged.
func (w *WhisparrService) MatchCandidate(candidates []models.ManualImportCandidate, sourcePath string, movieID int) *models.ManualImportCandidate {
	c, byName := matchCandidate(candidates, sourcePath, movieID)
	if byName > 1 {
		w.logger.Warn("several import candidates share the file name", "file", path.Base(normalizePath(sourcePath)),
			"count", byName, "picked", c.Path)
	}
	return c
}

// matchCandidate is the pure matching rule. It also reports how many candidates
// matched by file name, which is zero when an exact match was found.
func matchCandidate(candidates []models.ManualImportCandidate, sourcePath string, movieID int) (*models.ManualImportCandidate, int) {
	want := normalizePath(sourcePath)
	for i := range candidates {
		if normalizePath(candidates[i].Path) == want {
			return &candidates[i], 0
		}
	}

	base := path.Base(want)
	var first, preferred *models.ManualImportCandidate
	count := 0
	for i := range candidates {
		if path.Base(normalizePath(candidates[i].Path)) != base {
			continue
		}
		count++
		if first == nil {
			first = &candidates[i]
		}
		if preferred == nil && movieID != 0 && candidates[i].MovieID == movieID {
			preferred = &candidates[i]
		}
	}
	if preferred != nil {
		return preferred, count
	}
	return first, count
}

// ExecuteManualImport queues a ManualImport command for one candidate.
func (w *WhisparrService) ExecuteManualImport(ctx context.Context, movieID int, candidate *models.ManualImportCandidate) (*models.RemoteCommand, error) {
	if len(candidate.Rejections) > 0 {
		w.logger.Warn("importing candidate with rejections", "path", candidate.Path, "rejections", candidate.Rejections)
	}

	languages := candidate.Languages
	if len(languages) == 0 || string(languages) == "null" || string(languages) == "[]" {
		languages = defaultLanguages
	}
	folder := candidate.FolderName
	if folder == "" {
		folder = path.Base(path.Dir(normalizePath(candidate.Path)))
	}

	body := commandRequest{
		Name:       commandManualImport,
		ImportMode: "auto",
		Files: []manualImportFile{{
			Path:         candidate.Path,
			FolderName:   folder,
			MovieID:      movieID,
			ReleaseGroup: candidate.ReleaseGroup,
			Quality:      candidate.Quality,
			Languages:    languages,
		}},
	}

	var cmd commandResource
	if err := w.post(ctx, "/api/v3/command", body, &cmd); err != nil {
		return nil, &shared.ManualImportError{Path: candidate.Path, MovieID: movieID, Err: err}
	}
	if cmd.ID == 0 {
		return nil, &shared.ManualImportError{Path: candidate.Path, MovieID: movieID, Err: fmt.Errorf("%w: command was not queued", shared.ErrAPIRequest)}
	}
	return cmd.model(), nil
}

// QueueRenameCommand asks Whisparr to rename the movie's files to its naming scheme.
func (w *WhisparrService) QueueRenameCommand(ctx context.Context, movieID int) (*models.RemoteCommand, error) {
	return w.queueMovieCommand(ctx, commandRenameFiles, movieID)
}

// QueueRefreshCommand asks Whisparr to rescan the movie folder.
func (w *WhisparrService) QueueRefreshCommand(ctx context.Context, movieID int) (*models.RemoteCommand, error) {
	return w.queueMovieCommand(ctx, commandRefreshMovie, movieID)
}

func (w *WhisparrService) queueMovieCommand(ctx context.Context, name string, movieID int) (*models.RemoteCommand, error) {
	var cmd commandResource
	if err := w.post(ctx, "/api/v3/command", commandRequest{Name: name, MovieIDs: []int{movieID}}, &cmd); err != nil {
		return nil, &shared.WhisparrError{Op: "queue " + name, Err: err}
	}
	return cmd.model(), nil
}

// Command fetches the current state of a queued command.
func (w *WhisparrService) Command(ctx context.Context, commandID int) (*models.RemoteCommand, error) {
	var cmd commandResource
	if err := w.get(ctx, "/api/v3/command/"+strconv.Itoa(commandID), nil, &cmd); err != nil {
		return nil, err
	}
	return cmd.model(), nil
}

// PollCommand re-reads the command every interval until it is terminal or the
// deadline passes. Read errors inside the window are logged and polled again.
// Cancelling ctx ends polling the same way the deadline does; the remote job is
// left alone either way.
func (w *WhisparrService) PollCommand(ctx context.Context, commandID int, timeout, interval time.Duration) (*models.RemoteCommand, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	last := &models.RemoteCommand{ID: commandID, Status: models.CommandQueued}
	for {
		cmd, err := w.Command(pctx, commandID)
		switch {
		case err == nil:
			last = cmd
			if cmd.IsTerminal() {
				metrics.RecordCommand(cmd.Name, string(cmd.Status), time.Since(start))
				if cmd.Status == models.CommandFailed {
					return cmd, &shared.CommandFailedError{CommandID: cmd.ID, Name: cmd.Name, Status: cmd.Result, Message: cmd.Message}
				}
				return cmd, nil
			}
		case pctx.Err() == nil:
			w.logger.Warn("failed to poll command", "command_id", commandID, "err", err)
		}

		select {
		case <-pctx.Done():
			metrics.RecordCommand(last.Name, "timeout", time.Since(start))
			return last, &shared.CommandTimeoutError{CommandID: commandID, Name: last.Name, LastStatus: string(last.Status), Timeout: timeout}
		case <-time.After(interval):
		}
	}
}

// SystemStatus returns the Whisparr version; used as a reachability check.
func (w *WhisparrService) SystemStatus(ctx context.Context) (string, error) {
	var status struct {
		Version string `json:"version"`
	}
	if err := w.get(ctx, "/api/v3/system/status", nil, &status); err != nil {
		return "", err
	}
	return status.Version, nil
}

func (w *WhisparrService) get(ctx context.Context, p string, query url.Values, result any) error {
	_, err := w.api.Do(ctx, Request{Method: http.MethodGet, Path: p, Query: query}, result)
	return err
}

func (w *WhisparrService) post(ctx context.Context, p string, body, result any) error {
	_, err := w.api.Do(ctx, Request{Method: http.MethodPost, Path: p, Body: body}, result)
	return err
}

// normalizePath converts separators to forward slashes and cleans the result.
func normalizePath(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}
