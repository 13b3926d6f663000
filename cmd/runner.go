package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/files"
	"github.com/desertthunder/whisparr-sync/internal/repositories"
	"github.com/desertthunder/whisparr-sync/internal/services"
	"github.com/desertthunder/whisparr-sync/internal/shared"
	"github.com/desertthunder/whisparr-sync/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Dependencies that are not injected are built on first use from the file named
// by the --config flag.
type Runner struct {
	config     *shared.Config
	stash      *services.StashService
	whisparr   *services.WhisparrService
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	engine     *tasks.SceneEngine
	sink       *shared.LogSink
	db         *sql.DB
	ledger     *repositories.SyncRunRepository
	ownLogger  bool
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	Stash      *services.StashService
	Whisparr   *services.WhisparrService
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	r := &Runner{
		config:     opts.Config,
		stash:      opts.Stash,
		whisparr:   opts.Whisparr,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
	if r.logger == nil {
		r.logger = shared.NewLogger(nil)
		r.ownLogger = true
	}
	if r.output == nil {
		r.output = os.Stdout
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, syncCommand, bulkCommand, hookCommand, serveCommand, historyCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads path, falling back to defaults plus the environment when
// the file does not exist.
func (r *Runner) loadConfig(path string) error {
	if r.config != nil {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("config file not found, using defaults", "path", path)
		config := shared.DefaultConfig()
		if err := config.ApplyEnv(os.LookupEnv); err != nil {
			return err
		}
		if err := config.Validate(); err != nil {
			return err
		}
		r.config = config
		return nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}
	r.config = config
	return nil
}

// prepare loads the configuration and builds the clients and the engine.
func (r *Runner) prepare(ctx context.Context, configPath string) error {
	if err := r.loadConfig(configPath); err != nil {
		return err
	}
	cfg := r.config

	if r.ownLogger && r.sink == nil {
		sink, err := shared.OpenLogSink(cfg.Logging, os.Stderr)
		if err != nil {
			return err
		}
		r.sink = sink
		r.logger = sink.Logger()
	}

	if r.httpClient == nil {
		r.httpClient = &http.Client{Timeout: cfg.HTTP.Timeout}
	}
	if r.stash == nil {
		transport := services.NewStashTransport(cfg, r.httpClient, r.logger)
		r.stash = services.NewStashService(
			services.NewBreakerTransport("stash", transport, services.BreakerSettings{}, r.logger), r.logger)
	}
	if r.whisparr == nil {
		transport := services.NewWhisparrTransport(cfg, r.httpClient, r.logger)
		r.whisparr = services.NewWhisparrService(
			services.NewBreakerTransport("whisparr", transport, services.BreakerSettings{}, r.logger), r.logger)
	}

	if r.engine == nil {
		var options []tasks.EngineOption
		if r.sink != nil {
			sink, base := r.sink, r.logger
			options = append(options, tasks.WithSceneLogger(func(sceneID string) (*log.Logger, io.Closer) {
				return sink.ForScene(base, sceneID)
			}))
		}
		mover := files.NewManager(cfg.Paths, cfg.Files, r.logger)
		r.engine = tasks.NewSceneEngine(r.stash, r.whisparr, mover, tasks.OptionsFromConfig(cfg), r.logger, options...)
	}
	return nil
}

// openLedger opens the run history database. It returns nil without an error
// when no database path is configured.
func (r *Runner) openLedger(ctx context.Context) (*repositories.SyncRunRepository, error) {
	if r.ledger != nil {
		return r.ledger, nil
	}
	if r.config.Database.Path == "" {
		return nil, nil
	}

	db, err := shared.OpenLedger(ctx, r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	r.db = db
	r.ledger = repositories.NewSyncRunRepository(db)
	return r.ledger, nil
}

// recorder returns the ledger as a [tasks.RunRecorder], or nil when disabled
// or unavailable. A ledger that cannot be opened never blocks a sync.
func (r *Runner) recorder(ctx context.Context, disabled bool) tasks.RunRecorder {
	if disabled {
		return nil
	}
	ledger, err := r.openLedger(ctx)
	if err != nil {
		r.logger.Warn("run history disabled", "err", err)
		return nil
	}
	if ledger == nil {
		return nil
	}
	return ledger
}

// Close releases the database and log files.
func (r *Runner) Close() error {
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db, r.ledger = nil, nil
	}
	if r.sink != nil {
		errs = append(errs, r.sink.Close())
		r.sink = nil
	}
	return errors.Join(errs...)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
