package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/services"
	"github.com/desertthunder/whisparr-sync/internal/shared"
	tu "github.com/desertthunder/whisparr-sync/internal/testing"
)

type cliFixture struct {
	runner   *Runner
	output   *bytes.Buffer
	stash    *tu.StashServer
	whisparr *tu.WhisparrServer
	dir      string
}

// newCLIFixture wires a runner to fake servers. Scene 21 has one file that
// Whisparr offers for import in place; scene 22 has no StashDB id.
func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	dir := t.TempDir()

	source := filepath.Join(dir, "stash", "scene.mp4")
	tu.MustWriteFile(t, source, "video")

	stash := tu.NewStashServer(t,
		&tu.FakeScene{
			ID:       "21",
			Title:    "Title",
			Files:    []tu.FakeFile{{Path: filepath.ToSlash(source), Size: 5}},
			StashIDs: map[string]string{"https://stashdb.org/graphql": "abc-123"},
		},
		&tu.FakeScene{ID: "22", Title: "Local Only"},
	)
	whisparr := tu.NewWhisparrServer(t)
	whisparr.AddCandidate(tu.FakeCandidate{Path: filepath.ToSlash(source), FolderName: "stash", Size: 5})

	cfg := shared.DefaultConfig()
	cfg.Stash.URL = stash.URL
	cfg.Whisparr.URL = whisparr.URL
	cfg.Paths.Mapping = nil
	cfg.Commands.PollInterval = 5 * time.Millisecond
	cfg.Commands.PollTimeout = time.Second
	cfg.Database.Path = filepath.Join(dir, "runs.db")
	cfg.Sync.BulkRateLimit = 0

	logger := log.New(io.Discard)
	stashSvc := services.NewStashService(services.NewAPIService("stash", stash.URL, http.DefaultClient,
		services.WithHeader("ApiKey", stash.APIKey), services.WithRetry(1, 0)), logger)
	whisparrSvc := services.NewWhisparrService(services.NewAPIService("whisparr", whisparr.URL, http.DefaultClient,
		services.WithHeader("X-Api-Key", whisparr.APIKey), services.WithRetry(1, 0)), logger)

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:   cfg,
		Stash:    stashSvc,
		Whisparr: whisparrSvc,
		Logger:   logger,
		Output:   output,
	})
	t.Cleanup(func() { runner.Close() })

	return &cliFixture{runner: runner, output: output, stash: stash, whisparr: whisparr, dir: dir}
}

func (f *cliFixture) run(args ...string) error {
	f.output.Reset()
	return newApp(f.runner).Run(context.Background(), append([]string{"whisparr-sync"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			stash := &services.StashService{}
			whisparr := &services.WhisparrService{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Stash:      stash,
				Whisparr:   whisparr,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger || runner.ownLogger {
				t.Error("expected injected logger to be kept")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.stash != stash || runner.whisparr != whisparr {
				t.Error("expected services to be set")
			}
		})

		t.Run("with nothing provided uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config != nil {
				t.Error("expected config to be loaded lazily")
			}
			if runner.logger == nil || !runner.ownLogger {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected stdout output")
			}
		})
	})

	t.Run("Register", func(t *testing.T) {
		names := map[string]bool{}
		for _, c := range NewRunner(RunnerOpts{}).register() {
			names[c.Name] = true
		}
		for _, want := range []string{"setup", "sync", "bulk", "hook", "serve", "history"} {
			if !names[want] {
				t.Errorf("expected %s command", want)
			}
		}
	})

	t.Run("Prepare", func(t *testing.T) {
		t.Run("builds clients and engine from config", func(t *testing.T) {
			cfg := shared.DefaultConfig()
			runner := NewRunner(RunnerOpts{Config: cfg, Logger: log.New(io.Discard), Output: io.Discard})
			if err := runner.prepare(context.Background(), "unused.toml"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.stash == nil || runner.whisparr == nil || runner.engine == nil {
				t.Fatal("expected clients and engine to be built")
			}
			if runner.httpClient.Timeout != cfg.HTTP.Timeout {
				t.Errorf("expected client timeout %v, got %v", cfg.HTTP.Timeout, runner.httpClient.Timeout)
			}
		})

		t.Run("missing config file falls back to defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: log.New(io.Discard)})
			if err := runner.loadConfig(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if runner.config == nil || runner.config.Stash.EndpointSubstr != "stashdb.org" {
				t.Errorf("expected default config, got %+v", runner.config)
			}
		})

		t.Run("invalid config file is an error", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			tu.MustWriteFile(t, path, "[http]\nretry_max = 99\n")

			runner := NewRunner(RunnerOpts{Logger: log.New(io.Discard)})
			err := runner.loadConfig(path)
			if !errors.Is(err, shared.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	})

	t.Run("Helpers", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writeJSON(map[string]int{"a": 1}, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if output.String() != "{\"a\":1}\n" {
			t.Errorf("unexpected JSON output %q", output.String())
		}

		output.Reset()
		runner.writePlainHeader("Title")
		if !strings.Contains(output.String(), "Title\n") {
			t.Errorf("expected header, got %q", output.String())
		}

		failing := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
		if err := failing.writePlain("x"); err == nil {
			t.Error("expected write error")
		}

		limited := tu.NewLimitedWriter(1, 0, io.Discard)
		err := NewRunner(RunnerOpts{Output: &limited}).writeJSON([]int{1}, true)
		if err == nil || !strings.Contains(err.Error(), "newline") {
			t.Errorf("expected newline write error, got %v", err)
		}
	})
}

func TestSyncCommand(t *testing.T) {
	t.Run("Succeeded", func(t *testing.T) {
		f := newCLIFixture(t)

		if err := f.run("sync", "--scene", "21", "--json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var out models.SyncOutcome
		if err := json.Unmarshal(f.output.Bytes(), &out); err != nil {
			t.Fatalf("failed to decode output %q: %v", f.output.String(), err)
		}
		if out.State != models.Succeeded || out.ProcessedFiles != 1 || !out.Files[0].Imported {
			t.Errorf("unexpected outcome %+v", out)
		}
		if f.whisparr.MovieCount() != 1 {
			t.Errorf("expected one movie, got %d", f.whisparr.MovieCount())
		}

		runs, err := f.runner.ledger.List(context.Background(), map[string]any{"scene_id": "21"}, 0)
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) != 1 || runs[0].Outcome.State != models.Succeeded {
			t.Errorf("expected one recorded run, got %+v", runs)
		}
	})

	t.Run("Plain Output With Progress", func(t *testing.T) {
		f := newCLIFixture(t)

		if err := f.run("sync", "--scene", "21", "--no-history"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"Fetching scene 21", "Resolving Whisparr movie for abc-123", "[1/1]", "Scene 21", "succeeded"} {
			if !strings.Contains(f.output.String(), want) {
				t.Errorf("expected %q in output:\n%s", want, f.output.String())
			}
		}
		if f.runner.ledger != nil {
			t.Error("expected run history to stay closed")
		}
	})

	t.Run("Skipped Is Not An Error", func(t *testing.T) {
		f := newCLIFixture(t)

		if err := f.run("sync", "--scene", "22"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "no-id") {
			t.Errorf("expected skip reason in output:\n%s", f.output.String())
		}
		if f.whisparr.MovieCount() != 0 {
			t.Error("expected no movie for a skipped scene")
		}
	})

	t.Run("Failed Exits 1", func(t *testing.T) {
		f := newCLIFixture(t)
		f.stash.Fail = http.StatusInternalServerError

		err := f.run("sync", "--scene", "21")
		var exit cli.ExitCoder
		if !errors.As(err, &exit) || exit.ExitCode() != 1 {
			t.Fatalf("expected exit code 1, got %v", err)
		}
		if !strings.Contains(f.output.String(), "scene-fetch") {
			t.Errorf("expected failure reason in output:\n%s", f.output.String())
		}
	})

	t.Run("Missing Scene Flag", func(t *testing.T) {
		f := newCLIFixture(t)
		if err := f.run("sync"); err == nil {
			t.Fatal("expected an error without --scene")
		}
	})
}

func TestBulkCommand(t *testing.T) {
	t.Run("Explicit IDs", func(t *testing.T) {
		f := newCLIFixture(t)
		csvPath := filepath.Join(f.dir, "reports", "bulk.csv")
		reportPath := filepath.Join(f.dir, "reports", "bulk.json")

		err := f.run("bulk", "--ids", "21,22", "--workers", "1", "--csv", csvPath, "--report", reportPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, want := range []string{"Bulk Sync Complete", "2 scenes:", "1 succeeded", "1 skipped", "0 failed"} {
			if !strings.Contains(f.output.String(), want) {
				t.Errorf("expected %q in output:\n%s", want, f.output.String())
			}
		}

		csv := tu.MustReadFile(t, csvPath)
		if lines := strings.Split(strings.TrimSpace(csv), "\n"); len(lines) != 3 {
			t.Errorf("expected header and two rows, got %d lines:\n%s", len(lines), csv)
		}
		tu.AssertFileExists(t, reportPath)

		runs, err := f.runner.ledger.List(context.Background(), nil, 0)
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) != 2 || runs[0].BatchID == "" || runs[0].BatchID != runs[1].BatchID {
			t.Errorf("expected two runs from one batch, got %+v", runs)
		}
	})

	t.Run("Flags Override Config", func(t *testing.T) {
		f := newCLIFixture(t)
		cmd := bulkCommand(f.runner)
		cmd.Action = func(ctx context.Context, c *cli.Command) error {
			opts, err := f.runner.bulkOpts(c)
			if err != nil {
				return err
			}
			if opts.Workers != 4 || opts.RateLimit != 0.5 || opts.PageSize != 10 || opts.Textfile != "m.prom" {
				t.Errorf("unexpected opts %+v", opts)
			}
			if len(opts.IDs) != 3 {
				t.Errorf("expected 3 ids, got %v", opts.IDs)
			}
			return nil
		}
		args := []string{"bulk", "--ids", "1,2", "--ids", "3", "--workers", "4", "--rate", "0.5", "--page-size", "10", "--textfile", "m.prom"}
		if err := cmd.Run(context.Background(), args); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Defaults Come From Config", func(t *testing.T) {
		f := newCLIFixture(t)
		f.runner.config.Sync.BulkWorkers = 3
		f.runner.config.Sync.BulkRateLimit = 2
		cmd := bulkCommand(f.runner)
		cmd.Action = func(ctx context.Context, c *cli.Command) error {
			opts, err := f.runner.bulkOpts(c)
			if err != nil {
				return err
			}
			if opts.Workers != 3 || opts.RateLimit != 2 || opts.CSVPath != "bulk_results.csv" || len(opts.IDs) != 0 {
				t.Errorf("unexpected opts %+v", opts)
			}
			return nil
		}
		if err := cmd.Run(context.Background(), []string{"bulk"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestHookCommand(t *testing.T) {
	decode := func(t *testing.T, data []byte) map[string]any {
		t.Helper()
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("failed to decode plugin output %q: %v", data, err)
		}
		return out
	}

	t.Run("Scene Hook", func(t *testing.T) {
		f := newCLIFixture(t)
		payload := filepath.Join(f.dir, "payload.json")
		tu.MustWriteFile(t, payload, `{"args":{"hookContext":{"id":21,"type":"Scene.Update.Post"}},"PluginDir":"`+filepath.ToSlash(f.dir)+`"}`)

		if err := f.run("hook", "--payload", payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := decode(t, f.output.Bytes())
		if _, hasErr := out["error"]; hasErr {
			t.Fatalf("unexpected plugin error: %v", out["error"])
		}
		outcome, _ := out["output"].(map[string]any)
		if outcome["state"] != "succeeded" || outcome["scene_id"] != "21" {
			t.Errorf("unexpected plugin output %v", out)
		}
	})

	t.Run("Bulk Task", func(t *testing.T) {
		f := newCLIFixture(t)
		payload := filepath.Join(f.dir, "payload.json")
		tu.MustWriteFile(t, payload, `{"args":{"mode":"bulk"},"PluginDir":"`+filepath.ToSlash(f.dir)+`"}`)

		if err := f.run("hook", "--payload", payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := decode(t, f.output.Bytes())
		summary, _ := out["output"].(map[string]any)
		if summary["total"] != float64(2) || summary["succeeded"] != float64(1) || summary["skipped"] != float64(1) {
			t.Errorf("unexpected bulk summary %v", out)
		}
		tu.AssertFileExists(t, filepath.Join(f.dir, "bulk_results.csv"))
	})

	t.Run("Bad Payload", func(t *testing.T) {
		f := newCLIFixture(t)
		payload := filepath.Join(f.dir, "payload.json")
		tu.MustWriteFile(t, payload, `{"args":{}}`)

		if err := f.run("hook", "--payload", payload); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := decode(t, f.output.Bytes())
		if msg, _ := out["error"].(string); !strings.Contains(msg, "missing required argument") {
			t.Errorf("expected missing argument error, got %v", out)
		}
	})
}

func TestHistoryCommand(t *testing.T) {
	f := newCLIFixture(t)
	if err := f.run("sync", "--scene", "21", "--json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.run("sync", "--scene", "22", "--json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("List", func(t *testing.T) {
		if err := f.run("history", "list"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"Sync History (2 runs)", "scene 21", "scene 22", "no-id"} {
			if !strings.Contains(f.output.String(), want) {
				t.Errorf("expected %q in output:\n%s", want, f.output.String())
			}
		}
	})

	t.Run("List Filtered JSON", func(t *testing.T) {
		if err := f.run("history", "list", "--state", "skipped", "--json"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var items []map[string]any
		if err := json.Unmarshal(f.output.Bytes(), &items); err != nil {
			t.Fatalf("failed to decode %q: %v", f.output.String(), err)
		}
		if len(items) != 1 {
			t.Fatalf("expected one skipped run, got %d", len(items))
		}
	})

	t.Run("Show", func(t *testing.T) {
		runs, err := f.runner.ledger.List(context.Background(), map[string]any{"scene_id": "21"}, 1)
		if err != nil || len(runs) != 1 {
			t.Fatalf("expected a run for scene 21: %v", err)
		}
		if err := f.run("history", "show", runs[0].ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "Scene 21") {
			t.Errorf("expected scene in output:\n%s", f.output.String())
		}

		if err := f.run("history", "show", "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Invalid State", func(t *testing.T) {
		if err := f.run("history", "list", "--state", "done"); !errors.Is(err, shared.ErrInvalidFlag) {
			t.Errorf("expected ErrInvalidFlag, got %v", err)
		}
	})

	t.Run("Prune", func(t *testing.T) {
		if err := f.run("history", "prune", "--older-than", "1h"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "Removed 0 runs") {
			t.Errorf("expected nothing pruned, got %q", f.output.String())
		}

		time.Sleep(5 * time.Millisecond)
		if err := f.run("history", "prune", "--older-than", "1ms"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "Removed 2 runs") {
			t.Errorf("expected both runs pruned, got %q", f.output.String())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		g := newCLIFixture(t)
		g.runner.config.Database.Path = ""
		if err := g.run("history", "list"); !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestSetupCommand(t *testing.T) {
	t.Run("Check", func(t *testing.T) {
		f := newCLIFixture(t)
		if err := f.run("setup", "check"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"v0.0.0-fake", "2.0.0-fake"} {
			if !strings.Contains(f.output.String(), want) {
				t.Errorf("expected %q in output:\n%s", want, f.output.String())
			}
		}
	})

	t.Run("Check Unreachable", func(t *testing.T) {
		f := newCLIFixture(t)
		f.stash.Fail = http.StatusBadGateway

		err := f.run("setup", "check")
		if !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Fatalf("expected ErrServiceUnavailable, got %v", err)
		}
		if !strings.Contains(f.output.String(), "✗ Stash") || !strings.Contains(f.output.String(), "✓ Whisparr") {
			t.Errorf("unexpected output:\n%s", f.output.String())
		}
	})

	t.Run("Config", func(t *testing.T) {
		f := newCLIFixture(t)
		path := filepath.Join(f.dir, "config.toml")

		if err := f.run("--config", path, "setup", "config"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tu.AssertFileExists(t, path)
		if err := f.run("--config", path, "setup", "config"); err == nil {
			t.Error("expected an error when the file exists")
		}
	})

	t.Run("Database", func(t *testing.T) {
		f := newCLIFixture(t)
		if err := f.run("setup", "database"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "2 migrations applied") {
			t.Errorf("unexpected output %q", f.output.String())
		}
		tu.AssertFileExists(t, f.runner.config.Database.Path)

		if err := f.run("setup", "database"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "0 migrations applied") {
			t.Errorf("expected a second run to apply nothing, got %q", f.output.String())
		}
	})

	t.Run("Database Rollback", func(t *testing.T) {
		f := newCLIFixture(t)
		if err := f.run("setup", "database"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := f.run("setup", "database", "--rollback"); err != nil {
			t.Fatalf("unexpected rollback error: %v", err)
		}
		if !strings.Contains(f.output.String(), "Rolled back latest migration") {
			t.Errorf("unexpected output %q", f.output.String())
		}

		if err := f.run("setup", "database"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(f.output.String(), "1 migrations applied") {
			t.Errorf("expected the rolled back migration to be reapplied, got %q", f.output.String())
		}
	})
}

func TestServeCommand(t *testing.T) {
	f := newCLIFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	args := []string{"whisparr-sync", "serve", "--addr", "127.0.0.1:0", "--shutdown-timeout", "1s"}
	if err := newApp(f.runner).Run(ctx, args); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}
