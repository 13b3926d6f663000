package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/models"
	"github.com/desertthunder/whisparr-sync/internal/server"
)

// pluginOutput is the JSON object Stash reads back from a raw plugin.
type pluginOutput struct {
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Hook handles one Stash plugin invocation. The payload names the scene (or
// bulk mode), the plugin directory holding config.toml and the Stash server
// that made the call.
func (r *Runner) Hook(ctx context.Context, cmd *cli.Command) error {
	var in io.Reader = os.Stdin
	if p := cmd.String("payload"); p != "" {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open payload: %w", err)
		}
		defer f.Close()
		in = f
	}

	req, err := server.DecodeHookPayload(in)
	if err != nil {
		return r.writeJSON(pluginOutput{Error: err.Error()}, false)
	}

	configPath := cmd.String("config")
	if req.PluginDir != "" && !cmd.IsSet("config") {
		configPath = filepath.Join(req.PluginDir, "config.toml")
	}
	if err := r.loadConfig(configPath); err != nil {
		return r.writeJSON(pluginOutput{Error: err.Error()}, false)
	}
	if req.StashURL != "" {
		r.config.Stash.URL = req.StashURL
	}
	if err := r.prepare(ctx, configPath); err != nil {
		return r.writeJSON(pluginOutput{Error: err.Error()}, false)
	}

	rec := r.recorder(ctx, false)

	if req.Bulk {
		opts := r.defaultBulkOpts()
		opts.CSVPath = filepath.Join(req.PluginDir, "bulk_results.csv")
		opts.Recorder = rec
		result, err := r.engine.BulkSync(ctx, nil, opts)
		if result == nil {
			return r.writeJSON(pluginOutput{Error: err.Error()}, false)
		}
		summary := map[string]any{
			"batch_id":  result.BatchID,
			"total":     result.Total,
			"succeeded": result.Succeeded,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
		}
		if err != nil {
			return r.writeJSON(pluginOutput{Output: summary, Error: err.Error()}, false)
		}
		return r.writeJSON(pluginOutput{Output: summary}, false)
	}

	out, err := r.runScene(ctx, req.SceneID, false, rec)
	if out == nil {
		return r.writeJSON(pluginOutput{Error: err.Error()}, false)
	}
	if out.State == models.Failed {
		msg := out.Reason
		if out.Detail != "" {
			msg += ": " + out.Detail
		}
		return r.writeJSON(pluginOutput{Output: out, Error: msg}, false)
	}
	return r.writeJSON(pluginOutput{Output: out}, false)
}
