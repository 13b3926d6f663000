// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

// setupCommand handles setup operations for configuration, database and connectivity.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write an example configuration file to the --config path",
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize the run history database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:   "check",
				Usage:  "Check that Stash and Whisparr are reachable with the configured keys",
				Action: r.SetupCheck,
			},
		},
	}
}

// syncCommand syncs a single scene.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync one Stash scene into Whisparr",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "scene",
				Aliases:  []string{"s"},
				Usage:    "Stash scene ID",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the outcome as JSON",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record the outcome in the run history",
			},
		},
		Action: r.Sync,
	}
}

// bulkCommand syncs many scenes.
func bulkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "bulk",
		Usage: "Sync every Stash scene (or the given IDs) into Whisparr",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "ids",
				Usage: "Scene IDs to sync instead of listing every scene",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Scenes synced concurrently (default: sync.bulk_workers)",
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: "Scene starts per second, 0 is unlimited (default: sync.bulk_rate_limit)",
				Value: -1,
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Stash page size used when listing scenes (default: sync.bulk_page_size)",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Append per-scene results to this CSV file",
				Value: "bulk_results.csv",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON report of the run to this file",
			},
			&cli.StringFlag{
				Name:  "textfile",
				Usage: "Write Prometheus metrics to this file when done (default: metrics.textfile)",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record outcomes in the run history",
			},
		},
		Action: r.Bulk,
	}
}

// hookCommand is the entry point Stash invokes for plugin hooks and tasks.
func hookCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "hook",
		Usage: "Handle a Stash plugin invocation read from stdin",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "payload",
				Usage: "Read the payload from this file instead of stdin",
			},
		},
		Action: r.Hook,
	}
}

// serveCommand runs the HTTP hook receiver.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Receive scene hooks over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "How long to wait for in-flight scenes on shutdown",
				Value: 2 * time.Minute,
			},
		},
		Action: r.Serve,
	}
}

// historyCommand inspects and trims the run history.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect recorded sync runs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scene", Usage: "Only runs for this scene ID"},
					&cli.StringFlag{Name: "batch", Usage: "Only runs from this bulk batch"},
					&cli.StringFlag{Name: "state", Usage: "Only runs in this state (skipped, succeeded, failed)"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs to show", Value: 20},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.HistoryList,
			},
			{
				Name:  "show",
				Usage: "Show one run with its file results",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Action: r.HistoryShow,
			},
			{
				Name:  "prune",
				Usage: "Delete runs older than a given age",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age of the runs to delete",
						Value: 30 * 24 * time.Hour,
					},
				},
				Action: r.HistoryPrune,
			},
		},
	}
}
