package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	runner := NewRunner(RunnerOpts{})

	app := newApp(runner)

	err := app.Run(context.Background(), os.Args)
	if cerr := runner.Close(); cerr != nil {
		runner.logger.Warn("failed to release resources", "err", cerr)
	}
	if err == nil {
		return
	}

	var exit cli.ExitCoder
	switch {
	case errors.As(err, &exit):
		if msg := exit.Error(); msg != "" {
			runner.logger.Error(msg)
		}
		os.Exit(exit.ExitCode())
	default:
		runner.logger.Fatalf("application error: %v", err)
	}
}

// newApp builds the root command. Exit codes are handled by main so that the
// runner is closed first.
func newApp(runner *Runner) *cli.Command {
	return &cli.Command{
		Name:    "whisparr-sync",
		Usage:   "Sync Stash scenes and their files into Whisparr",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("WHISPARR_SYNC_CONFIG"),
			},
		},
		Commands:       runner.register(),
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}
}
