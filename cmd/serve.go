package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/server"
)

// Serve runs the hook receiver until interrupted, then waits for in-flight scenes.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(ctx, cmd.String("config")); err != nil {
		return err
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = net.JoinHostPort(r.config.Server.Host, strconv.Itoa(r.config.Server.Port))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bulk := r.defaultBulkOpts()
	bulk.CSVPath = "bulk_results.csv"
	rec := r.recorder(ctx, false)
	bulk.Recorder = rec

	// Background syncs outlive the signal so they can finish during shutdown.
	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	hooks := server.NewHookHandler(work, r.engine, server.HookOptions{Bulk: bulk, Recorder: rec}, r.logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewHookRouter(hooks, r.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("listening for scene hooks", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("hook server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.logger.Info("shutting down", "in_flight", hooks.InFlight())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cmd.Duration("shutdown-timeout"))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down hook server: %w", err)
	}
	if err := hooks.Wait(shutdownCtx); err != nil {
		cancelWork()
		return err
	}
	return nil
}
