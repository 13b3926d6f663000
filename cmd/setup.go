package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/whisparr-sync/internal/shared"
)

// SetupConfig writes the example configuration to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if err := shared.CreateConfigFile(configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", configPath)
	r.writePlain("✓ Configuration written to %s\n", configPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Set whisparr.url, whisparr.api_key and stash.url (or WHISPARR_* / STASH_* variables)\n")
	r.writePlain("2. Run 'whisparr-sync setup check' to test both connections\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations, or with
// --rollback undoes the latest one.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if err := r.loadConfig(cmd.String("config")); err != nil {
		return err
	}
	config := r.config
	if config.Database.Path == "" {
		return fmt.Errorf("%w: database.path", shared.ErrMissingConfig)
	}

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(ctx, config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if cmd.Bool("rollback") {
		r.logger.Info("rolling back latest migration")
		if err := shared.RollbackMigration(ctx, db); err != nil {
			return err
		}
		r.writePlain("✓ Rolled back latest migration on %s\n", config.Database.Path)
		return nil
	}

	r.logger.Info("running database migrations")
	applied, err := shared.RunMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("✓ Database ready at %s (%d migrations applied)\n", config.Database.Path, applied)
	return nil
}

// SetupCheck verifies that both servers answer with the configured credentials.
func (r *Runner) SetupCheck(ctx context.Context, cmd *cli.Command) error {
	if err := r.prepare(ctx, cmd.String("config")); err != nil {
		return err
	}

	var errs []error

	if v, err := r.stash.Version(ctx); err != nil {
		r.writePlain("✗ Stash     %s: %v\n", r.config.Stash.URL, err)
		errs = append(errs, fmt.Errorf("stash: %w", err))
	} else {
		r.writePlain("✓ Stash     %s (version %s)\n", r.config.Stash.URL, v)
	}

	if v, err := r.whisparr.SystemStatus(ctx); err != nil {
		r.writePlain("✗ Whisparr  %s: %v\n", r.config.Whisparr.URL, err)
		errs = append(errs, fmt.Errorf("whisparr: %w", err))
	} else {
		r.writePlain("✓ Whisparr  %s (version %s)\n", r.config.Whisparr.URL, v)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	return nil
}
