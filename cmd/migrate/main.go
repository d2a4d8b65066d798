// Package main provides the schema migration CLI of the search outbox. It
// applies the migrations compiled into the binary unless --path, or the
// database.migration_path setting, names a directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/migrations"
)

// schemaMigrator is the part of *database.Migrator the commands drive.
type schemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
	Close() error
}

// openFunc opens a migrator. dir overrides the configured migration source.
// The returned func releases the database connection.
type openFunc func(ctx context.Context, dir string, logger zerolog.Logger) (schemaMigrator, func(), error)

type migrateCLI struct {
	open    openFunc
	logger  zerolog.Logger
	dir     string
	timeout time.Duration
}

func newRootCmd(open openFunc, logger zerolog.Logger) *cobra.Command {
	c := &migrateCLI{open: open, logger: logger}

	root := &cobra.Command{
		Use:           "migrate <command>",
		Short:         "Manage the search outbox schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.dir, "path", "", "migrations directory, overriding database.migration_path")
	root.PersistentFlags().DurationVar(&c.timeout, "connect-timeout", 30*time.Second, "timeout of the database connection")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd, "migrate up", schemaMigrator.Up)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c.logger.Warn().Msg("rolling back all migrations")
				return c.run(cmd, "migrate down", schemaMigrator.Down)
			},
		},
		&cobra.Command{
			Use:     "steps <n>",
			Short:   "Apply n migrations, or roll back when n is negative",
			Example: "  migrate steps 2\n  migrate steps -- -1",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n == 0 {
					return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
				}
				c.logger.Info().Int("steps", n).Msg("running migration steps")
				return c.run(cmd, "migrate steps", func(m schemaMigrator) error { return m.Steps(n) })
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the version without migrating, to recover a dirty schema",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil || v < 0 {
					return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
				}
				return c.run(cmd, "force version", func(m schemaMigrator) error { return m.Force(v) })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.run(cmd, "read version", func(schemaMigrator) error { return nil })
			},
		},
	)
	return root
}

// run opens a migrator, applies op and prints the resulting schema version.
func (c *migrateCLI) run(cmd *cobra.Command, action string, op func(schemaMigrator) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
	m, release, err := c.open(ctx, c.dir, c.logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			c.logger.Error().Err(err).Msg("failed to close migrator")
		}
		release()
	}()

	if err := op(m); err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}

	v, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Fprintln(cmd.OutOrStdout(), "version=none dirty=false")
			return nil
		}
		return fmt.Errorf("read version: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
	return nil
}

// openPostgres connects to the configured database and builds a migrator.
func openPostgres(ctx context.Context, dir string, logger zerolog.Logger) (schemaMigrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	if dir == "" {
		dir = cfg.Database.MigrationPath
	}

	var m *database.Migrator
	if dir == "" {
		logger.Info().Msg("using embedded migrations")
		m, err = database.NewEmbeddedMigrator(db, migrations.FS, logger)
	} else {
		logger.Info().Str("path", dir).Msg("using migrations directory")
		m, err = database.NewMigrator(db, dir, logger)
	}
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, db.Close, nil
}

func main() {
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = observability.WithComponent(logger, "migrate")

	if err := newRootCmd(openPostgres, logger).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
