// Package main provides outboxctl, an operator CLI for the search outbox:
// aborted event maintenance and agent suspension.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/pipeline"
	"github.com/helixir/search-outbox/internal/repository"
)

// adminClient is the administrative surface the commands drive.
// *pipeline.Admin implements it.
type adminClient interface {
	CountAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ReprocessAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	ClearAllAbortedEvents(ctx context.Context, tenantID string) (int64, error)
	CountPendingEvents(ctx context.Context, tenantID string) (int64, error)
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	SuspendAgent(ctx context.Context, id uuid.UUID) error
	ResumeAgent(ctx context.Context, id uuid.UUID) error
}

// connectFunc opens the admin client; the returned func releases it.
type connectFunc func(ctx context.Context) (adminClient, func(), error)

// cli carries state shared by every command.
type cli struct {
	connect    connectFunc
	admin      adminClient
	release    func()
	jsonOutput bool
	tenantID   string
	timeout    time.Duration
}

func newRootCmd(connect connectFunc) *cobra.Command {
	c := &cli{connect: connect}

	root := &cobra.Command{
		Use:           "outboxctl <command>",
		Short:         "Operate the search outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			admin, release, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			c.admin = admin
			c.release = release
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.release != nil {
				c.release()
			}
		},
	}

	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output as JSON")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "timeout of each operation")

	root.AddGroup(
		&cobra.Group{ID: "events", Title: "Events:"},
		&cobra.Group{ID: "agents", Title: "Agents:"},
	)
	cobra.EnableCommandSorting = false

	root.AddCommand(c.eventCommands()...)
	root.AddCommand(c.agentsCmd())
	return root
}

// ctx bounds one operation by the --timeout flag.
func (c *cli) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

// connectPostgres builds a *pipeline.Admin over the configured database.
func connectPostgres(ctx context.Context) (adminClient, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "warn",
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "outboxctl").Logger()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	admin := pipeline.NewAdmin(
		repository.NewPgEventRepository(db),
		repository.NewPgAgentRepository(db),
		cfg.Tenancy,
		logger,
		nil,
	)
	return admin, db.Close, nil
}

func main() {
	if err := newRootCmd(connectPostgres).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
