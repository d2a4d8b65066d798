// Package main provides the entry point for a search outbox agent: it joins
// the cluster, drains its shard of the outbox and reports health over gRPC.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/helixir/search-outbox/internal/backend"
	"github.com/helixir/search-outbox/internal/cluster"
	"github.com/helixir/search-outbox/internal/config"
	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/hashing"
	"github.com/helixir/search-outbox/internal/observability"
	"github.com/helixir/search-outbox/internal/outbox"
	"github.com/helixir/search-outbox/internal/pipeline"
	"github.com/helixir/search-outbox/internal/repository"
	"github.com/helixir/search-outbox/migrations"
)

// healthService is the gRPC health service name reported by agents.
const healthService = "searchoutbox.v1.Agent"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "agent_main").Logger()
	logger.Info().Msg("search-outbox agent starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, logger); err != nil {
			return err
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	// Create the indexing backend.
	indexer, err := backend.NewRegistry().New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	defer func() {
		if closeErr := indexer.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close backend")
		}
	}()
	indexer = backend.NewRateLimited(indexer, cfg.Outbox.BackendRateLimit, cfg.Outbox.BackendRateBurst)
	logger.Info().Str("backend", cfg.Backend.Kind).Msg("indexing backend ready")

	// Create repositories and the cluster runtime.
	eventRepo := repository.NewPgEventRepository(db)
	agentRepo := repository.NewPgAgentRepository(db)

	coordinator := cluster.NewCoordinator(
		cluster.NewPostgresMembership(db, logger),
		cluster.RegistryTableFactory(hashing.NewRegistry(), cfg.Outbox.HashTable),
		cfg.Outbox.DeadAgentTimeout,
		logger,
		metrics,
	)

	agentName := cfg.Agent.Name
	if agentName == "" {
		agentName, _ = os.Hostname()
	}
	agent := cluster.NewAgent(cluster.AgentConfig{
		Name:          agentName,
		PulseInterval: cfg.Outbox.PulseInterval,
	}, agentRepo, coordinator, logger, metrics)

	drainer := pipeline.New(
		outbox.NewEventFinder(eventRepo, cfg.Outbox.BatchSize),
		eventRepo,
		indexer,
		agent,
		pipeline.ConfigFrom(cfg),
		logger,
		metrics,
	)

	// Create gRPC server carrying the health service only.
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           1 * time.Minute,
		}),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(grpcServer)

	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Join the cluster. Startup failures are fatal.
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	logger.Info().
		Str("agent_id", agent.ID().String()).
		Str("agent_name", agentName).
		Msg("agent joined cluster")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("address", grpcAddr).Msg("gRPC health server starting")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return ignoreCanceled(agent.Run(gctx))
	})

	g.Go(func() error {
		return ignoreCanceled(drainer.Run(gctx))
	})

	g.Go(func() error {
		reportHealth(gctx, agent, healthServer, cfg.Outbox.PulseInterval)
		return nil
	})

	// Stop everything once the group context ends.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down search-outbox agent")

		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Release the shard so peers take it over without waiting for eviction.
		if err := agent.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to stop agent")
		}

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics server shutdown error")
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("gRPC server forced shutdown due to timeout")
			grpcServer.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("agent exited with error")
		return err
	}

	logger.Info().Msg("search-outbox agent shutdown complete")
	return nil
}

// reportHealth mirrors the agent state into the gRPC health service.
// Only RUNNING agents report SERVING.
func reportHealth(ctx context.Context, agent *cluster.Agent, hs *health.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if agent.State() == domain.AgentStateRunning {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(healthService, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// migrate applies the schema embedded in the binary.
func migrate(db *database.DB, logger zerolog.Logger) error {
	migrator, err := database.NewEmbeddedMigrator(db, migrations.FS, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
