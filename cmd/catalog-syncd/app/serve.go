package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/cartfeed/catalog-sync-server/internal/api"
	"github.com/cartfeed/catalog-sync-server/internal/blob"
	"github.com/cartfeed/catalog-sync-server/internal/bulk"
	"github.com/cartfeed/catalog-sync-server/internal/catalog"
	"github.com/cartfeed/catalog-sync-server/internal/config"
	"github.com/cartfeed/catalog-sync-server/internal/db"
	"github.com/cartfeed/catalog-sync-server/internal/jobs"
	"github.com/cartfeed/catalog-sync-server/internal/monitor"
	"github.com/cartfeed/catalog-sync-server/internal/pipeline"
	"github.com/cartfeed/catalog-sync-server/internal/platform"
	"github.com/cartfeed/catalog-sync-server/internal/reconcile"
	"github.com/cartfeed/catalog-sync-server/internal/retry"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/state"
	"github.com/cartfeed/catalog-sync-server/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the catalog sync server",
	Long: `Start the catalog sync server.

The server loads configuration from an optional YAML file (--config) overlaid
with CATSYNC_* environment variables, connects to the retailer state database,
and serves the admin API plus scheduler task deliveries.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")

	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}
}

// taskRunner dispatches scheduler task deliveries to the pipeline and the
// recovery monitor
type taskRunner struct {
	pipeline pipeline.Pipeline
	monitor  monitor.Monitor
}

func (t *taskRunner) RunTask(
	ctx context.Context, taskID, runID string, payload json.RawMessage,
) error {
	switch taskID {
	case jobs.TaskSyncRetailer:
		var p jobs.SyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode sync payload: %w", err)
		}
		return t.pipeline.Run(ctx, p.RetailerID, p.Style, runID)
	case monitor.TaskRecoverySweep:
		return t.monitor.Sweep(ctx, runID)
	default:
		return fmt.Errorf("unknown task id %q", taskID)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"platform", cfg.Platform.BaseURL,
		"catalog", cfg.Catalog.BaseURL)

	// Retailer state store. Without a database section the server runs on
	// the in-memory store, which is enough for local development.
	var states state.RetailerStateService
	if cfg.Database != nil {
		pool, poolErr := db.NewPool(ctx, cfg.Database)
		if poolErr != nil {
			return fmt.Errorf("failed to connect to database: %w", poolErr)
		}
		defer pool.Close()
		states = state.NewDBStateService(pool)
	} else {
		slog.Warn("No database configured, using in-memory retailer state")
		states = state.NewMemoryStateService()
	}

	policy := retry.NewPolicy(cfg.Retry)

	platformOpts := []platform.Option{}
	if cfg.Platform.RateLimitPerSecond > 0 {
		platformOpts = append(platformOpts,
			platform.WithRateLimit(cfg.Platform.RateLimitPerSecond, int(cfg.Platform.RateLimitPerSecond*2)))
	}
	platformClient := platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.APIVersion, policy, platformOpts...)
	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.HMACSecret, policy)
	schedulerClient := scheduler.NewHTTPClient(cfg.Scheduler.BaseURL, cfg.Scheduler.APIKey)
	blobStore := blob.NewHTTPStore(cfg.Blob.BaseURL, cfg.Blob.APIKey, policy)

	syncMetrics, err := telemetry.NewSyncMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}
	reconcileMetrics, err := telemetry.NewReconcileMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create reconcile metrics: %w", err)
	}

	jobScheduler := jobs.NewScheduler(schedulerClient, cfg.Sync.PartialSyncDelay, cfg.Sync.FullSyncDelay)
	orchestrator := bulk.NewOrchestrator(platformClient, schedulerClient)
	reconciler := reconcile.NewEngine(catalogClient, blobStore, cfg.Blob.Bucket, reconcileMetrics)

	pipe := pipeline.New(
		cfg.Pipeline,
		states,
		orchestrator,
		platformClient,
		catalogClient,
		reconciler,
		jobScheduler,
		schedulerClient,
		nil,
		syncMetrics,
	)
	mon := monitor.New(states, catalogClient, jobScheduler, schedulerClient, cfg.Sync.RecoverySweepInterval)

	// Kick off the self-rescheduling recovery sweep chain. The sweep cancels
	// stale pending sweeps itself, so a restart does not pile them up.
	if _, err := schedulerClient.Trigger(ctx, monitor.TaskRecoverySweep, nil, scheduler.TriggerOptions{
		Delay: time.Minute,
	}); err != nil {
		slog.Error("Failed to schedule initial recovery sweep", "error", err)
	}

	router := api.NewServer(states, jobScheduler, schedulerClient, &taskRunner{
		pipeline: pipe,
		monitor:  mon,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}
