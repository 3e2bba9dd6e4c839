package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/timemerge/component"
	"github.com/c360/timemerge/config"
	"github.com/c360/timemerge/engine"
	"github.com/c360/timemerge/health"
	kafkainput "github.com/c360/timemerge/input/kafka"
	natsinput "github.com/c360/timemerge/input/nats"
	"github.com/c360/timemerge/metric"
	"github.com/c360/timemerge/natsclient"
	"github.com/c360/timemerge/notify"
	"github.com/c360/timemerge/output/file"
	"github.com/c360/timemerge/pkg/retry"
)

func newServeCommand(opts *cliOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the merging service",
		RunE: func(*cobra.Command, []string) error {
			return runServe(opts, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second,
		"grace period for stopping components on shutdown")
	return cmd
}

func runServe(opts *cliOptions, shutdownTimeout time.Duration) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Service.LogLevel, opts.logFormat)
	slog.SetDefault(logger)
	logger.Info("starting timemerge",
		"version", Version, "build_time", BuildTime, "config", opts.configPath)

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	var registry *metric.Registry
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
	}

	natsClient, err := setupNATS(signalCtx, cfg, registry, logger)
	if err != nil {
		return err
	}
	if natsClient != nil {
		defer natsClient.Close(ctx)
	}

	writer, err := file.NewWriter(cfg.Output.Path, logger.With("component", "output"))
	if err != nil {
		return err
	}
	defer writer.Close()

	eng, err := setupEngine(cfg, writer, natsClient, registry, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	manager := component.NewManager(logger)
	if err := registerInputs(cfg, manager, eng, natsClient, registry, logger); err != nil {
		return err
	}

	if err := manager.InitializeAll(); err != nil {
		return err
	}
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}

	var httpServer *http.Server
	if cfg.Metrics.Enabled {
		httpServer = startHTTPServer(cfg.Metrics.Addr, registry, eng, natsClient, manager, logger)
	}

	logger.Info("timemerge started",
		"output", cfg.Output.Path,
		"capacity", cfg.Engine.Capacity,
		"expected_channels", len(cfg.Engine.Channels))

	<-signalCtx.Done()
	logger.Info("received shutdown signal")

	// Inputs stop first so the engine stops receiving; the deferred closes
	// then release the engine, writer and connection in reverse order.
	if err := manager.StopAll(shutdownTimeout); err != nil {
		logger.Error("component shutdown incomplete", "error", err)
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info("timemerge stopped", "stats", eng.Stats())
	return nil
}

func setupNATS(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.Registry,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}

	clientOpts := []natsclient.ClientOption{
		natsclient.WithLogger(logger.With("component", "natsclient")),
		natsclient.WithName(cfg.Service.Name),
	}
	if cfg.NATS.ConnectTimeout > 0 {
		clientOpts = append(clientOpts, natsclient.WithTimeout(cfg.NATS.ConnectTimeout))
	}
	if cfg.NATS.DrainTimeout > 0 {
		clientOpts = append(clientOpts, natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout))
	}
	if cfg.NATS.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.NATS.Token))
	}
	if registry != nil {
		clientOpts = append(clientOpts, natsclient.WithMetrics(registry))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, clientOpts...)
	if err != nil {
		return nil, err
	}

	connectOperation := func() error {
		if err := client.Connect(ctx); err != nil {
			return err
		}
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return client.WaitForConnection(connCtx)
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), connectOperation); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}

func setupEngine(
	cfg *config.Config,
	writer *file.Writer,
	natsClient *natsclient.Client,
	registry *metric.Registry,
	logger *slog.Logger,
) (*engine.Engine, error) {
	var notifiers notify.Multi
	if natsClient != nil && cfg.NATS.AvailableSubject != "" {
		notifiers = append(notifiers, notify.NewNATSNotifier(
			natsClient, cfg.NATS.AvailableSubject, cfg.Service.Name,
			logger.With("component", "notifier")))
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger.With("component", "engine")),
	}
	if len(notifiers) > 0 {
		engineOpts = append(engineOpts, engine.WithNotifier(notifiers))
	}
	if registry != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(registry))
	}

	return engine.New(cfg.Engine, writer, engineOpts...)
}

func registerInputs(
	cfg *config.Config,
	manager *component.Manager,
	eng *engine.Engine,
	natsClient *natsclient.Client,
	registry *metric.Registry,
	logger *slog.Logger,
) error {
	if cfg.NATS.Enabled {
		in := natsinput.NewInput(natsinput.InputDeps{
			Name:            "nats-ingest",
			Subject:         cfg.NATS.IngestSubject,
			Submitter:       eng,
			NATSClient:      natsClient,
			MetricsRegistry: registry,
			Logger:          logger.With("component", "nats-input"),
		})
		if err := manager.Register(in); err != nil {
			return err
		}
	}
	if cfg.Kafka.Enabled {
		in := kafkainput.NewInput(kafkainput.InputDeps{
			Name: "kafka-ingest",
			Config: kafkainput.InputConfig{
				Brokers:     cfg.Kafka.Brokers,
				Topic:       cfg.Kafka.Topic,
				GroupID:     cfg.Kafka.GroupID,
				MinBytes:    cfg.Kafka.MinBytes,
				MaxBytes:    cfg.Kafka.MaxBytes,
				StartOffset: cfg.Kafka.StartOffset,
			},
			Submitter:       eng,
			MetricsRegistry: registry,
			Logger:          logger.With("component", "kafka-input"),
		})
		if err := manager.Register(in); err != nil {
			return err
		}
	}
	return nil
}

// startHTTPServer serves /metrics and /healthz.
func startHTTPServer(
	addr string,
	registry *metric.Registry,
	eng *engine.Engine,
	natsClient *natsclient.Client,
	manager *component.Manager,
	logger *slog.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		statuses := []health.Status{
			health.FromEngineStats("engine", eng.Stats()),
		}
		if natsClient != nil {
			if natsClient.IsHealthy() {
				statuses = append(statuses, health.NewHealthy("nats", "connected"))
			} else {
				statuses = append(statuses, health.NewUnhealthy("nats",
					natsClient.Status().String()))
			}
		}
		for _, c := range manager.Components() {
			statuses = append(statuses, health.FromComponentHealth(c.Meta().Name, c.Health()))
		}

		agg := health.Aggregate(appName, statuses)
		w.Header().Set("Content-Type", "application/json")
		if agg.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(agg)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	return srv
}
