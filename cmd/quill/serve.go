package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"quill/internal/classify"
	"quill/internal/config"
	"quill/internal/document"
	"quill/internal/logging"
	"quill/internal/observability"
	"quill/internal/pipeline"
	"quill/internal/recovery"
	"quill/internal/server"
	"quill/internal/stream"
	"quill/internal/workflow"
)

func newServeCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "quill.yaml", "path to config file")
	return cmd
}

func runServe(cfg *config.Config) error {
	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.DefaultMetrics()
	tracer := observability.NewTracerProvider(observability.TracingConfig{Enabled: cfg.Tracing.Enabled})

	doc := document.NewMemoryDocument(cfg.Document.Ref, cfg.Document.Content)
	docExec := document.NewExecutor(doc, document.NewJournal(),
		logging.FromObservability(obsLogger, "document"), metrics)

	registry := workflow.NewRegistry()
	if err := workflow.RegisterBuiltinStages(registry); err != nil {
		return fmt.Errorf("register stages: %w", err)
	}
	table := workflow.DefaultTable()
	if cfg.Pipeline.RoutesFile != "" {
		loaded, err := workflow.LoadTable(cfg.Pipeline.RoutesFile, registry)
		if err != nil {
			return fmt.Errorf("load routes: %w", err)
		}
		table = loaded
	}
	router, err := workflow.NewRouter(registry, table)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	mgr := recovery.NewManager(logging.FromObservability(obsLogger, "recovery"))
	history, err := stream.NewEventHistory(cfg.Stream.HistorySize)
	if err != nil {
		return fmt.Errorf("event history: %w", err)
	}

	channel := stream.NewChannel(stream.Config{
		Endpoint:          cfg.Stream.Endpoint,
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		StaleAfter:        cfg.Stream.StaleAfter,
		BackoffBase:       cfg.Stream.BackoffBase,
		BackoffCap:        cfg.Stream.BackoffCap,
		MaxReconnects:     cfg.Stream.MaxReconnects,
		QueueSize:         cfg.Stream.QueueSize,
	}, logging.FromObservability(obsLogger, "stream"), metrics)
	fallback := stream.NewFallback(cfg.Stream.FallbackEndpoint,
		logging.FromObservability(obsLogger, "fallback"), metrics)

	publisher := pipeline.NewPublisher(channel, fallback, history, mgr,
		logging.FromObservability(obsLogger, "publisher"))
	pipeExec := pipeline.NewExecutor(registry, doc, docExec, cfg.Pipeline.GroupDeadline, tracer,
		logging.FromObservability(obsLogger, "pipeline"), metrics)
	controller, err := pipeline.NewController(pipeline.ControllerConfig{
		Workers:     cfg.Pipeline.Workers,
		QueueSize:   cfg.Pipeline.QueueSize,
		ResultCache: cfg.Pipeline.ResultCache,
	}, classify.New(), router, doc, pipeExec, publisher,
		logging.FromObservability(obsLogger, "controller"))
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	gateway := server.NewGateway(server.GatewayConfig{
		Addr:         cfg.Server.Addr,
		AllowOrigins: cfg.Server.AllowOrigins,
	}, controller, history, logging.FromObservability(obsLogger, "gateway"))

	gateway.Start()
	channel.Start()
	controller.Start()

	color.New(color.FgCyan, color.Bold).Printf("quill %s\n", version)
	color.New(color.FgGreen).Printf("gateway listening on %s\n", cfg.Server.Addr)
	fmt.Printf("stream endpoint %s (fallback %s)\n", cfg.Stream.Endpoint, cfg.Stream.FallbackEndpoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")

	controller.Stop()
	channel.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		obsLogger.Warn("gateway shutdown", "error", err)
	}
	return tracer.Shutdown(shutdownCtx)
}
