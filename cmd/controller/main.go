// logrelay-controller serves configurations to dispatchers and stores
// their checkpoints, metrics and events.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logrelay/internal/api"
	"logrelay/internal/api/handlers"
	"logrelay/internal/banner"
	"logrelay/internal/config"
	"logrelay/internal/controller"
	"logrelay/internal/discovery"
	"logrelay/internal/observability"
	"logrelay/internal/state"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// CLI flags, overriding the environment when set
var (
	port        int
	statePath   string
	logLevel    string
	summaryRate int
	production  bool
)

var rootCmd = &cobra.Command{
	Use:   "logrelay-controller",
	Short: "LogRelay controller - configuration and state for dispatchers",
	Long: `The controller serves configuration files from its state store to
dispatchers and persists the checkpoints, metrics and events they report.

The state store is a directory or a bolt://, sqlite://, redis:// or s3://
location.

Examples:
  logrelay-controller --state ./state
  logrelay-controller --state sqlite:///var/lib/logrelay/state.db --port 9000
  logrelay-controller --state s3://my-bucket/logrelay`,
	Version:      banner.Version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (PORT)")
	rootCmd.Flags().StringVarP(&statePath, "state", "s", "./state", "State store location (STATE_PATH)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (LOG_LEVEL)")
	rootCmd.Flags().IntVar(&summaryRate, "summary-rate", 15, "Default minutes per summary chart window (SUMMARY_RATE)")
	rootCmd.Flags().BoolVar(&production, "production", false, "Run gin in release mode (SERVER_PRODUCTION)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadController()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = port
	}
	if flags.Changed("state") {
		cfg.State.Path = statePath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("summary-rate") {
		cfg.SummaryRate = summaryRate
	}
	if flags.Changed("production") {
		cfg.Server.Production = production
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	banner.Print("Controller")

	logger.Debug("Configuration loaded",
		logger.Args(
			"state", cfg.State.Path,
			"server_port", cfg.Server.Port,
			"summary_rate", cfg.SummaryRate,
			"tracing", cfg.Tracing.Enabled,
		))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "logrelay-controller",
		ServiceVersion: banner.Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracer(context.Background())

	store, err := state.Open(ctx, cfg.State.Path, state.Options{
		Redis: state.RedisOptions{
			Password: cfg.State.RedisPassword,
			Prefix:   cfg.State.RedisPrefix,
		},
		S3: state.S3Options{
			Region:          cfg.State.S3Region,
			Endpoint:        cfg.State.S3Endpoint,
			AccessKeyID:     cfg.State.S3AccessKeyID,
			SecretAccessKey: cfg.State.S3SecretAccessKey,
			UsePathStyle:    cfg.State.S3UsePathStyle,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	catalog := discovery.NewConfigCatalog(store, logger)
	if err := catalog.Load(ctx); err != nil {
		logger.Warn("Some configurations could not be loaded", logger.Args("error", err))
	}

	service := controller.NewService(store, catalog, logger)
	if err := service.Restore(ctx); err != nil {
		logger.Warn("Some state could not be restored", logger.Args("error", err))
	}

	server := api.NewControllerServer(&api.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Production: cfg.Server.Production,
	},
		handlers.NewControllerHandler(service, cfg.SummaryRate, logger),
		handlers.NewStreamHandler(service, 5*time.Second, cfg.SummaryRate, logger),
		logger)

	logger.Info("LogRelay controller is running",
		logger.Args(
			"url", pterm.Sprintf("http://localhost:%d", cfg.Server.Port),
			"configurations", catalog.Len(),
		))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		if err := catalog.Run(gctx, cfg.State.ConfigPoll); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("LogRelay controller stopped")
	return err
}
