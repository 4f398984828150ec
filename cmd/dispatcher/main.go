// logrelay-dispatcher tails the log files named by its configurations and
// delivers their records to the configured destinations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logrelay/internal/banner"
	"logrelay/internal/client"
	"logrelay/internal/config"
	"logrelay/internal/destination"
	"logrelay/internal/dispatcher"
	"logrelay/internal/observability"

	"github.com/spf13/cobra"
)

// CLI flags, overriding the environment when set
var (
	name          string
	controllerURL string
	logLevel      string
	intervalMs    int
	chunkSize     int
	batchSize     int
)

var rootCmd = &cobra.Command{
	Use:   "logrelay-dispatcher",
	Short: "LogRelay dispatcher - tail log files and ship their records",
	Long: `The dispatcher fetches its configurations and checkpoints from the
controller, follows the matching files and delivers their records.

Examples:
  logrelay-dispatcher --controller http://controller:8080
  DISPATCHER_NAME=web-01 CONTROLLER_URL=http://controller:8080 logrelay-dispatcher`,
	Version:      banner.Version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "Dispatcher name reported to the controller (DISPATCHER_NAME)")
	rootCmd.Flags().StringVarP(&controllerURL, "controller", "c", "", "Controller base URL (CONTROLLER_URL)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (LOG_LEVEL)")
	rootCmd.Flags().IntVarP(&intervalMs, "interval", "i", 60000, "Milliseconds between configuration refreshes (CONTROLLER_INTERVAL)")
	rootCmd.Flags().IntVar(&chunkSize, "chunk-size", 5000, "KB read from a file per cycle (CHUNK_SIZE)")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 100, "Records per post (BATCH_SIZE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadDispatcher()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("name") {
		cfg.Node = name
	}
	if flags.Changed("controller") {
		cfg.Controller.URL = controllerURL
	}
	if flags.Changed("interval") {
		cfg.Controller.Interval = time.Duration(intervalMs) * time.Millisecond
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("chunk-size") {
		cfg.Pipeline.ChunkSize = chunkSize
	}
	if flags.Changed("batch-size") {
		cfg.Pipeline.BatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)
	banner.Print("Dispatcher")

	logger.Debug("Configuration loaded",
		logger.Args(
			"node", cfg.Node,
			"controller", cfg.Controller.URL,
			"interval", cfg.Controller.Interval.String(),
			"chunk_kb", cfg.Pipeline.ChunkSize,
			"batch_size", cfg.Pipeline.BatchSize,
		))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "logrelay-dispatcher",
		ServiceVersion: banner.Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownTracer(context.Background())

	controller := client.NewController(cfg.Controller.URL, cfg.Node, cfg.Controller.RequestTimeout, logger)
	runtime, err := dispatcher.New(cfg.Node, controller, dispatcher.Options{
		Interval:        cfg.Controller.Interval,
		ChunkSize:       cfg.Pipeline.ChunkBytes(),
		MetricsInterval: cfg.Pipeline.MetricsInterval,
		EventsInterval:  cfg.Pipeline.EventsInterval,
		Destinations: destination.Options{
			BatchSize:            cfg.Pipeline.BatchSize,
			LogAnalyticsEndpoint: cfg.Pipeline.LogAnalyticsEndpoint,
			Logger:               logger,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	logger.Info("LogRelay dispatcher is running", logger.Args("node", cfg.Node, "controller", cfg.Controller.URL))
	if err := runtime.Run(ctx); err != nil {
		return err
	}
	logger.Info("LogRelay dispatcher stopped")
	return nil
}
