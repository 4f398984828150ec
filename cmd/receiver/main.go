// logrelay-receiver accepts batches posted by a URL destination and logs
// them. It is meant for local testing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"logrelay/internal/api"
	"logrelay/internal/api/handlers"
	"logrelay/internal/config"
	"logrelay/internal/observability"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	port     int
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "logrelay-receiver",
	Short:        "Log every batch posted to it",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().IntVarP(&port, "port", "p", 8090, "Port to listen on (PORT)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadReceiver()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewReceiverServer(&api.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Production: cfg.Server.Production,
	}, handlers.NewReceiverHandler(logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
