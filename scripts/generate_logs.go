// generate_logs appends synthetic log lines to a file, for exercising a
// dispatcher locally.
//
//	go run ./scripts/generate_logs.go --file ./logs/app.log --rate 20
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	file     string
	rate     int
	total    int
	multiple bool
)

var levels = []string{"INFO", "INFO", "INFO", "DEBUG", "WARN", "ERROR"}

var messages = []string{
	"request served",
	"cache miss",
	"user signed in",
	"payment declined",
	"upstream timeout",
	"job finished",
}

var rootCmd = &cobra.Command{
	Use:   "generate_logs",
	Short: "Append synthetic log lines to a file",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&file, "file", "f", "./logs/app.log", "File to append to")
	rootCmd.Flags().IntVarP(&rate, "rate", "r", 10, "Lines per second")
	rootCmd.Flags().IntVarP(&total, "count", "n", 0, "Stop after this many lines (0 runs until interrupted)")
	rootCmd.Flags().BoolVar(&multiple, "multiline", false, "Append a stack trace to ERROR lines")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if rate <= 0 {
		return fmt.Errorf("rate must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.Info.Printf("Writing %d lines per second to %s\n", rate, file)

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	written := 0
	for total == 0 || written < total {
		select {
		case <-ctx.Done():
			pterm.Success.Printf("Wrote %d lines\n", written)
			return nil
		case now := <-ticker.C:
			if _, err := f.WriteString(line(now)); err != nil {
				return err
			}
			written++
		}
	}
	pterm.Success.Printf("Wrote %d lines\n", written)
	return nil
}

func line(now time.Time) string {
	level := levels[rand.Intn(len(levels))]
	msg := messages[rand.Intn(len(messages))]
	out := fmt.Sprintf("%s %s %s request_id=%s\n", now.UTC().Format("2006-01-02T15:04:05.000Z"), level, msg, uuid.NewString())
	if multiple && level == "ERROR" {
		out += "  at handler.Serve (server.go:42)\n  at main.main (main.go:12)\n"
	}
	return out
}
