package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"bulkput/internal/app"
	"bulkput/internal/config"
	"bulkput/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	exitCode   int
)

var rootCmd = &cobra.Command{
	Use:   "bulkput",
	Short: "Bulk upload a local directory tree to S3-compatible object storage",
	Long: `A concurrent bulk upload engine for S3-compatible object storage with
multipart planning, bounded worker concurrency, retry with backoff,
resume checkpointing, and progress reporting.`,
	RunE: runUpload,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")

	// Target flags
	rootCmd.Flags().String("endpoint", "", "S3-compatible endpoint")
	rootCmd.Flags().String("access-key", "", "Access key")
	rootCmd.Flags().String("secret-key", "", "Secret key")
	rootCmd.Flags().String("region", "", "Region")
	rootCmd.Flags().Bool("secure", true, "Use HTTPS")

	// Upload flags
	rootCmd.Flags().String("bucket", "", "Destination bucket (required)")
	rootCmd.Flags().String("prefix", "", "Destination key prefix")
	rootCmd.Flags().String("source", "", "Source directory (required)")
	rootCmd.Flags().StringSlice("exclude", nil, "Exclusion glob, repeatable")
	rootCmd.Flags().Int("concurrency", 32, "Number of concurrent workers")
	rootCmd.Flags().Int64("part-size", 67108864, "Multipart part size in bytes")
	rootCmd.Flags().Int64("multipart-threshold", 67108864, "Multipart upload threshold in bytes")
	rootCmd.Flags().Int("retries", 3, "Maximum retry attempts per transfer unit")
	rootCmd.Flags().Int("retry-backoff-ms", 500, "Initial retry backoff in milliseconds")
	rootCmd.Flags().Bool("dry-run", false, "Enumerate and plan without uploading")
	rootCmd.Flags().String("checkpoint", "./bulkput.db", "Checkpoint database file")
	rootCmd.Flags().Bool("skip-existing", true, "Skip objects that already exist with same size")
	rootCmd.Flags().Bool("resume", false, "Resume from checkpoint")
	rootCmd.Flags().Bool("show-progress", true, "Show progress display (auto-disabled for dry-run)")
	rootCmd.Flags().String("log-level", "info", "Log level (debug/info/warn/error)")
	rootCmd.Flags().String("metrics-addr", "", "Prometheus metrics listen address (disabled when empty)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	uploader, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal, gracefully stopping...")
		cancel()
	}()

	err = uploader.Run(ctx)

	if closeErr := uploader.Close(); closeErr != nil {
		log.Error("Error closing uploader", zap.Error(closeErr))
	}

	if err != nil {
		return err
	}

	exitCode = uploader.ExitCode()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
