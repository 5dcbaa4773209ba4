package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bulkput/internal/checkpoint"
	"bulkput/internal/config"
	"bulkput/internal/enumerate"
	"bulkput/internal/metrics"
	"bulkput/internal/plan"
	"bulkput/internal/progress"
	"bulkput/internal/result"
	"bulkput/internal/storage"
	"bulkput/internal/worker"

	"go.uber.org/zap"
)

// Uploader represents the main upload application
type Uploader struct {
	cfg        *config.Config
	logger     *zap.Logger
	client     storage.Client
	checkpoint checkpoint.Store
	metrics    *metrics.Collector
	tracker    *progress.Tracker
	aggregator *result.Aggregator
	planner    *plan.Planner
	enumerator *enumerate.Enumerator
}

// New creates a new uploader instance. In dry-run mode no storage client or
// checkpoint store is created, which guarantees zero transfer calls.
func New(cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	var client storage.Client
	var store checkpoint.Store

	if !cfg.Upload.DryRun {
		var err error
		client, err = storage.NewMinIOClient(storage.Config{
			Endpoint:  cfg.Target.Endpoint,
			AccessKey: cfg.Target.AccessKey,
			SecretKey: cfg.Target.SecretKey,
			Region:    cfg.Target.Region,
			Secure:    cfg.Target.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}

		store, err = checkpoint.NewSQLiteStore(cfg.Upload.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
	}

	return newUploader(cfg, logger, client, store), nil
}

func newUploader(cfg *config.Config, logger *zap.Logger, client storage.Client, store checkpoint.Store) *Uploader {
	tracker := progress.NewTracker()
	collector := metrics.New()

	return &Uploader{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		checkpoint: store,
		metrics:    collector,
		tracker:    tracker,
		aggregator: result.New(tracker, collector),
		planner:    plan.NewPlanner(cfg.Upload.PartSize, cfg.Upload.MultipartThreshold),
		enumerator: enumerate.New(cfg.Upload.SourceDir, cfg.Upload.Prefix, cfg.Upload.Excludes, logger),
	}
}

// Run executes the upload process
func (u *Uploader) Run(ctx context.Context) error {
	u.logger.Info("Starting upload",
		zap.String("bucket", u.cfg.Upload.Bucket),
		zap.String("source", u.cfg.Upload.SourceDir),
		zap.String("prefix", u.cfg.Upload.Prefix),
		zap.Int("concurrency", u.cfg.Upload.Concurrency),
		zap.Bool("dry_run", u.cfg.Upload.DryRun),
	)

	if u.cfg.MetricsAddr != "" {
		go func() {
			if err := u.metrics.StartServer(u.cfg.MetricsAddr); err != nil {
				u.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	display := u.setupProgress(ctx)

	// Bounded queue between planner and workers; enumeration blocks here
	// when the workers fall behind.
	tasks := make(chan worker.UnitTask, u.cfg.Upload.Concurrency*2)

	var wg sync.WaitGroup
	if !u.cfg.Upload.DryRun {
		pool := worker.NewPool(u.cfg.Upload.Concurrency, worker.Config{
			Bucket:         u.cfg.Upload.Bucket,
			Retries:        u.cfg.Upload.Retries,
			RetryBackoffMs: u.cfg.Upload.RetryBackoffMs,
		}, u.client, u.checkpoint, u.aggregator, u.metrics, u.logger)
		pool.Start(ctx, tasks, &wg)
	}

	runErr := u.enumerateAndDispatch(ctx, tasks)

	close(tasks)
	wg.Wait()

	if display != nil {
		display.Stop()
	}

	u.logSummary()
	return runErr
}

func (u *Uploader) setupProgress(ctx context.Context) *progress.Display {
	if !u.cfg.Upload.ShowProgress || u.cfg.Upload.DryRun || !progress.IsTerminalSupported() {
		return nil
	}

	u.logger.Info("Counting files for progress tracking...")
	totalFiles, totalBytes, err := u.enumerator.Count(ctx)
	if err != nil {
		u.logger.Warn("Failed to count files, progress tracking may be inaccurate", zap.Error(err))
		return nil
	}

	u.tracker.SetTotal(totalFiles, totalBytes)
	u.logger.Info("File counting completed",
		zap.Int64("total_files", totalFiles),
		zap.String("total_size", progress.FormatBytes(totalBytes)),
	)

	display := progress.NewDisplay(u.tracker, 2*time.Second)
	display.Start()
	return display
}

// enumerateAndDispatch walks the source tree and feeds planned units to the
// workers. Only an enumeration failure of the root is fatal; per-file
// problems are recorded and the run continues.
func (u *Uploader) enumerateAndDispatch(ctx context.Context, tasks chan<- worker.UnitTask) error {
	entries, errCh := u.enumerator.Enumerate(ctx)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				// The walker may have stopped on an error; entries always
				// closes after the error is sent.
				if err := <-errCh; err != nil {
					return fmt.Errorf("enumeration failed: %w", err)
				}
				return nil
			}
			if err := u.handleEntry(ctx, entry, tasks); err != nil {
				return err
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *Uploader) handleEntry(ctx context.Context, entry enumerate.FileEntry, tasks chan<- worker.UnitTask) error {
	if u.skipExisting(ctx, entry) {
		return nil
	}

	pl, err := u.planner.Plan(entry)
	if err != nil {
		if errors.Is(err, plan.ErrFileVanished) || errors.Is(err, plan.ErrFileChanged) {
			u.logger.Warn("Skipping file that changed during enumeration",
				zap.String("path", entry.Path),
				zap.Error(err),
			)
			u.aggregator.FileSkipped(entry.Path, entry.Key, 0, err.Error())
			return nil
		}
		return fmt.Errorf("planning failed for %s: %w", entry.Path, err)
	}

	u.aggregator.FilePlanned(len(pl.Units))

	if u.cfg.Upload.DryRun {
		u.logger.Info("Would upload file",
			zap.String("key", pl.Key),
			zap.Int64("size", pl.Size),
			zap.Int("units", len(pl.Units)),
			zap.Bool("multipart", pl.Multipart),
		)
		u.aggregator.FileSkipped(pl.Path, pl.Key, pl.Size, "dry-run")
		return nil
	}

	session := worker.NewSession(pl)
	for _, unit := range pl.Units {
		select {
		case tasks <- worker.UnitTask{Unit: unit, Session: session}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// skipExisting implements resume (checkpoint) and skip-existing (remote
// HEAD) checks. Both record the file as Skipped.
func (u *Uploader) skipExisting(ctx context.Context, entry enumerate.FileEntry) bool {
	if u.cfg.Upload.DryRun {
		return false
	}

	if u.cfg.Upload.Resume && u.checkpoint != nil {
		if record, err := u.checkpoint.Get(entry.Path); err == nil && record != nil {
			if record.Matches(entry.Size, entry.ModTime) {
				u.logger.Debug("Skipping file from checkpoint", zap.String("path", entry.Path))
				u.aggregator.FileSkipped(entry.Path, entry.Key, entry.Size, "already uploaded (checkpoint)")
				return true
			}
		}
	}

	if u.cfg.Upload.SkipExisting && u.client != nil {
		if info, err := u.client.HeadObject(ctx, u.cfg.Upload.Bucket, entry.Key); err == nil {
			if info.Size == entry.Size {
				u.logger.Debug("Skipping existing object", zap.String("key", entry.Key))
				u.aggregator.FileSkipped(entry.Path, entry.Key, entry.Size, "object exists with same size")
				return true
			}
		}
	}

	return false
}

func (u *Uploader) logSummary() {
	summary := u.aggregator.Snapshot()

	u.logger.Info("Upload finished",
		zap.Int64("files", summary.Files),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("failed", summary.Failed),
		zap.Int64("planned_units", summary.PlannedUnits),
		zap.String("bytes", progress.FormatBytes(summary.Bytes)),
	)

	for _, r := range u.aggregator.Failed() {
		u.logger.Error("Failed file",
			zap.String("key", r.Key),
			zap.String("reason", r.Reason),
		)
	}
}

// Summary returns the current run summary
func (u *Uploader) Summary() result.Summary {
	return u.aggregator.Snapshot()
}

// ExitCode is 0 when no file failed
func (u *Uploader) ExitCode() int {
	return u.aggregator.ExitCode()
}

// Close cleans up resources
func (u *Uploader) Close() error {
	if u.checkpoint != nil {
		return u.checkpoint.Close()
	}
	return nil
}
