package worker

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"bulkput/internal/checkpoint"
	"bulkput/internal/metrics"
	"bulkput/internal/plan"
	"bulkput/internal/result"
	"bulkput/internal/retry"
	"bulkput/internal/storage"

	"go.uber.org/zap"
)

// Processor executes individual transfer units and finalizes a file once
// all of its units have reported.
type Processor struct {
	config     Config
	client     storage.Client
	checkpoint checkpoint.Store
	aggregator *result.Aggregator
	metrics    *metrics.Collector
	policy     retry.Policy
	logger     *zap.Logger
}

// Process executes a single transfer unit with retry. A transient failure
// is retried with exponential backoff; a permanent one marks the file
// failed immediately. Sibling units already in flight finish independently.
func (p *Processor) Process(ctx context.Context, task UnitTask) {
	if p.metrics != nil {
		p.metrics.WorkerStarted()
		defer p.metrics.WorkerFinished()
	}

	unit := task.Unit
	var etag string

	err := p.policy.Do(ctx, func() error {
		var opErr error
		etag, opErr = p.executeUnit(ctx, task)
		return opErr
	}, func(t retry.Transition) {
		if t.State == retry.StateRetrying {
			p.logger.Warn("Unit attempt failed, retrying",
				zap.String("key", unit.Key),
				zap.Int("part", unit.PartNumber),
				zap.Int("attempt", t.Attempt),
				zap.Error(t.Err),
			)
		}
	})

	if err != nil {
		p.logger.Error("Unit failed",
			zap.String("key", unit.Key),
			zap.Int("part", unit.PartNumber),
			zap.Error(err),
		)
		if task.Session.unitFailed(retry.Describe(err)) {
			p.finalize(ctx, task.Session)
		}
		return
	}

	p.aggregator.UnitCompleted(unit.Length)
	p.logger.Debug("Unit completed",
		zap.String("key", unit.Key),
		zap.Int("part", unit.PartNumber),
		zap.Int64("bytes", unit.Length),
	)

	if task.Session.unitSucceeded(unit, etag) {
		p.finalize(ctx, task.Session)
	}
}

// executeUnit performs one upload attempt for the unit's byte range.
func (p *Processor) executeUnit(ctx context.Context, task UnitTask) (string, error) {
	unit := task.Unit

	f, err := os.Open(unit.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	reader := io.NewSectionReader(f, unit.Offset, unit.Length)
	opts := putOptions(unit.Key)

	if !task.Session.Plan.Multipart {
		if err := p.client.PutObject(ctx, p.config.Bucket, unit.Key, reader, unit.Length, opts); err != nil {
			return "", err
		}
		return "", nil
	}

	uploadID, err := task.Session.ensureUpload(ctx, p.client, p.config.Bucket, opts)
	if err != nil {
		return "", fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	return p.client.UploadPart(ctx, p.config.Bucket, unit.Key, uploadID,
		unit.PartNumber, reader, unit.Length)
}

// finalize is called by whichever worker reports the file's last unit.
// It completes or aborts the multipart upload and writes the terminal
// JobResult and checkpoint record.
func (p *Processor) finalize(ctx context.Context, session *Session) {
	pl := session.Plan
	failed, reason, bytes, uploadID, parts := session.outcome()
	elapsed := session.Elapsed()

	if !failed && pl.Multipart {
		err := p.policy.Do(ctx, func() error {
			return p.client.CompleteMultipartUpload(ctx, p.config.Bucket, pl.Key, uploadID, parts)
		}, nil)
		if err != nil {
			failed = true
			reason = fmt.Sprintf("failed to complete multipart upload: %s", retry.Describe(err))
		}
	}

	if failed {
		if pl.Multipart && uploadID != "" {
			if err := p.client.AbortMultipartUpload(ctx, p.config.Bucket, pl.Key, uploadID); err != nil {
				p.logger.Warn("Failed to abort multipart upload",
					zap.String("key", pl.Key),
					zap.Error(err),
				)
			}
		}

		p.aggregator.FileFailed(pl.Path, pl.Key, reason, elapsed)
		p.saveCheckpoint(pl, checkpoint.StatusFailed, reason)
		p.logger.Error("File failed",
			zap.String("key", pl.Key),
			zap.String("reason", reason),
		)
		return
	}

	p.aggregator.FileSucceeded(pl.Path, pl.Key, bytes, elapsed)
	p.saveCheckpoint(pl, checkpoint.StatusCompleted, "")
	p.logger.Info("File uploaded",
		zap.String("key", pl.Key),
		zap.Int64("size", pl.Size),
		zap.Int("units", len(pl.Units)),
		zap.Duration("duration", elapsed),
	)
}

func (p *Processor) saveCheckpoint(pl *plan.TransferPlan, status checkpoint.Status, lastError string) {
	if p.checkpoint == nil {
		return
	}

	record := &checkpoint.Record{
		Path:      pl.Path,
		Key:       pl.Key,
		Size:      pl.Size,
		ModTime:   pl.ModTime,
		Status:    status,
		LastError: lastError,
	}

	if err := p.checkpoint.Save(record); err != nil {
		p.logger.Error("Failed to save checkpoint record",
			zap.String("path", pl.Path),
			zap.Error(err),
		)
	}
}

func putOptions(key string) storage.PutOptions {
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return storage.PutOptions{ContentType: contentType}
}

func backoffDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
