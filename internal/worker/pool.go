package worker

import (
	"context"
	"sync"

	"bulkput/internal/checkpoint"
	"bulkput/internal/metrics"
	"bulkput/internal/result"
	"bulkput/internal/retry"
	"bulkput/internal/storage"

	"go.uber.org/zap"
)

// Config contains worker configuration
type Config struct {
	Bucket         string
	Retries        int
	RetryBackoffMs int
}

// Pool manages a pool of workers
type Pool struct {
	size       int
	config     Config
	client     storage.Client
	checkpoint checkpoint.Store
	aggregator *result.Aggregator
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	client storage.Client,
	checkpointStore checkpoint.Store,
	aggregator *result.Aggregator,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:       size,
		config:     config,
		client:     client,
		checkpoint: checkpointStore,
		aggregator: aggregator,
		metrics:    metricsCollector,
		logger:     logger,
	}
}

// Start starts the worker pool
func (p *Pool) Start(ctx context.Context, tasks <-chan UnitTask, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan UnitTask, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := &Processor{
		config:     p.config,
		client:     p.client,
		checkpoint: p.checkpoint,
		aggregator: p.aggregator,
		metrics:    p.metrics,
		policy: retry.Policy{
			// Retries counts re-attempts; the first try comes on top.
			MaxAttempts: p.config.Retries + 1,
			BaseBackoff: backoffDuration(p.config.RetryBackoffMs),
			Jitter:      0.2,
		},
		logger: logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			processor.Process(ctx, task)

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}
