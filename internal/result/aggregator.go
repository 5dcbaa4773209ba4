package result

import (
	"sort"
	"sync"
	"time"

	"bulkput/internal/metrics"
	"bulkput/internal/progress"
)

// Status is the terminal state of one source file.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// JobResult is the terminal record for one file. Created once, never mutated.
type JobResult struct {
	Path    string
	Key     string
	Status  Status
	Reason  string
	Bytes   int64
	Elapsed time.Duration
}

// Summary is the running global view of the upload run.
type Summary struct {
	Files        int64
	Succeeded    int64
	Skipped      int64
	Failed       int64
	Bytes        int64
	PlannedUnits int64
}

// Aggregator accumulates per-file outcomes and a global summary. All methods
// are safe to call from multiple workers concurrently; the summary state is
// the only structure in the engine mutated after planning.
type Aggregator struct {
	mu      sync.Mutex
	results []JobResult
	summary Summary

	tracker   *progress.Tracker
	collector *metrics.Collector
}

// New creates an aggregator. Both tracker and collector may be nil.
func New(tracker *progress.Tracker, collector *metrics.Collector) *Aggregator {
	return &Aggregator{
		tracker:   tracker,
		collector: collector,
	}
}

// FilePlanned records the transfer units planned for one file. Counted in
// dry-run mode as well, so a dry run reports the same planned unit count as
// a real one.
func (a *Aggregator) FilePlanned(units int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.PlannedUnits += int64(units)
}

// UnitCompleted records bytes moved by one finished transfer unit.
func (a *Aggregator) UnitCompleted(bytes int64) {
	a.mu.Lock()
	a.summary.Bytes += bytes
	a.mu.Unlock()

	if a.tracker != nil {
		a.tracker.AddBytes(bytes)
	}
	if a.collector != nil {
		a.collector.AddBytes(bytes)
	}
}

// FileSucceeded finalizes a file whose units all completed successfully.
func (a *Aggregator) FileSucceeded(path, key string, bytes int64, elapsed time.Duration) {
	a.record(JobResult{
		Path:    path,
		Key:     key,
		Status:  StatusSucceeded,
		Bytes:   bytes,
		Elapsed: elapsed,
	})

	if a.tracker != nil {
		a.tracker.AddSucceeded()
	}
	if a.collector != nil {
		a.collector.IncSucceeded()
		a.collector.ObserveDuration(elapsed)
	}
}

// FileSkipped finalizes a file that was intentionally not transferred.
func (a *Aggregator) FileSkipped(path, key string, bytes int64, reason string) {
	a.record(JobResult{
		Path:   path,
		Key:    key,
		Status: StatusSkipped,
		Reason: reason,
	})

	if a.tracker != nil {
		a.tracker.AddSkipped(bytes)
	}
	if a.collector != nil {
		a.collector.IncSkipped()
	}
}

// FileFailed finalizes a file after a permanent failure or retry exhaustion.
func (a *Aggregator) FileFailed(path, key, reason string, elapsed time.Duration) {
	a.record(JobResult{
		Path:    path,
		Key:     key,
		Status:  StatusFailed,
		Reason:  reason,
		Elapsed: elapsed,
	})

	if a.tracker != nil {
		a.tracker.AddFailed()
	}
	if a.collector != nil {
		a.collector.IncFailed()
	}
}

func (a *Aggregator) record(r JobResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, r)
	a.summary.Files++
	switch r.Status {
	case StatusSucceeded:
		a.summary.Succeeded++
	case StatusSkipped:
		a.summary.Skipped++
	case StatusFailed:
		a.summary.Failed++
	}
}

// Snapshot returns the current summary. Safe to call while workers are
// still reporting.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.summary
}

// Results returns all finalized job results ordered by object key.
func (a *Aggregator) Results() []JobResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]JobResult, len(a.results))
	copy(out, a.results)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Failed returns the results of files that failed, ordered by object key.
func (a *Aggregator) Failed() []JobResult {
	var failed []JobResult
	for _, r := range a.Results() {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// ExitCode is 0 when every file succeeded or was intentionally skipped.
func (a *Aggregator) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.summary.Failed > 0 {
		return 1
	}
	return 0
}
