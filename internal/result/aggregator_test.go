package result

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAggregatorCounts(t *testing.T) {
	agg := New(nil, nil)

	agg.FilePlanned(4)
	agg.UnitCompleted(100)
	agg.UnitCompleted(200)
	agg.FileSucceeded("/src/a", "a", 300, time.Second)
	agg.FileSkipped("/src/b", "b", 50, "already uploaded")
	agg.FileFailed("/src/c", "c", "authentication failure", time.Second)

	summary := agg.Snapshot()
	assert.Equal(t, int64(3), summary.Files)
	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, int64(300), summary.Bytes)
	assert.Equal(t, int64(4), summary.PlannedUnits)
}

func TestAggregatorExitCode(t *testing.T) {
	agg := New(nil, nil)
	assert.Equal(t, 0, agg.ExitCode(), "empty run exits 0")

	agg.FileSucceeded("/src/a", "a", 1, 0)
	agg.FileSkipped("/src/b", "b", 1, "dry-run")
	assert.Equal(t, 0, agg.ExitCode(), "succeeded and skipped files exit 0")

	agg.FileFailed("/src/c", "c", "quota exceeded", 0)
	assert.Equal(t, 1, agg.ExitCode(), "any failed file exits non-zero")
}

func TestAggregatorFailedList(t *testing.T) {
	agg := New(nil, nil)
	agg.FileSucceeded("/src/a", "a", 1, 0)
	agg.FileFailed("/src/z", "z", "authentication failure", 0)
	agg.FileFailed("/src/b", "b", "quota exceeded", 0)

	failed := agg.Failed()
	assert.Len(t, failed, 2)
	assert.Equal(t, "b", failed[0].Key)
	assert.Equal(t, "z", failed[1].Key)
	assert.Equal(t, "quota exceeded", failed[0].Reason)
}

func TestAggregatorConcurrentUpdates(t *testing.T) {
	agg := New(nil, nil)

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-f%d", w, i)
				agg.UnitCompleted(10)
				agg.FileSucceeded("/src/"+key, key, 10, time.Millisecond)

				// Snapshot must be safe during updates.
				_ = agg.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	summary := agg.Snapshot()
	assert.Equal(t, int64(workers*perWorker), summary.Files)
	assert.Equal(t, int64(workers*perWorker), summary.Succeeded)
	assert.Equal(t, int64(workers*perWorker*10), summary.Bytes)
	assert.Equal(t, 0, agg.ExitCode())
}
