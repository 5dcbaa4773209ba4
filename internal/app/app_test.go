package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"bulkput/internal/checkpoint"
	"bulkput/internal/config"
	"bulkput/internal/storage"
	"bulkput/internal/testutil"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const mb = 1024 * 1024

func testConfig(source string) *config.Config {
	return &config.Config{
		Target: config.TargetConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "ak",
			SecretKey: "sk",
		},
		Upload: config.UploadConfig{
			Bucket:             "test-bucket",
			SourceDir:          source,
			Concurrency:        4,
			PartSize:           mb,
			MultipartThreshold: mb,
			Retries:            1,
			RetryBackoffMs:     1,
			ShowProgress:       false,
		},
		LogLevel: "info",
	}
}

func writeFile(t *testing.T, root, rel string, size int) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestRunUploadsTree(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "small.txt", 100)
	writeFile(t, source, "sub/medium.bin", 512*1024)
	writeFile(t, source, "big.bin", 2*mb+512*1024) // 3 parts at 1MB

	client := &testutil.FakeClient{}
	uploader := newUploader(testConfig(source), zap.NewNop(), client, nil)

	require.NoError(t, uploader.Run(context.Background()))

	summary := uploader.Summary()
	assert.Equal(t, int64(3), summary.Files)
	assert.Equal(t, int64(3), summary.Succeeded)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, int64(100+512*1024+2*mb+512*1024), summary.Bytes)
	assert.Equal(t, int64(2+3), summary.PlannedUnits, "two single-shot units plus three parts")

	assert.Equal(t, 2, client.PutCalls)
	assert.Equal(t, 3, client.PartCalls)
	assert.Equal(t, 1, client.CompleteCalls)
	assert.Equal(t, 0, client.AbortCalls)
	assert.Equal(t, 0, uploader.ExitCode())
}

func TestRunDryRunPlansWithoutTransfers(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "a.txt", 100)
	writeFile(t, source, "big.bin", 2*mb+1)

	dryCfg := testConfig(source)
	dryCfg.Upload.DryRun = true
	dry := newUploader(dryCfg, zap.NewNop(), nil, nil)
	require.NoError(t, dry.Run(context.Background()))

	client := &testutil.FakeClient{}
	real := newUploader(testConfig(source), zap.NewNop(), client, nil)
	require.NoError(t, real.Run(context.Background()))

	assert.Equal(t, real.Summary().PlannedUnits, dry.Summary().PlannedUnits,
		"dry-run must plan exactly what a real run would")
	assert.Equal(t, int64(2), dry.Summary().Skipped)
	assert.Equal(t, int64(0), dry.Summary().Failed)
	assert.Equal(t, 0, dry.ExitCode())
}

func TestRunAuthFailureFailsOnlyThatFile(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "ok1.txt", 100)
	writeFile(t, source, "denied.txt", 100)
	writeFile(t, source, "ok2.txt", 100)

	var mu sync.Mutex
	putsPerKey := make(map[string]int)
	client := &testutil.FakeClient{
		PutObjectFunc: func(ctx context.Context, bucket, key string, reader io.Reader, size int64) error {
			mu.Lock()
			putsPerKey[key]++
			mu.Unlock()
			if key == "denied.txt" {
				return minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
			}
			return nil
		},
	}

	uploader := newUploader(testConfig(source), zap.NewNop(), client, nil)
	require.NoError(t, uploader.Run(context.Background()))

	summary := uploader.Summary()
	assert.Equal(t, int64(2), summary.Succeeded)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Equal(t, 1, uploader.ExitCode())

	failed := uploader.aggregator.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "denied.txt", failed[0].Key)
	assert.Equal(t, "authentication failure", failed[0].Reason)
	assert.Equal(t, 1, putsPerKey["denied.txt"], "auth failures must not be retried")
}

func TestRunEmptySourceDir(t *testing.T) {
	client := &testutil.FakeClient{}
	uploader := newUploader(testConfig(t.TempDir()), zap.NewNop(), client, nil)

	require.NoError(t, uploader.Run(context.Background()))

	assert.Equal(t, int64(0), uploader.Summary().Files)
	assert.Equal(t, 0, client.TransferCalls())
	assert.Equal(t, 0, uploader.ExitCode())
}

func TestRunMissingSourceFails(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "nope"))
	uploader := newUploader(cfg, zap.NewNop(), &testutil.FakeClient{}, nil)

	err := uploader.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumeration failed")
}

func TestRunSkipsExistingObjects(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "present.txt", 100)
	writeFile(t, source, "absent.txt", 200)

	client := &testutil.FakeClient{
		HeadObjectFunc: func(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
			if key == "present.txt" {
				return storage.ObjectInfo{Key: key, Size: 100}, nil
			}
			return storage.ObjectInfo{}, testutil.NotFoundErr()
		},
	}

	cfg := testConfig(source)
	cfg.Upload.SkipExisting = true
	uploader := newUploader(cfg, zap.NewNop(), client, nil)

	require.NoError(t, uploader.Run(context.Background()))

	summary := uploader.Summary()
	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, 1, client.PutCalls, "the existing object must not be re-uploaded")
}

func TestRunResumeSkipsCheckpointedFiles(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "done.txt", 100)
	writeFile(t, source, "new.txt", 200)

	info, err := os.Stat(filepath.Join(source, "done.txt"))
	require.NoError(t, err)

	store, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(&checkpoint.Record{
		Path:    filepath.Join(source, "done.txt"),
		Key:     "done.txt",
		Size:    100,
		ModTime: info.ModTime(),
		Status:  checkpoint.StatusCompleted,
	}))

	client := &testutil.FakeClient{}
	cfg := testConfig(source)
	cfg.Upload.Resume = true
	uploader := newUploader(cfg, zap.NewNop(), client, store)

	require.NoError(t, uploader.Run(context.Background()))

	summary := uploader.Summary()
	assert.Equal(t, int64(1), summary.Skipped)
	assert.Equal(t, int64(1), summary.Succeeded)
	assert.Equal(t, 1, client.PutCalls)

	// The fresh upload must land in the checkpoint for the next resume.
	record, err := store.Get(filepath.Join(source, "new.txt"))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, checkpoint.StatusCompleted, record.Status)
}

func TestRunExcludesPatterns(t *testing.T) {
	source := t.TempDir()
	writeFile(t, source, "keep.txt", 100)
	writeFile(t, source, "skip.tmp", 100)

	client := &testutil.FakeClient{}
	cfg := testConfig(source)
	cfg.Upload.Excludes = []string{"*.tmp"}
	uploader := newUploader(cfg, zap.NewNop(), client, nil)

	require.NoError(t, uploader.Run(context.Background()))

	assert.Equal(t, int64(1), uploader.Summary().Succeeded)
	assert.Equal(t, 1, client.PutCalls)
}
