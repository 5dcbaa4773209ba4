// Package testutil provides a fake storage client for tests.
package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"bulkput/internal/storage"

	"github.com/minio/minio-go/v7"
)

// FakeClient implements storage.Client with overridable behavior per call.
// It records call counts and the maximum number of operations that were in
// flight at the same time.
type FakeClient struct {
	mu sync.Mutex

	PutObjectFunc   func(ctx context.Context, bucket, key string, reader io.Reader, size int64) error
	UploadPartFunc  func(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error)
	HeadObjectFunc  func(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	NewMultipartFn  func(ctx context.Context, bucket, key string) (string, error)
	CompleteFn      func(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error
	AbortFn         func(ctx context.Context, bucket, key, uploadID string) error

	PutCalls      int
	PartCalls     int
	HeadCalls     int
	CreateCalls   int
	CompleteCalls int
	AbortCalls    int

	// CompletedParts holds the parts of the last completed multipart upload.
	CompletedParts []storage.CompletedPart

	inflight    int
	maxInflight int
}

// NotFoundErr is what a HEAD on a missing object returns.
func NotFoundErr() error {
	return minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404, Message: "The specified key does not exist."}
}

func (f *FakeClient) enter() {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()
}

func (f *FakeClient) leave() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

// MaxInflight returns the highest number of concurrent transfer calls seen.
func (f *FakeClient) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// TransferCalls returns the total number of PutObject and UploadPart calls.
func (f *FakeClient) TransferCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PutCalls + f.PartCalls
}

func (f *FakeClient) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts storage.PutOptions) error {
	f.mu.Lock()
	f.PutCalls++
	fn := f.PutObjectFunc
	f.mu.Unlock()

	f.enter()
	defer f.leave()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	if fn != nil {
		return fn(ctx, bucket, key, reader, size)
	}
	return nil
}

func (f *FakeClient) HeadObject(ctx context.Context, bucket, key string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	f.HeadCalls++
	fn := f.HeadObjectFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, bucket, key)
	}
	return storage.ObjectInfo{}, NotFoundErr()
}

func (f *FakeClient) NewMultipartUpload(ctx context.Context, bucket, key string, opts storage.PutOptions) (string, error) {
	f.mu.Lock()
	f.CreateCalls++
	n := f.CreateCalls
	fn := f.NewMultipartFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, bucket, key)
	}
	return fmt.Sprintf("upload-%d", n), nil
}

func (f *FakeClient) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int, reader io.Reader, size int64) (string, error) {
	f.mu.Lock()
	f.PartCalls++
	fn := f.UploadPartFunc
	f.mu.Unlock()

	f.enter()
	defer f.leave()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, bucket, key, uploadID, partNumber, reader, size)
	}
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (f *FakeClient) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []storage.CompletedPart) error {
	f.mu.Lock()
	f.CompleteCalls++
	f.CompletedParts = append([]storage.CompletedPart(nil), parts...)
	fn := f.CompleteFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, bucket, key, uploadID, parts)
	}
	return nil
}

func (f *FakeClient) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	f.AbortCalls++
	fn := f.AbortFn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, bucket, key, uploadID)
	}
	return nil
}
