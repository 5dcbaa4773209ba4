package worker

import (
	"context"
	"sync"
	"time"

	"bulkput/internal/plan"
	"bulkput/internal/storage"
)

// UnitTask is one schedulable transfer unit together with the per-file
// session it belongs to.
type UnitTask struct {
	Unit    plan.TransferUnit
	Session *Session
}

// Session joins the units of one file's transfer plan. Units execute
// independently and in any order; the session finalizes the file only after
// every unit has reported. For multipart plans it also owns the upload ID
// and the collected part ETags.
type Session struct {
	Plan    *plan.TransferPlan
	started time.Time

	mu            sync.Mutex
	uploadCreated bool
	uploadID      string
	uploadErr     error
	parts         []storage.CompletedPart
	pending       int
	failed        bool
	reason        string
	bytes         int64
}

// NewSession creates a session for the given plan.
func NewSession(p *plan.TransferPlan) *Session {
	return &Session{
		Plan:    p,
		started: time.Now(),
		parts:   make([]storage.CompletedPart, len(p.Units)),
		pending: len(p.Units),
	}
}

// ensureUpload creates the multipart upload once; every part worker of the
// file gets the same upload ID. Siblings block until the first creation
// attempt resolves.
func (s *Session) ensureUpload(ctx context.Context, client storage.Client, bucket string, opts storage.PutOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadCreated {
		return s.uploadID, s.uploadErr
	}

	s.uploadID, s.uploadErr = client.NewMultipartUpload(ctx, bucket, s.Plan.Key, opts)
	s.uploadCreated = true
	return s.uploadID, s.uploadErr
}

// unitSucceeded records a finished unit. Returns true when this was the
// file's last outstanding unit.
func (s *Session) unitSucceeded(unit plan.TransferUnit, etag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if unit.PartNumber > 0 {
		s.parts[unit.PartNumber-1] = storage.CompletedPart{
			PartNumber: unit.PartNumber,
			ETag:       etag,
		}
	}
	s.bytes += unit.Length
	s.pending--
	return s.pending == 0
}

// unitFailed records a terminally failed unit and marks the file failed.
// The first failure reason wins. Returns true when this was the file's last
// outstanding unit.
func (s *Session) unitFailed(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.failed {
		s.failed = true
		s.reason = reason
	}
	s.pending--
	return s.pending == 0
}

// outcome returns the joined result once all units have reported.
func (s *Session) outcome() (failed bool, reason string, bytes int64, uploadID string, parts []storage.CompletedPart) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failed, s.reason, s.bytes, s.uploadID, s.parts
}

// Failed reports whether any unit of the file has failed so far.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failed
}

// Elapsed is the wall time since the session was planned.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.started)
}
