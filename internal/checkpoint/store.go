package checkpoint

import (
	"time"
)

// Status represents the status of an upload record
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record represents one source file in the checkpoint store
type Record struct {
	Path      string    `json:"path"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether a completed record still describes the file on
// disk, i.e. the file can be skipped on resume.
func (r *Record) Matches(size int64, modTime time.Time) bool {
	return r.Status == StatusCompleted &&
		r.Size == size &&
		r.ModTime.Equal(modTime)
}

// Store defines the interface for checkpoint persistence
type Store interface {
	Get(path string) (*Record, error)
	Save(record *Record) error
	ListFailed() ([]*Record, error)

	Close() error
}
