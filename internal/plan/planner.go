package plan

import (
	"errors"
	"fmt"
	"os"
	"time"

	"bulkput/internal/enumerate"
)

// MaxPartCount is the backend limit on parts per multipart upload.
const MaxPartCount = 10000

// TransferUnit is one atomic upload operation: the whole file, or one part
// of a multipart upload. Immutable once planned.
type TransferUnit struct {
	Path       string
	Key        string
	Offset     int64
	Length     int64
	PartNumber int // 0 for a single-shot upload
}

// TransferPlan is the ordered set of units covering one source file.
// The unit byte ranges cover [0, Size) exactly once, in order.
type TransferPlan struct {
	Path      string
	Key       string
	Size      int64
	ModTime   time.Time
	Multipart bool
	Units     []TransferUnit
}

// ErrFileVanished reports a file that disappeared between enumeration
// and planning.
var ErrFileVanished = errors.New("file vanished before planning")

// ErrFileChanged reports a file whose size changed between enumeration
// and planning.
var ErrFileChanged = errors.New("file size changed before planning")

// Planner converts enumerated files into transfer plans.
type Planner struct {
	partSize  int64
	threshold int64
}

// NewPlanner creates a planner with the given part size and multipart
// threshold, both in bytes.
func NewPlanner(partSize, multipartThreshold int64) *Planner {
	return &Planner{
		partSize:  partSize,
		threshold: multipartThreshold,
	}
}

// Plan revalidates the file on disk and returns its transfer plan.
// The result is deterministic for identical input and configuration.
func (p *Planner) Plan(entry enumerate.FileEntry) (*TransferPlan, error) {
	info, err := os.Lstat(entry.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileVanished, entry.Path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", entry.Path, err)
	}
	if info.Size() != entry.Size {
		return nil, fmt.Errorf("%w: %s (%d -> %d bytes)",
			ErrFileChanged, entry.Path, entry.Size, info.Size())
	}

	if entry.Size <= p.threshold {
		return &TransferPlan{
			Path:    entry.Path,
			Key:     entry.Key,
			Size:    entry.Size,
			ModTime: entry.ModTime,
			Units: []TransferUnit{{
				Path:   entry.Path,
				Key:    entry.Key,
				Offset: 0,
				Length: entry.Size,
			}},
		}, nil
	}

	partSize := p.effectivePartSize(entry.Size)
	units := splitParts(entry, partSize)

	return &TransferPlan{
		Path:      entry.Path,
		Key:       entry.Key,
		Size:      entry.Size,
		ModTime:   entry.ModTime,
		Multipart: true,
		Units:     units,
	}, nil
}

// effectivePartSize grows the configured part size when the file would
// otherwise need more than MaxPartCount parts. The part count is never
// raised above the cap.
func (p *Planner) effectivePartSize(size int64) int64 {
	partSize := p.partSize
	if ceilDiv(size, partSize) > MaxPartCount {
		partSize = ceilDiv(size, MaxPartCount)
	}
	return partSize
}

func splitParts(entry enumerate.FileEntry, partSize int64) []TransferUnit {
	count := int(ceilDiv(entry.Size, partSize))
	units := make([]TransferUnit, 0, count)

	for i := 0; i < count; i++ {
		offset := int64(i) * partSize
		length := partSize
		if offset+length > entry.Size {
			length = entry.Size - offset
		}
		units = append(units, TransferUnit{
			Path:       entry.Path,
			Key:        entry.Key,
			Offset:     offset,
			Length:     length,
			PartNumber: i + 1,
		})
	}

	return units
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
