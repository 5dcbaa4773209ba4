package enumerate

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// FileEntry describes one regular file found under the source root.
type FileEntry struct {
	Path    string
	Key     string
	Size    int64
	ModTime time.Time
}

// Enumerator walks a local directory tree and produces file entries lazily.
// Symlinks are never followed; a visited-inode set guards against cycles
// introduced by hard-linked directories or bind mounts.
type Enumerator struct {
	root     string
	prefix   string
	excludes []string
	logger   *zap.Logger
}

// New creates an enumerator for the given root directory. Entries get object
// keys of the form prefix/relative-path (slash separated).
func New(root, prefix string, excludes []string, logger *zap.Logger) *Enumerator {
	return &Enumerator{
		root:     root,
		prefix:   prefix,
		excludes: excludes,
		logger:   logger,
	}
}

// Enumerate walks the tree and sends entries on the returned channel.
// A root that does not exist or cannot be read yields an error on the error
// channel before any entry; errors in subdirectories are logged and skipped.
func (e *Enumerator) Enumerate(ctx context.Context) (<-chan FileEntry, <-chan error) {
	entries := make(chan FileEntry)
	errCh := make(chan error, 1)

	go func() {
		defer close(entries)
		defer close(errCh)

		if err := e.walk(ctx, func(entry FileEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case entries <- entry:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}); err != nil {
			errCh <- err
		}
	}()

	return entries, errCh
}

// Count walks the tree once and returns the number of files and total bytes.
// Used for progress totals before the upload pass.
func (e *Enumerator) Count(ctx context.Context) (int64, int64, error) {
	var files, bytes int64
	err := e.walk(ctx, func(entry FileEntry) error {
		files++
		bytes += entry.Size
		return nil
	})
	return files, bytes, err
}

// walk performs an iterative, stack-based traversal. Unbounded call recursion
// is avoided on purpose; the pending-directory stack is the only growth.
func (e *Enumerator) walk(ctx context.Context, emit func(FileEntry) error) error {
	rootInfo, err := os.Lstat(e.root)
	if err != nil {
		return fmt.Errorf("source root %s is not accessible: %w", e.root, err)
	}
	if !rootInfo.IsDir() {
		return fmt.Errorf("source root %s is not a directory", e.root)
	}
	if _, err := os.ReadDir(e.root); err != nil {
		return fmt.Errorf("source root %s is not readable: %w", e.root, err)
	}

	visited := make(map[inode]struct{})
	if ino, ok := inodeOf(rootInfo); ok {
		visited[ino] = struct{}{}
	}

	stack := []string{e.root}
	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirents, err := os.ReadDir(dir)
		if err != nil {
			if dir == e.root {
				return fmt.Errorf("source root %s is not readable: %w", e.root, err)
			}
			e.logger.Warn("Skipping unreadable directory",
				zap.String("dir", dir),
				zap.Error(err),
			)
			continue
		}

		// ReadDir sorts by name; directories are pushed in reverse so the
		// traversal visits them in lexical order.
		var subdirs []string
		for _, d := range dirents {
			full := filepath.Join(dir, d.Name())

			info, err := os.Lstat(full)
			if err != nil {
				e.logger.Warn("Skipping unreadable entry",
					zap.String("path", full),
					zap.Error(err),
				)
				continue
			}

			if info.Mode()&os.ModeSymlink != 0 {
				e.logger.Debug("Skipping symlink", zap.String("path", full))
				continue
			}

			rel, err := filepath.Rel(e.root, full)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			if e.excluded(rel, d.Name()) {
				e.logger.Debug("Excluded by pattern", zap.String("path", rel))
				continue
			}

			if info.IsDir() {
				if ino, ok := inodeOf(info); ok {
					if _, seen := visited[ino]; seen {
						e.logger.Warn("Skipping already visited directory",
							zap.String("dir", full))
						continue
					}
					visited[ino] = struct{}{}
				}
				subdirs = append(subdirs, full)
				continue
			}

			if !info.Mode().IsRegular() {
				continue
			}

			entry := FileEntry{
				Path:    full,
				Key:     e.key(rel),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
			if err := emit(entry); err != nil {
				return err
			}
		}

		sort.Sort(sort.Reverse(sort.StringSlice(subdirs)))
		stack = append(stack, subdirs...)
	}

	return nil
}

func (e *Enumerator) key(rel string) string {
	if e.prefix == "" {
		return rel
	}
	return path.Join(e.prefix, rel)
}

// excluded matches patterns against both the slash-relative path and the
// bare file name, so "*.tmp" and "cache/*" both work.
func (e *Enumerator) excluded(rel, name string) bool {
	for _, pattern := range e.excludes {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

type inode struct {
	dev uint64
	ino uint64
}

func inodeOf(info os.FileInfo) (inode, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inode{}, false
	}
	return inode{dev: uint64(st.Dev), ino: st.Ino}, true
}
