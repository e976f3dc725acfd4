// Package store is an embedded storage engine for named blobs and a
// property map.
//
// The in-memory cache is the source of truth for reads. Every mutation is
// applied to the cache and returns at once; persistence runs in the
// background through single-flight writers, one for the properties
// document and one per file. Disk state converges to the cache but is not
// guaranteed to survive an abrupt process exit.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/starford/rulestore/internal/models"
	"github.com/starford/rulestore/internal/storage"
	"github.com/starford/rulestore/internal/writebehind"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithRetryDelay sets the wait before a failed write is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) {
		s.retryDelay = d
	}
}

// WithFileSystem replaces the file system used for all disk access.
func WithFileSystem(fsys storage.FileSystem) Option {
	return func(s *Store) {
		s.fsys = fsys
	}
}

// Store owns the file table, the display order, the property map and the
// background writers that persist them.
type Store struct {
	disk       storage.Provider
	filesDir   string
	fsys       storage.FileSystem
	logger     *slog.Logger
	retryDelay time.Duration

	mu        sync.Mutex
	files     map[string]*models.File
	byIndex   map[uint64]*models.File
	order     []string
	props     map[string]any
	nextIndex uint64

	propsUnit *writebehind.Writer[[]byte]
	units     map[uint64]*writebehind.Writer[slotWrite]

	opsPending int
	opsIdle    chan struct{}
}

// FilesDir returns the directory holding the file slots.
func (s *Store) FilesDir() string {
	return s.filesDir
}

// Count returns the number of files.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// ExistsFile reports whether name is a known file.
func (s *Store) ExistsFile(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

// FileList returns copies of all files in display order.
func (s *Store) FileList() []models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.File, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.files[name].Clone())
	}
	return out
}

// RawFileList returns all files in display order without copying their
// data. The returned Data slices share memory with the cache and must not
// be modified.
func (s *Store) RawFileList() []models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.File, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.files[name])
	}
	return out
}
