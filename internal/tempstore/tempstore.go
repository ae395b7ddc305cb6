package tempstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ffmpeg-api/internal/logging"
	"ffmpeg-api/internal/metrics"
)

// DefaultSubdir is created under os.TempDir() when no directory is configured.
const DefaultSubdir = "ffmpeg-api"

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
	// <prefix>_<unixnano>_<8 hex>[.<ext>]
	artifactName = regexp.MustCompile(`^[a-zA-Z0-9_-]+_\d+_[0-9a-f]{8}(\.[a-zA-Z0-9_-]+)?$`)
)

// Store hands out unique artifact paths inside one directory and removes
// them again. It never creates files itself.
type Store struct {
	dir string

	allocated atomic.Int64
	released  atomic.Int64
	failed    atomic.Int64
}

// Stats describes the artifacts handed out by a Store.
type Stats struct {
	Dir       string `json:"dir"`
	Allocated int64  `json:"allocated"`
	Released  int64  `json:"released"`
	Failed    int64  `json:"failed"`
	Live      int64  `json:"live"`
}

// New creates a Store rooted at dir, creating the directory if needed.
// An empty dir selects <os temp>/ffmpeg-api.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), DefaultSubdir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving temp dir %q: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating temp dir %q: %w", abs, err)
	}

	return &Store{dir: abs}, nil
}

// Dir returns the absolute directory artifacts are allocated in.
func (s *Store) Dir() string {
	return s.dir
}

// Allocate returns a fresh path <dir>/<prefix>_<unixnano>_<id>.<ext>.
// Two calls never return the same path within a process.
func (s *Store) Allocate(prefix, ext string) string {
	prefix = sanitize(prefix)
	if prefix == "" {
		prefix = "tmp"
	}

	name := fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), uuid.NewString()[:8])
	if ext = sanitize(strings.TrimPrefix(ext, ".")); ext != "" {
		name += "." + ext
	}

	s.allocated.Add(1)
	metrics.ArtifactsAllocated.Inc()
	metrics.ArtifactsLive.Inc()

	return filepath.Join(s.dir, name)
}

// Release removes the artifact at path. A file that was never created is
// not an error; other failures are logged and swallowed.
func (s *Store) Release(path string) {
	s.released.Add(1)
	metrics.ArtifactsLive.Dec()

	err := os.Remove(path)
	switch {
	case err == nil:
		metrics.ArtifactsReleased.WithLabelValues("removed").Inc()
	case errors.Is(err, fs.ErrNotExist):
		metrics.ArtifactsReleased.WithLabelValues("absent").Inc()
	default:
		s.failed.Add(1)
		metrics.ArtifactsReleased.WithLabelValues("error").Inc()
		logging.Warn("Failed to remove temp artifact %s: %v", path, err)
	}
}

// Stats returns a snapshot of allocation counters.
func (s *Store) Stats() Stats {
	allocated := s.allocated.Load()
	released := s.released.Load()
	return Stats{
		Dir:       s.dir,
		Allocated: allocated,
		Released:  released,
		Failed:    s.failed.Load(),
		Live:      allocated - released,
	}
}

// Sweep deletes files in the store directory that follow the artifact
// naming scheme and were last modified more than olderThan ago. It is meant
// for leftovers of a previous process. Returns the number removed.
func (s *Store) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading temp dir %s: %w", s.dir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !artifactName.MatchString(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Warn("Sweep could not remove %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		metrics.ArtifactsSwept.Add(float64(removed))
		logging.Info("Swept %d stale temp artifacts from %s", removed, s.dir)
	}

	return removed, nil
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "")
}

// Scope tracks every artifact allocated for one request so they can be
// released together on every exit path.
type Scope struct {
	store *Store

	mu       sync.Mutex
	paths    []string
	released bool
}

// NewScope opens a scope bound to the store.
func (s *Store) NewScope() *Scope {
	return &Scope{store: s}
}

// Allocate reserves a path owned by the scope. Allocating from a released
// scope still returns a usable path, which is released immediately on the
// next Release call.
func (sc *Scope) Allocate(prefix, ext string) string {
	path := sc.store.Allocate(prefix, ext)

	sc.mu.Lock()
	if sc.released {
		// late allocation after release: track it so a second Release cleans it
		sc.released = false
	}
	sc.paths = append(sc.paths, path)
	sc.mu.Unlock()

	return path
}

// Paths returns the artifacts currently owned by the scope.
func (sc *Scope) Paths() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]string, len(sc.paths))
	copy(out, sc.paths)
	return out
}

// Release removes every artifact in reverse allocation order. Calling it
// again is a no-op unless new paths were allocated in between.
func (sc *Scope) Release() {
	sc.mu.Lock()
	if sc.released {
		sc.mu.Unlock()
		return
	}
	paths := sc.paths
	sc.paths = nil
	sc.released = true
	sc.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		sc.store.Release(paths[i])
	}
}
