// Package workspace tracks the intermediate rasters written while a band is
// composited and guarantees their removal.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/lox/smosaic/internal/log"
)

// Tracker records intermediate artifacts keyed by acquisition date token.
// A Tracker is scoped to one band's processing; callers defer Release.
type Tracker struct {
	fs  billy.Filesystem
	dir string

	mu       sync.Mutex
	paths    []string
	keys     []string
	seen     map[string]bool
	released bool
}

// NewTracker creates dir on fs and returns a tracker for artifacts in it.
func NewTracker(fs billy.Filesystem, dir string) (*Tracker, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Tracker{fs: fs, dir: dir, seen: make(map[string]bool)}, nil
}

// Dir is the directory intermediates should be written to.
func (t *Tracker) Dir() string { return t.dir }

// Path joins name onto the workspace directory.
func (t *Tracker) Path(name string) string { return path.Join(t.dir, name) }

// Track registers an artifact path under a date key.
func (t *Tracker) Track(p, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paths = append(t.paths, p)
	if !t.seen[key] {
		t.seen[key] = true
		t.keys = append(t.keys, key)
	}
}

// Keys returns the tracked date keys in first-seen order.
func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.keys...)
}

// Paths returns the tracked artifact paths in registration order.
func (t *Tracker) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.paths...)
}

// Release removes every tracked artifact, including sidecars, then sweeps
// the workspace for anything else carrying a tracked key. It is safe to
// call more than once.
func (t *Tracker) Release() error {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	paths := append([]string(nil), t.paths...)
	keys := append([]string(nil), t.keys...)
	t.mu.Unlock()

	var errs []error
	for _, p := range paths {
		for _, candidate := range []string{p, p + ".aux.xml"} {
			if err := t.fs.Remove(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove %s: %w", candidate, err))
			}
		}
	}
	removed, err := Cleanup(t.fs, t.dir, keys)
	if err != nil {
		errs = append(errs, err)
	}
	log.Debugw("workspace: released", "dir", t.dir, "tracked", len(paths), "swept", len(removed))
	return errors.Join(errs...)
}

// Cleanup removes every file in dir whose name embeds one of keys and
// returns the removed file names.
func Cleanup(fs billy.Filesystem, dir string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	entries, err := fs.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", dir, err)
	}

	var (
		removed []string
		errs    []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !containsAny(entry.Name(), keys) {
			continue
		}
		p := path.Join(dir, entry.Name())
		if err := fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			continue
		}
		removed = append(removed, entry.Name())
	}
	return removed, errors.Join(errs...)
}

func containsAny(name string, keys []string) bool {
	for _, k := range keys {
		if k != "" && strings.Contains(name, k) {
			return true
		}
	}
	return false
}
