// Package workspace hands out exclusively owned working directories, one per
// deployment attempt, and guarantees their removal.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdonaldj/sitedrop/internal/ports"
)

// DirPrefix prefixes every working directory the arena creates.
const DirPrefix = "sitedrop-"

// Arena creates and tracks working directories under a base directory.
type Arena struct {
	fs    ports.FileSystem
	base  string
	newID func() string
	now   func() time.Time

	mu     sync.Mutex
	active map[string]*Workspace
}

// NewArena creates an arena rooted at base (os.TempDir when empty).
func NewArena(fs ports.FileSystem, base string) *Arena {
	if base == "" {
		base = os.TempDir()
	}
	return &Arena{
		fs:     fs,
		base:   base,
		newID:  uuid.NewString,
		now:    time.Now,
		active: make(map[string]*Workspace),
	}
}

// Workspace is one attempt's private directory.
type Workspace struct {
	ID string
	// Dir is the workspace root.
	Dir string
	// SiteDir is where the archive is extracted.
	SiteDir string

	arena *Arena
	once  sync.Once
	err   error
}

// Acquire creates a new uniquely named workspace.
func (a *Arena) Acquire() (*Workspace, error) {
	id := a.newID()
	dir := filepath.Join(a.base, DirPrefix+id)
	ws := &Workspace{
		ID:      id,
		Dir:     dir,
		SiteDir: filepath.Join(dir, "site"),
		arena:   a,
	}

	if err := a.fs.MkdirAll(ws.SiteDir, 0o700); err != nil {
		_ = a.fs.RemoveAll(dir) // Best effort cleanup on error path
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	a.mu.Lock()
	a.active[id] = ws
	a.mu.Unlock()
	return ws, nil
}

// Release removes the workspace directory. It is safe to call repeatedly;
// only the first call does any work.
func (w *Workspace) Release() error {
	w.once.Do(func() {
		w.err = w.arena.fs.RemoveAll(w.Dir)
		w.arena.mu.Lock()
		delete(w.arena.active, w.ID)
		w.arena.mu.Unlock()
	})
	return w.err
}

// Active returns the number of workspaces not yet released.
func (a *Arena) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Sweep removes workspace directories left behind by earlier processes,
// e.g. after a crash. The base directory may be shared with other live
// processes, so only directories untouched for at least olderThan are
// removed. Directories owned by this arena are always kept.
func (a *Arena) Sweep(olderThan time.Duration) ([]string, error) {
	entries, err := a.fs.ReadDir(a.base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-olderThan)
	var removed []string
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), DirPrefix) {
			continue
		}
		if _, mine := a.active[strings.TrimPrefix(e.Name(), DirPrefix)]; mine {
			continue
		}
		path := filepath.Join(a.base, e.Name())
		info, err := a.fs.Lstat(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := a.fs.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
