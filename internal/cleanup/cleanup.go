// Package cleanup tracks disposable pipeline artifacts and removes them
// once, best-effort. Removal failures are logged and never fail a run.
package cleanup

import (
	"errors"
	"os"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cwas/internal/logger"
)

// Report summarizes a Release.
type Report struct {
	Removed int
	Missing int   // already gone
	Kept    int   // left in place by Keep
	Err     error // combined removal errors, informational only
}

// Registry collects paths as stages create them.
type Registry struct {
	log logger.Logger

	mu       sync.Mutex
	paths    []string
	seen     map[string]struct{}
	keep     bool
	reason   string
	released bool
}

func New(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &Registry{log: log, seen: make(map[string]struct{})}
}

// Add registers paths for removal. Duplicates and empty paths are ignored.
func (r *Registry) Add(paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, dup := r.seen[p]; dup {
			continue
		}
		r.seen[p] = struct{}{}
		r.paths = append(r.paths, p)
	}
}

// Paths returns the registered paths in registration order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// Keep disarms the registry: Release will leave every file in place.
func (r *Registry) Keep(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keep = true
	r.reason = reason
}

// Release removes every registered path. Only the first call acts.
func (r *Registry) Release() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return Report{}
	}
	r.released = true

	var rep Report
	if r.keep {
		rep.Kept = len(r.paths)
		if rep.Kept > 0 {
			r.log.Warn("keeping intermediate files", zap.String("reason", r.reason), zap.Strings("paths", r.paths))
		}
		return rep
	}
	for _, p := range r.paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			rep.Removed++
		case errors.Is(err, os.ErrNotExist):
			rep.Missing++
		default:
			r.log.Warn("failed to remove intermediate file", zap.String("path", p), zap.Error(err))
			rep.Err = multierr.Append(rep.Err, err)
		}
	}
	if rep.Err != nil {
		r.log.Warn("cleanup incomplete", zap.Int("failed", len(multierr.Errors(rep.Err))), zap.Int("removed", rep.Removed))
	} else {
		r.log.Debug("cleanup done", zap.Int("removed", rep.Removed), zap.Int("missing", rep.Missing))
	}
	return rep
}
