// Package registry tracks every transient resource a stitch run allocates —
// materialized asset files and running decoder handles — so they can be
// released deterministically at run end. One Arena is created per run and
// drained exactly once on every exit path: success, failure, or cancellation.
package registry

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrDrained is returned when a resource is registered after the arena has
// already been drained. The late resource is released immediately so it
// cannot leak; the error tells the caller the run is already over.
var ErrDrained = errors.New("registry: arena already drained")

// Releaser frees one tracked resource. Implementations must be safe to call
// exactly once; the arena never calls Release twice for the same entry.
type Releaser interface {
	Release() error
}

// ReleaseFunc adapts a plain function to the Releaser interface.
type ReleaseFunc func() error

// Release calls the wrapped function.
func (f ReleaseFunc) Release() error { return f() }

// Arena is a run-scoped resource registry. It is the only cross-call shared
// state in the engine; scoping it to a single run and draining it once on
// exit is what keeps long-lived sessions from leaking memory or temp files.
type Arena struct {
	runID  string
	logger *slog.Logger

	mu      sync.Mutex
	entries []entry
	drained bool
}

type entry struct {
	name string
	rel  Releaser
}

// NewArena creates an arena for a single stitch run with a fresh run ID.
func NewArena(logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		runID:  uuid.NewString(),
		logger: logger,
	}
}

// RunID returns the unique identifier of the run this arena belongs to.
func (a *Arena) RunID() string {
	return a.runID
}

// Register tracks a resource for release at drain time. Resources are
// released in reverse registration order, so dependents registered later
// (decoder handles) go away before what they depend on (asset files).
func (a *Arena) Register(name string, rel Releaser) error {
	a.mu.Lock()
	if a.drained {
		a.mu.Unlock()
		// Late registration, typically a look-ahead load finishing after
		// cancellation. Release right away so nothing leaks.
		if err := rel.Release(); err != nil {
			a.logger.Warn("late resource release failed",
				slog.String("run_id", a.runID),
				slog.String("resource", name),
				slog.String("error", err.Error()),
			)
		}
		return ErrDrained
	}
	a.entries = append(a.entries, entry{name: name, rel: rel})
	a.mu.Unlock()
	return nil
}

// RegisterFunc is a convenience wrapper around Register for plain functions.
func (a *Arena) RegisterFunc(name string, release func() error) error {
	return a.Register(name, ReleaseFunc(release))
}

// Len returns the number of resources currently tracked.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Drain releases every tracked resource and empties the arena. It is
// idempotent: the second and later calls are no-ops. Release errors are
// logged and the first one is returned, but draining always continues
// through the full list.
func (a *Arena) Drain() error {
	a.mu.Lock()
	entries := a.entries
	a.entries = nil
	a.drained = true
	a.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.rel.Release(); err != nil {
			a.logger.Warn("resource release failed",
				slog.String("run_id", a.runID),
				slog.String("resource", e.name),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
