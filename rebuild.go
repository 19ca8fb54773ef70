package pypigo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RebuildState is the coordinator's process-wide state.
type RebuildState string

const (
	// StateIdle means no rebuild is running.
	StateIdle RebuildState = "idle"
	// StateScanning means the storage listing traversal is in progress.
	StateScanning RebuildState = "scanning"
	// StateReconciling means cache rows are being added and removed to
	// match the fresh storage listing.
	StateReconciling RebuildState = "reconciling"
)

const (
	pageAttempts  = 3
	pageRetryWait = 500 * time.Millisecond
)

// Coordinator resynchronizes the PackageCache from the Storage backend's
// authoritative listing. At most one rebuild runs at a time; concurrent
// triggers are rejected with ErrRebuildInProgress rather than queued.
//
// Fast mode clears the cache before repopulating it, so concurrent readers
// observe an availability gap. Graceful mode reconciles additively first and
// removes stale rows only after every addition is committed, so readers
// never observe an incomplete view.
type Coordinator struct {
	cache   PackageCache
	storage Storage

	mu    sync.Mutex
	state RebuildState
	dirty bool
}

// NewCoordinator creates an idle Coordinator.
func NewCoordinator(cache PackageCache, storage Storage) *Coordinator {
	return &Coordinator{cache: cache, storage: storage, state: StateIdle}
}

// Status returns the current rebuild state.
func (c *Coordinator) Status() RebuildState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dirty reports whether a fast-mode rebuild failed after clearing the
// cache, leaving it empty or partially populated until a rebuild is retried.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// RebuildHandle tracks one in-flight rebuild.
type RebuildHandle struct {
	done chan struct{}
	err  error
}

// Done is closed when the rebuild finishes.
func (h *RebuildHandle) Done() <-chan struct{} { return h.done }

// Err returns the rebuild's result. Only valid after Done is closed.
func (h *RebuildHandle) Err() error { return h.err }

// Wait blocks until the rebuild finishes or ctx is cancelled.
func (h *RebuildHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a rebuild in the background. Returns ErrRebuildInProgress
// immediately if one is already running.
func (c *Coordinator) Trigger(ctx context.Context, graceful bool) (*RebuildHandle, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	handle := &RebuildHandle{done: make(chan struct{})}
	go func() {
		handle.err = c.run(ctx, graceful)
		close(handle.done)
	}()
	return handle, nil
}

// Rebuild runs a rebuild to completion in the calling goroutine. Returns
// ErrRebuildInProgress if one is already running.
func (c *Coordinator) Rebuild(ctx context.Context, graceful bool) error {
	if err := c.begin(); err != nil {
		return err
	}
	return c.run(ctx, graceful)
}

// ReloadIfEmpty rebuilds the cache from storage when it holds no packages.
// Called at server startup.
func (c *Coordinator) ReloadIfEmpty(ctx context.Context) error {
	names, err := c.cache.Distinct(ctx)
	if err != nil {
		return fmt.Errorf("reload if empty: %w", err)
	}
	if len(names) > 0 {
		return nil
	}
	slog.Info("package cache is empty, rebuilding from storage")
	return c.Rebuild(ctx, false)
}

func (c *Coordinator) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrRebuildInProgress
	}
	c.state = StateScanning
	return nil
}

func (c *Coordinator) setState(s RebuildState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) setDirty(dirty bool) {
	c.mu.Lock()
	c.dirty = dirty
	c.mu.Unlock()
}

func (c *Coordinator) run(ctx context.Context, graceful bool) (err error) {
	start := time.Now()
	defer func() {
		c.setState(StateIdle)
		if err != nil {
			slog.Error("cache rebuild failed", "graceful", graceful, "err", err)
		} else {
			slog.Info("cache rebuild complete", "graceful", graceful, "elapsed", time.Since(start))
		}
	}()

	if graceful {
		return c.runGraceful(ctx)
	}
	return c.runFast(ctx)
}

// runFast clears the cache, then repopulates it from a full storage scan.
// A failure after the clear leaves the cache incomplete; the Dirty flag
// surfaces that the rebuild must be retried.
func (c *Coordinator) runFast(ctx context.Context) error {
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("rebuild: clear cache: %w", err)
	}
	c.setDirty(true)

	entries, err := c.scan(ctx)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	c.setState(StateReconciling)
	for _, pkg := range entries {
		if err := c.cache.Upsert(ctx, pkg); err != nil {
			return fmt.Errorf("rebuild: index %s: %w", pkg.Filename, err)
		}
	}
	c.setDirty(false)
	return nil
}

// runGraceful reconciles the cache against storage without ever exposing an
// empty or partial view: rows are added before any row is removed, and
// removals only start once every addition is committed.
func (c *Coordinator) runGraceful(ctx context.Context) error {
	keys, err := c.cache.Keys(ctx)
	if err != nil {
		return fmt.Errorf("graceful rebuild: snapshot cache: %w", err)
	}
	snapshot := make(map[PackageKey]struct{}, len(keys))
	for _, key := range keys {
		snapshot[key] = struct{}{}
	}

	entries, err := c.scan(ctx)
	if err != nil {
		return fmt.Errorf("graceful rebuild: %w", err)
	}

	c.setState(StateReconciling)

	// Additive pass: adding rows only grows the visible package set, so it
	// is safe while serving.
	fresh := make(map[PackageKey]struct{}, len(entries))
	for _, pkg := range entries {
		fresh[pkg.Key()] = struct{}{}
		if _, known := snapshot[pkg.Key()]; known {
			continue
		}
		if err := c.cache.Upsert(ctx, pkg); err != nil {
			// Abort before the subtractive pass ever runs so nothing is
			// lost on partial failure.
			return fmt.Errorf("graceful rebuild: index %s: %w", pkg.Filename, err)
		}
	}

	// Subtractive pass: every possible replacement is already committed.
	for key := range snapshot {
		if _, ok := fresh[key]; ok {
			continue
		}
		if err := c.cache.Remove(ctx, key); err != nil {
			return fmt.Errorf("graceful rebuild: remove %s: %w", key.Filename, err)
		}
	}
	return nil
}

// scan traverses the full storage listing. Remote backends may paginate and
// fail transiently, so each page is retried before the scan is aborted.
func (c *Coordinator) scan(ctx context.Context) ([]Package, error) {
	var entries []Package
	cursor := ""
	for {
		page, err := c.listPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("scan storage: %w", err)
		}
		entries = append(entries, page.Packages...)
		if page.NextCursor == "" {
			return entries, nil
		}
		cursor = page.NextCursor
	}
}

func (c *Coordinator) listPage(ctx context.Context, cursor string) (StoragePage, error) {
	var page StoragePage
	var err error
	for attempt := 1; attempt <= pageAttempts; attempt++ {
		page, err = c.storage.List(ctx, cursor)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return StoragePage{}, err
		}
		if attempt < pageAttempts {
			slog.Warn("storage page listing failed, retrying", "attempt", attempt, "err", err)
			time.Sleep(pageRetryWait)
		}
	}
	return StoragePage{}, err
}
