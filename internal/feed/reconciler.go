package feed

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type ReconcilerConfig struct {
	Loader   Loader
	PageSize int
	Logger   *zap.Logger
	// OnUpdate is called after every successful reload with the new feed.
	OnUpdate func(Feed)
}

// Reconciler keeps the last successfully loaded feed and reloads it whenever a change
// notification or an explicit refresh arrives. Notifications carry no state: any number
// of pending notifications collapse into one full reload, and a failed reload leaves the
// previous feed in place.
type Reconciler struct {
	loader   Loader
	basePage int
	logger   *zap.Logger
	onUpdate func(Feed)
	pending  chan struct{}

	loadMu sync.Mutex

	mu        sync.RWMutex
	pageSize  int
	current   Feed
	loaded    bool
	lastError error
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{
		loader:   cfg.Loader,
		basePage: pageSize,
		pageSize: pageSize,
		logger:   logger,
		onUpdate: cfg.OnUpdate,
		pending:  make(chan struct{}, 1),
	}
}

// Notify schedules a reload without blocking. Repeated calls before the reload runs coalesce.
func (r *Reconciler) Notify() {
	select {
	case r.pending <- struct{}{}:
	default:
	}
}

// Run reloads once per coalesced batch of notifications until ctx is done. Each value
// received on triggers is treated as a notification; triggers may be nil.
func (r *Reconciler) Run(ctx context.Context, triggers <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			r.Notify()
		case <-r.pending:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("feed reload failed, keeping previous feed", zap.Error(err))
			}
		}
	}
}

// Refresh reloads the feed at the current page size.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.mu.RLock()
	pageSize := r.pageSize
	r.mu.RUnlock()

	loaded, err := r.loader.LoadFeed(ctx, pageSize)

	r.mu.Lock()
	if err != nil {
		r.lastError = err
		r.mu.Unlock()
		return err
	}
	r.current = loaded
	r.loaded = true
	r.lastError = nil
	onUpdate := r.onUpdate
	r.mu.Unlock()

	if onUpdate != nil {
		onUpdate(loaded)
	}
	return nil
}

// LoadMore grows the page by one base page and reloads.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	r.pageSize += r.basePage
	r.mu.Unlock()
	return r.Refresh(ctx)
}

// Current returns the last good feed and whether any load has succeeded yet.
func (r *Reconciler) Current() (Feed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.loaded
}

// Snapshot returns the last good feed, loading it first if nothing has been loaded.
func (r *Reconciler) Snapshot(ctx context.Context) (Feed, error) {
	if current, ok := r.Current(); ok {
		return current, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return Feed{}, err
	}
	current, _ := r.Current()
	return current, nil
}

// LastError returns the error of the most recent failed reload, cleared by the next success.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastError
}

// PageSize returns the current page size including any LoadMore growth.
func (r *Reconciler) PageSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pageSize
}
