package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/catalogwatch/logger"
)

// Watcher is the discovery read path: it runs the Reconciler and the
// StalenessMonitor and serves reads from the cache through the embedded
// Client.
type Watcher struct {
	*Client

	catalog  Catalog
	watchCfg WatchConfig
	staleCfg StalenessConfig
	opts     []SessionOption
	log      *logger.Logger
	cache    *Cache
	handlers *Handlers

	mu         sync.Mutex
	reconciler *Reconciler
	monitor    *StalenessMonitor
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewWatcher creates a Watcher reading from catalog.
func NewWatcher(catalog Catalog, watchCfg WatchConfig, staleCfg StalenessConfig, opts ...SessionOption) *Watcher {
	o := resolveSessionOptions(opts)
	cache := NewCache()
	handlers := NewHandlers()
	return &Watcher{
		Client:   NewClient(cache, handlers),
		catalog:  catalog,
		watchCfg: watchCfg,
		staleCfg: staleCfg,
		opts:     opts,
		log:      o.log.WithComponent("discovery.watcher"),
		cache:    cache,
		handlers: handlers,
	}
}

// Init builds the reconciler and monitor. It is idempotent and is called by
// Start when needed.
func (w *Watcher) Init() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initLocked()
}

func (w *Watcher) initLocked() error {
	if w.reconciler != nil {
		return nil
	}
	if w.catalog == nil {
		return fmt.Errorf("discovery watcher: nil catalog")
	}
	w.watchCfg.ApplyDefaults()
	w.staleCfg.ApplyDefaults()
	w.reconciler = NewReconciler(w.catalog, w.cache, w.handlers, w.watchCfg, w.opts...)
	w.monitor = NewStalenessMonitor(w.reconciler, w.staleCfg, w.opts...)
	return nil
}

// Start launches the catalog watch and the staleness monitor. They run
// until Shutdown; cancelling ctx does not stop them.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if err := w.initLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	w.done = make(chan struct{})
	reconciler, monitor, done := w.reconciler, w.monitor, w.done
	w.mu.Unlock()

	reconciler.Start(runCtx)
	go func() {
		defer close(done)
		monitor.Run(runCtx)
	}()

	w.log.Info("discovery watcher started", map[string]interface{}{
		"wait_time":           w.watchCfg.WaitTime.String(),
		"staleness_threshold": w.staleCfg.Threshold.String(),
	})
	return nil
}

// Shutdown stops every session and the monitor. The cache is emptied.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	cancel, done, reconciler := w.cancel, w.done, w.reconciler
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}

	reconciler.Stop()
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.log.Info("discovery watcher stopped")
	return nil
}

// Reconciler returns the reconciler, or nil before Init.
func (w *Watcher) Reconciler() *Reconciler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconciler
}

// Monitor returns the staleness monitor, or nil before Init.
func (w *Watcher) Monitor() *StalenessMonitor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.monitor
}

// Cache returns the underlying cache.
func (w *Watcher) Cache() *Cache { return w.cache }

// Running reports whether Start has been called without a Shutdown.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}
