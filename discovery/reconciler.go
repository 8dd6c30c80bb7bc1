package discovery

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
)

// CatalogTarget is the target name of the catalog-level watch session.
const CatalogTarget = "catalog"

// Reconciler keeps one health watch session per catalog service. It owns
// the catalog-level session, and every catalog update is diffed against
// the cache keys: new names get a session and an empty entry, vanished
// names have their session stopped and their entry removed.
//
// Lock order: catalog session, then r.mu, then a service session, then the
// cache. The catalog session's update callback enters Reconcile while
// holding its own lock, so r.mu is never held while stopping it.
//
// The catalog index of the last applied snapshot is kept so that a one-shot
// Refresh never applies a list older than one the catalog session already
// delivered.
type Reconciler struct {
	catalog  Catalog
	cache    *Cache
	handlers *Handlers
	cfg      WatchConfig
	exclude  map[string]bool
	opts     []SessionOption
	log      *logger.Logger
	metrics  *observability.Metrics

	mu             sync.Mutex
	ctx            context.Context
	started        bool
	catalogSession *WatchSession[catalogSnapshot]
	catalogIndex   uint64
	sessions       map[string]*WatchSession[[]ServiceEntry]
}

// catalogSnapshot is a service-name list together with the index it was
// read at.
type catalogSnapshot struct {
	names []string
	index uint64
}

// NewReconciler creates a Reconciler writing into cache and notifying
// handlers. opts are passed on to every session it creates.
func NewReconciler(catalog Catalog, cache *Cache, handlers *Handlers, cfg WatchConfig, opts ...SessionOption) *Reconciler {
	cfg.ApplyDefaults()
	o := resolveSessionOptions(opts)

	exclude := make(map[string]bool, len(cfg.ExcludeServices))
	for _, name := range cfg.ExcludeServices {
		exclude[name] = true
	}

	return &Reconciler{
		catalog:  catalog,
		cache:    cache,
		handlers: handlers,
		cfg:      cfg,
		exclude:  exclude,
		opts:     opts,
		log:      o.log.WithComponent("discovery.reconciler"),
		metrics:  o.metrics,
		sessions: make(map[string]*WatchSession[[]ServiceEntry]),
	}
}

// Start performs an initial catalog fetch and then starts the catalog-level
// watch session. A failed initial fetch is logged; the watch session keeps
// retrying on its own.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.ctx = ctx
	r.started = true
	r.catalogIndex = 0
	r.catalogSession = NewWatchSession[catalogSnapshot](
		CatalogTarget,
		func(ctx context.Context, opts QueryOptions) (catalogSnapshot, QueryMeta, error) {
			names, meta, err := r.catalog.Services(ctx, opts)
			return catalogSnapshot{names: names, index: meta.LastIndex}, meta, err
		},
		func(snap catalogSnapshot) { _, _, _ = r.reconcile(snap.names, snap.index, fromWatch) },
		r.cfg,
		r.sessionOpts()...,
	)
	cs := r.catalogSession
	r.mu.Unlock()

	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("initial catalog fetch failed", logger.ErrorFields("refresh", err))
	}
	cs.Start(ctx)
	r.log.Info("reconciler started")
}

// snapshotSource says where a catalog list came from.
type snapshotSource int

const (
	fromCaller snapshotSource = iota
	fromWatch
	fromRefresh
)

// Reconcile applies a catalog service-name list and returns the names whose
// sessions were added and removed. Applying the same list twice is a no-op.
func (r *Reconciler) Reconcile(names []string) (added, removed []string) {
	added, removed, _ = r.reconcile(names, 0, fromCaller)
	return added, removed
}

// Refresh fetches the catalog once without waiting and reconciles it. The
// result is dropped when the catalog session has already applied a newer
// index while the fetch was in flight. It returns ErrSessionStopped when the
// reconciler is not running.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return ErrSessionStopped
	}

	qctx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()
	names, meta, err := r.catalog.Services(qctx, QueryOptions{})
	if err != nil {
		return err
	}
	_, _, err = r.reconcile(names, meta.LastIndex, fromRefresh)
	return err
}

// reconcile diffs names against the running sessions. Catalog session
// updates are applied in the order the session delivers them and always
// move the applied index, including after an index reset. A refresh older
// than the applied index is skipped.
func (r *Reconciler) reconcile(names []string, index uint64, src snapshotSource) (added, removed []string, err error) {
	ctx, span := observability.StartSpan(context.Background(), observability.SpanReconcile)
	defer func() {
		span.SetAttributes(
			attribute.Int(observability.AttrAdded, len(added)),
			attribute.Int(observability.AttrRemoved, len(removed)),
		)
		observability.EndSpan(span, nil)
	}()

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, nil, ErrSessionStopped
	}

	switch src {
	case fromWatch:
		r.catalogIndex = index
	case fromRefresh:
		if index < r.catalogIndex {
			r.log.Debug("discarding stale catalog refresh", map[string]interface{}{
				logger.FieldIndex: index,
				"applied":         r.catalogIndex,
			})
			return nil, nil, nil
		}
		r.catalogIndex = index
	}

	desired := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || r.exclude[name] {
			continue
		}
		desired[name] = true
	}

	for name := range desired {
		if _, ok := r.sessions[name]; ok {
			continue
		}
		r.cache.Set(name, nil)
		s := r.newServiceSession(name)
		r.sessions[name] = s
		s.Start(r.ctx)
		added = append(added, name)
	}

	for name, s := range r.sessions {
		if desired[name] {
			continue
		}
		s.Stop()
		delete(r.sessions, name)
		r.cache.Delete(name)
		removed = append(removed, name)
	}

	if n := int64(len(added) - len(removed)); n != 0 {
		r.metrics.AddActiveSessions(ctx, n)
	}
	if len(added) > 0 || len(removed) > 0 {
		sort.Strings(added)
		sort.Strings(removed)
		r.log.Info("catalog reconciled", map[string]interface{}{
			"added":    added,
			"removed":  removed,
			"services": len(r.sessions),
		})
	}
	return added, removed, nil
}

// Sessions returns every running session, the catalog session first.
func (r *Reconciler) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	out := make([]Session, 0, len(r.sessions)+1)
	out = append(out, r.catalogSession)
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, r.sessions[name])
	}
	return out
}

// Session returns the health session of service, if one is running.
func (r *Reconciler) Session(service string) (*WatchSession[[]ServiceEntry], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[service]
	return s, ok
}

// Stop stops every session and clears the cache.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cs := r.catalogSession
	r.mu.Unlock()

	cs.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, s := range r.sessions {
		s.Stop()
		r.cache.Delete(name)
	}
	if n := len(r.sessions); n > 0 {
		r.metrics.AddActiveSessions(context.Background(), -int64(n))
	}
	r.sessions = make(map[string]*WatchSession[[]ServiceEntry])
	r.log.Info("reconciler stopped")
}

func (r *Reconciler) newServiceSession(name string) *WatchSession[[]ServiceEntry] {
	query := func(ctx context.Context, opts QueryOptions) ([]ServiceEntry, QueryMeta, error) {
		return r.catalog.HealthService(ctx, name, opts)
	}
	onUpdate := func(entries []ServiceEntry) {
		nodes := ToNodes(name, entries)
		r.cache.Set(name, nodes)
		r.handlers.Notify(name, nodes)
	}
	return NewWatchSession[[]ServiceEntry](name, query, onUpdate, r.cfg, r.sessionOpts()...)
}

func (r *Reconciler) sessionOpts() []SessionOption {
	o := resolveSessionOptions(r.opts)
	return []SessionOption{
		WithClock(o.clock),
		WithMetrics(o.metrics),
		WithLogger(o.log.WithComponent("discovery.watch")),
	}
}
