package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
	"github.com/kbukum/catalogwatch/resilience"
)

// QueryFunc issues one blocking query.
type QueryFunc[T any] func(ctx context.Context, opts QueryOptions) (T, QueryMeta, error)

// SessionState is the lifecycle state of a WatchSession.
type SessionState int

const (
	SessionStopped SessionState = iota
	SessionActive
)

func (s SessionState) String() string {
	if s == SessionActive {
		return "active"
	}
	return "stopped"
}

// Session is the view of a watch session the staleness monitor needs.
type Session interface {
	Target() string
	Active() bool
	LastChange() (time.Time, bool)
	Restart()
}

// WatchSession is a long-poll subscription to one query target. It re-issues
// the query as soon as the previous one returns, passing the last cursor so
// the server holds the request until something changes.
//
// onUpdate runs on the session goroutine while the session lock is held, so
// once Stop returns no further update from this session can land. onUpdate
// must not call back into the same session.
type WatchSession[T any] struct {
	target   string
	query    QueryFunc[T]
	onUpdate func(T)
	cfg      WatchConfig
	backoff  resilience.RetryConfig
	limiter  *rate.Limiter
	clock    clock.Clock
	log      *logger.Logger
	metrics  *observability.Metrics

	mu         sync.Mutex
	state      SessionState
	cursor     uint64
	lastChange time.Time
	hasChange  bool
	delivered  bool
	generation uint64
	parent     context.Context
	cancel     context.CancelFunc
}

// SessionOption configures a WatchSession.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	clock   clock.Clock
	log     *logger.Logger
	metrics *observability.Metrics
}

// WithClock sets the clock used for timestamps and backoff waits.
func WithClock(c clock.Clock) SessionOption {
	return func(o *sessionOptions) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) SessionOption {
	return func(o *sessionOptions) { o.log = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observability.Metrics) SessionOption {
	return func(o *sessionOptions) { o.metrics = m }
}

func resolveSessionOptions(opts []SessionOption) sessionOptions {
	o := sessionOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	if o.metrics == nil {
		o.metrics = observability.NopMetrics()
	}
	return o
}

// NewWatchSession creates a stopped session for target.
func NewWatchSession[T any](target string, query QueryFunc[T], onUpdate func(T), cfg WatchConfig, opts ...SessionOption) *WatchSession[T] {
	cfg.ApplyDefaults()
	o := resolveSessionOptions(opts)

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit < 0 {
		limit = rate.Inf
	}

	return &WatchSession[T]{
		target:   target,
		query:    query,
		onUpdate: onUpdate,
		cfg:      cfg,
		backoff:  cfg.Backoff(),
		limiter:  rate.NewLimiter(limit, 1),
		clock:    o.clock,
		log:      o.log.WithFields(map[string]interface{}{logger.FieldTarget: target}),
		metrics:  o.metrics,
	}
}

// Target returns the query target name.
func (s *WatchSession[T]) Target() string { return s.target }

// Start begins the query loop. Calling Start on an active session is a no-op.
func (s *WatchSession[T]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionActive {
		return
	}
	s.parent = ctx
	s.launchLocked()
}

// Stop marks the session stopped and cancels its in-flight query. A result
// that still arrives afterwards is discarded.
func (s *WatchSession[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return
	}
	s.state = SessionStopped
	s.generation++
	s.cancel()
	s.log.Debug("watch session stopped")
}

// Restart abandons the current query loop, resets the cursor and starts a
// fresh loop. The last-change time is set to now so the session gets a full
// threshold to answer before it is considered stale again.
func (s *WatchSession[T]) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return
	}
	s.cancel()
	s.cursor = 0
	s.lastChange = s.clock.Now()
	s.hasChange = true
	s.launchLocked()
	s.log.Info("watch session restarted")
}

// Cursor returns the last index seen.
func (s *WatchSession[T]) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// LastChange returns the time of the last successful response, if any.
func (s *WatchSession[T]) LastChange() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange, s.hasChange
}

// Active reports whether the session is running.
func (s *WatchSession[T]) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SessionActive
}

// State returns the lifecycle state.
func (s *WatchSession[T]) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *WatchSession[T]) launchLocked() {
	s.generation++
	s.state = SessionActive
	s.delivered = false
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	go s.run(ctx, s.generation)
}

func (s *WatchSession[T]) run(ctx context.Context, gen uint64) {
	failures := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		cursor, ok := s.cursorFor(gen)
		if !ok {
			return
		}

		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		payload, meta, err := s.query(qctx, QueryOptions{WaitIndex: cursor, WaitTime: s.cfg.WaitTime})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := resilience.Backoff(failures, s.backoff)
			s.metrics.RecordWatchError(ctx, s.target)
			s.log.Warn("blocking query failed", map[string]interface{}{
				logger.FieldError:   err.Error(),
				logger.FieldAttempt: failures,
				"retry_in":          delay.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-s.clock.After(delay):
			}
			continue
		}

		failures = 0
		if !s.deliver(ctx, gen, payload, meta) {
			return
		}
	}
}

func (s *WatchSession[T]) cursorFor(gen uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != SessionActive {
		return 0, false
	}
	return s.cursor, true
}

// deliver records a successful response and hands the payload to onUpdate
// when the index moved or this is the first response since (re)start.
// It reports false when the loop that produced the response is obsolete.
func (s *WatchSession[T]) deliver(ctx context.Context, gen uint64, payload T, meta QueryMeta) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.state != SessionActive {
		return false
	}

	changed := !s.delivered || meta.LastIndex != s.cursor
	switch {
	case meta.LastIndex < s.cursor:
		// The index went backwards (e.g. a server restore); start over.
		s.log.Warn("index went backwards, resetting cursor", map[string]interface{}{
			"previous":        s.cursor,
			logger.FieldIndex: meta.LastIndex,
		})
		s.cursor = 0
	default:
		s.cursor = meta.LastIndex
	}
	s.lastChange = s.clock.Now()
	s.hasChange = true

	if changed {
		s.delivered = true
		s.metrics.RecordWatchUpdate(ctx, s.target)
		s.onUpdate(payload)
	}
	return true
}
