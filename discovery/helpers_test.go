package discovery

import (
	"context"
	"sync"
	"testing"
	"time"
)

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func testWatchConfig() WatchConfig {
	return WatchConfig{
		WaitTime:        time.Second,
		RateLimit:       -1,
		ErrorBackoff:    time.Millisecond,
		MaxErrorBackoff: 2 * time.Millisecond,
	}
}

type response[T any] struct {
	payload T
	index   uint64
	err     error
}

// scriptedQuery answers each call with the next queued response. Calls
// block until a response is queued; honorCtx controls whether they also
// return on cancellation.
type scriptedQuery[T any] struct {
	honorCtx  bool
	responses chan response[T]

	mu    sync.Mutex
	calls []QueryOptions
}

func newScriptedQuery[T any](honorCtx bool) *scriptedQuery[T] {
	return &scriptedQuery[T]{honorCtx: honorCtx, responses: make(chan response[T], 16)}
}

func (q *scriptedQuery[T]) query(ctx context.Context, opts QueryOptions) (T, QueryMeta, error) {
	q.mu.Lock()
	q.calls = append(q.calls, opts)
	q.mu.Unlock()

	var zero T
	if !q.honorCtx {
		r := <-q.responses
		return r.payload, QueryMeta{LastIndex: r.index}, r.err
	}
	select {
	case r := <-q.responses:
		return r.payload, QueryMeta{LastIndex: r.index}, r.err
	case <-ctx.Done():
		return zero, QueryMeta{}, ctx.Err()
	}
}

func (q *scriptedQuery[T]) respond(payload T, index uint64) {
	q.responses <- response[T]{payload: payload, index: index}
}

func (q *scriptedQuery[T]) fail(err error) {
	q.responses <- response[T]{err: err}
}

func (q *scriptedQuery[T]) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

func (q *scriptedQuery[T]) call(i int) QueryOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[i]
}

// recorder collects onUpdate payloads.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

// fakeCatalog is a minimal blocking catalog: a query with a non-zero
// WaitIndex waits until the global index moves past it.
type fakeCatalog struct {
	mu      sync.Mutex
	index   uint64
	changed chan struct{}
	names   []string
	health  map[string][]ServiceEntry

	serviceCalls []QueryOptions
	healthCalls  map[string][]QueryOptions
}

func newFakeCatalog(names ...string) *fakeCatalog {
	return &fakeCatalog{
		index:       1,
		changed:     make(chan struct{}),
		names:       names,
		health:      make(map[string][]ServiceEntry),
		healthCalls: make(map[string][]QueryOptions),
	}
}

func (f *fakeCatalog) setNames(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = names
	f.bumpLocked()
}

func (f *fakeCatalog) setHealth(service string, entries ...ServiceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health[service] = entries
	f.bumpLocked()
}

func (f *fakeCatalog) bumpLocked() {
	f.index++
	close(f.changed)
	f.changed = make(chan struct{})
}

func (f *fakeCatalog) wait(ctx context.Context, opts QueryOptions) error {
	for {
		f.mu.Lock()
		if opts.WaitIndex == 0 || f.index > opts.WaitIndex {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *fakeCatalog) Services(ctx context.Context, opts QueryOptions) ([]string, QueryMeta, error) {
	f.mu.Lock()
	f.serviceCalls = append(f.serviceCalls, opts)
	f.mu.Unlock()
	if err := f.wait(ctx, opts); err != nil {
		return nil, QueryMeta{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...), QueryMeta{LastIndex: f.index}, nil
}

func (f *fakeCatalog) HealthService(ctx context.Context, service string, opts QueryOptions) ([]ServiceEntry, QueryMeta, error) {
	f.mu.Lock()
	f.healthCalls[service] = append(f.healthCalls[service], opts)
	f.mu.Unlock()
	if err := f.wait(ctx, opts); err != nil {
		return nil, QueryMeta{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ServiceEntry(nil), f.health[service]...), QueryMeta{LastIndex: f.index}, nil
}

func (f *fakeCatalog) healthWaitIndexes(service string) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.healthCalls[service]))
	for _, o := range f.healthCalls[service] {
		out = append(out, o.WaitIndex)
	}
	return out
}

func (f *fakeCatalog) serviceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.serviceCalls)
}

func passingEntry(id, addr string, port int) ServiceEntry {
	return ServiceEntry{
		Member:    "node-" + id,
		ServiceID: id,
		Address:   addr,
		Port:      port,
		Checks:    []CheckResult{{CheckID: "serfHealth", Status: StatusPassing}},
	}
}
