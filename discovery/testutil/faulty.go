package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/kbukum/catalogwatch/discovery"
)

// ErrInjected is returned by injected failures unless another error is
// configured.
var ErrInjected = errors.New("injected failure")

// Operation names a Provider call that faults can target.
type Operation string

const (
	OpServices      Operation = "services"
	OpHealthService Operation = "health_service"
	OpRegister      Operation = "register"
	OpDeregister    Operation = "deregister"
)

type fault struct {
	remaining int // -1 fails forever
	err       error
}

// FaultyProvider wraps a discovery.Provider and fails selected calls on
// demand. It counts every call per operation.
type FaultyProvider struct {
	inner discovery.Provider

	mu     sync.Mutex
	faults map[Operation]*fault
	calls  map[Operation]int
}

// Wrap returns a FaultyProvider around inner with no faults armed.
func Wrap(inner discovery.Provider) *FaultyProvider {
	return &FaultyProvider{
		inner:  inner,
		faults: make(map[Operation]*fault),
		calls:  make(map[Operation]int),
	}
}

// FailNext makes the next n calls of op fail with err (ErrInjected if nil).
func (f *FaultyProvider) FailNext(op Operation, n int, err error) {
	f.arm(op, n, err)
}

// FailAlways makes every call of op fail until Succeed is called.
func (f *FaultyProvider) FailAlways(op Operation, err error) {
	f.arm(op, -1, err)
}

// Succeed disarms any fault on op.
func (f *FaultyProvider) Succeed(op Operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, op)
}

// Calls returns how many times op has been invoked, failed calls included.
func (f *FaultyProvider) Calls(op Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyProvider) arm(op Operation, n int, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = &fault{remaining: n, err: err}
}

// enter records a call and returns the injected error, if any.
func (f *FaultyProvider) enter(op Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	ft, ok := f.faults[op]
	if !ok {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
		if ft.remaining == 0 {
			delete(f.faults, op)
		}
	}
	return ft.err
}

func (f *FaultyProvider) Services(ctx context.Context, opts discovery.QueryOptions) ([]string, discovery.QueryMeta, error) {
	if err := f.enter(OpServices); err != nil {
		return nil, discovery.QueryMeta{}, err
	}
	return f.inner.Services(ctx, opts)
}

func (f *FaultyProvider) HealthService(ctx context.Context, service string, opts discovery.QueryOptions) ([]discovery.ServiceEntry, discovery.QueryMeta, error) {
	if err := f.enter(OpHealthService); err != nil {
		return nil, discovery.QueryMeta{}, err
	}
	return f.inner.HealthService(ctx, service, opts)
}

func (f *FaultyProvider) Register(ctx context.Context, svc *discovery.ServiceInfo) error {
	if err := f.enter(OpRegister); err != nil {
		return err
	}
	return f.inner.Register(ctx, svc)
}

func (f *FaultyProvider) Deregister(ctx context.Context, serviceID string) error {
	if err := f.enter(OpDeregister); err != nil {
		return err
	}
	return f.inner.Deregister(ctx, serviceID)
}

func (f *FaultyProvider) Close() error { return f.inner.Close() }

var _ discovery.Provider = (*FaultyProvider)(nil)
