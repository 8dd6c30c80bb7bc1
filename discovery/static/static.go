// Package static is an in-memory coordination service with real
// blocking-query semantics: every mutation bumps a global index, and a
// query whose WaitIndex is at or past the current index waits until the
// next mutation or WaitTime, whichever comes first.
//
// It backs the "static" provider for local development and serves as the
// coordination-service double in tests.
package static

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/logger"
)

const memberName = "static"

func init() {
	discovery.RegisterProviderFactory("static", func(cfg discovery.Config, _ any, log *logger.Logger) (discovery.Provider, error) {
		return NewProvider(cfg.StaticEndpoints, log), nil
	})
}

// Provider implements discovery.Provider in memory.
type Provider struct {
	mu         sync.Mutex
	index      uint64
	changed    chan struct{}
	services   map[string][]discovery.ServiceEntry
	registered map[string]string // service id -> service name
	log        *logger.Logger
}

// NewProvider creates a Provider seeded from endpoints.
func NewProvider(endpoints []discovery.StaticEndpoint, log *logger.Logger) *Provider {
	if log == nil {
		log = logger.Nop()
	}
	p := &Provider{
		index:      1,
		changed:    make(chan struct{}),
		services:   make(map[string][]discovery.ServiceEntry),
		registered: make(map[string]string),
		log:        log.WithComponent("discovery.static"),
	}
	for _, ep := range endpoints {
		status := ep.Status
		if status == "" {
			status = "passing"
		}
		p.services[ep.Name] = append(p.services[ep.Name], discovery.ServiceEntry{
			Member:    memberName,
			ServiceID: uuid.NewString(),
			Address:   ep.Address,
			Port:      ep.Port,
			Tags:      ep.Tags,
			Checks: []discovery.CheckResult{{
				CheckID: "static",
				Name:    "static endpoint",
				Status:  discovery.ParseStatus(status),
			}},
		})
	}
	return p
}

// Index returns the current index.
func (p *Provider) Index() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// SetService replaces the health view of name, creating the service if
// needed.
func (p *Provider) SetService(name string, entries ...discovery.ServiceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[name] = append([]discovery.ServiceEntry{}, entries...)
	p.bumpLocked()
}

// RemoveService drops name from the catalog.
func (p *Provider) RemoveService(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.services[name]; !ok {
		return
	}
	delete(p.services, name)
	p.bumpLocked()
}

// SetCatalog replaces the catalog with exactly names. Existing services
// keep their entries; new ones start with no instances.
func (p *Provider) SetCatalog(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := make(map[string][]discovery.ServiceEntry, len(names))
	for _, name := range names {
		next[name] = p.services[name]
	}
	p.services = next
	p.bumpLocked()
}

// Services lists every service name, sorted.
func (p *Provider) Services(ctx context.Context, opts discovery.QueryOptions) ([]string, discovery.QueryMeta, error) {
	var names []string
	meta, err := p.blockingRead(ctx, opts, func() {
		names = make([]string, 0, len(p.services))
		for name := range p.services {
			names = append(names, name)
		}
		sort.Strings(names)
	})
	return names, meta, err
}

// HealthService returns the health view of service. An unknown service
// yields an empty list.
func (p *Provider) HealthService(ctx context.Context, service string, opts discovery.QueryOptions) ([]discovery.ServiceEntry, discovery.QueryMeta, error) {
	var entries []discovery.ServiceEntry
	meta, err := p.blockingRead(ctx, opts, func() {
		entries = cloneEntries(p.services[service])
	})
	return entries, meta, err
}

// blockingRead waits while the index has not moved past opts.WaitIndex,
// then runs read under the lock.
func (p *Provider) blockingRead(ctx context.Context, opts discovery.QueryOptions, read func()) (discovery.QueryMeta, error) {
	var timeout <-chan time.Time
	if opts.WaitIndex > 0 && opts.WaitTime > 0 {
		timer := time.NewTimer(opts.WaitTime)
		defer timer.Stop()
		timeout = timer.C
	}

	p.mu.Lock()
	for opts.WaitIndex > 0 && p.index <= opts.WaitIndex {
		changed := p.changed
		p.mu.Unlock()
		select {
		case <-changed:
		case <-timeout:
			p.mu.Lock()
			read()
			idx := p.index
			p.mu.Unlock()
			return discovery.QueryMeta{LastIndex: idx}, nil
		case <-ctx.Done():
			return discovery.QueryMeta{}, ctx.Err()
		}
		p.mu.Lock()
	}
	read()
	idx := p.index
	p.mu.Unlock()
	return discovery.QueryMeta{LastIndex: idx}, nil
}

// Register adds the instance with a passing check, replacing any instance
// with the same id.
func (p *Provider) Register(ctx context.Context, svc *discovery.ServiceInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeLocked(svc.ID)
	checkID := "static"
	if svc.Check != nil {
		checkID = svc.Check.ID
	}
	p.services[svc.Name] = append(p.services[svc.Name], discovery.ServiceEntry{
		Member:    memberName,
		ServiceID: svc.ID,
		Address:   svc.Address,
		Port:      svc.Port,
		Tags:      append([]string(nil), svc.Tags...),
		Checks: []discovery.CheckResult{{
			CheckID: checkID,
			Name:    "registered",
			Status:  discovery.StatusPassing,
		}},
	})
	p.registered[svc.ID] = svc.Name
	p.bumpLocked()

	p.log.Info("service registered", map[string]interface{}{
		logger.FieldServiceID: svc.ID, "name": svc.Name,
	})
	return nil
}

// Deregister removes a registered instance. Unknown ids are not an error.
func (p *Provider) Deregister(ctx context.Context, serviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeLocked(serviceID) {
		p.bumpLocked()
		p.log.Info("service deregistered", map[string]interface{}{logger.FieldServiceID: serviceID})
	}
	return nil
}

// Registered reports whether serviceID is currently registered.
func (p *Provider) Registered(serviceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.registered[serviceID]
	return ok
}

// Close is a no-op.
func (p *Provider) Close() error { return nil }

func (p *Provider) removeLocked(serviceID string) bool {
	name, ok := p.registered[serviceID]
	if !ok {
		return false
	}
	delete(p.registered, serviceID)
	entries := p.services[name]
	kept := entries[:0:0]
	for _, e := range entries {
		if e.ServiceID != serviceID {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(p.services, name)
	} else {
		p.services[name] = kept
	}
	return true
}

func (p *Provider) bumpLocked() {
	p.index++
	close(p.changed)
	p.changed = make(chan struct{})
}

func cloneEntries(entries []discovery.ServiceEntry) []discovery.ServiceEntry {
	out := make([]discovery.ServiceEntry, len(entries))
	for i, e := range entries {
		e.Tags = append([]string(nil), e.Tags...)
		e.Checks = append([]discovery.CheckResult(nil), e.Checks...)
		out[i] = e
	}
	return out
}

var _ discovery.Provider = (*Provider)(nil)
