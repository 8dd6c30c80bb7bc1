package consul

import (
	"context"
	"sort"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/errors"
	"github.com/kbukum/catalogwatch/logger"
)

const serviceName = "consul"

// Provider implements discovery.Provider on top of a Consul agent. Catalog
// reads are blocking queries; registration goes through the local agent.
type Provider struct {
	client *api.Client
	cfg    *Config
	log    *logger.Logger
}

func init() {
	discovery.RegisterProviderFactory("consul", func(_ discovery.Config, providerCfg any, log *logger.Logger) (discovery.Provider, error) {
		cfg, _ := providerCfg.(*Config)
		return NewProvider(cfg, log)
	})
}

// NewProvider creates a Provider from the given Config. A nil cfg uses the
// defaults (local agent over plain HTTP).
func NewProvider(cfg *Config, log *logger.Logger) (*Provider, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Validation(err.Error())
	}
	if log == nil {
		log = logger.Nop()
	}

	client, err := api.NewClient(cfg.apiConfig())
	if err != nil {
		return nil, errors.ConnectionFailed(serviceName).WithCause(err)
	}

	log.Debug("consul client created", map[string]interface{}{
		"address": cfg.Address, "scheme": cfg.Scheme, "datacenter": cfg.Datacenter,
	})
	return &Provider{client: client, cfg: cfg, log: log}, nil
}

// Client exposes the underlying Consul API client.
func (p *Provider) Client() *api.Client { return p.client }

// --- Catalog implementation ---

// Services lists every service in the catalog.
func (p *Provider) Services(ctx context.Context, opts discovery.QueryOptions) ([]string, discovery.QueryMeta, error) {
	services, meta, err := p.client.Catalog().Services(queryOptions(ctx, opts))
	if err != nil {
		return nil, discovery.QueryMeta{}, wrap("catalog.services", err)
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, queryMeta(meta), nil
}

// HealthService returns every instance of service together with its checks,
// regardless of check state.
func (p *Provider) HealthService(ctx context.Context, service string, opts discovery.QueryOptions) ([]discovery.ServiceEntry, discovery.QueryMeta, error) {
	entries, meta, err := p.client.Health().Service(service, "", false, queryOptions(ctx, opts))
	if err != nil {
		return nil, discovery.QueryMeta{}, wrap("health.service", err).WithDetail("target", service)
	}

	out := make([]discovery.ServiceEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, toServiceEntry(e))
	}
	return out, queryMeta(meta), nil
}

// --- Registry implementation ---

// Register registers a service instance with the local agent, replacing any
// checks previously attached to the same id.
func (p *Provider) Register(ctx context.Context, service *discovery.ServiceInfo) error {
	reg := &api.AgentServiceRegistration{
		ID:      service.ID,
		Name:    service.Name,
		Address: service.Address,
		Port:    service.Port,
		Tags:    service.Tags,
		Meta:    service.Metadata,
	}
	if chk := service.Check; chk != nil {
		reg.Check = &api.AgentServiceCheck{
			CheckID:                        chk.ID,
			Name:                           chk.Name,
			HTTP:                           chk.URL,
			Interval:                       chk.Interval.String(),
			Timeout:                        chk.Timeout.String(),
			DeregisterCriticalServiceAfter: chk.DeregisterAfter.String(),
		}
	}

	opts := api.ServiceRegisterOpts{ReplaceExistingChecks: true}.WithContext(ctx)
	if err := p.client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
		return wrap("agent.register", err).WithDetail("service_id", service.ID)
	}
	return nil
}

// Deregister removes a service instance from the local agent.
func (p *Provider) Deregister(ctx context.Context, serviceID string) error {
	q := (&api.QueryOptions{}).WithContext(ctx)
	if err := p.client.Agent().ServiceDeregisterOpts(serviceID, q); err != nil {
		return wrap("agent.deregister", err).WithDetail("service_id", serviceID)
	}
	return nil
}

// Close is a no-op; idle connections are reclaimed by the transport.
func (p *Provider) Close() error { return nil }

func queryOptions(ctx context.Context, opts discovery.QueryOptions) *api.QueryOptions {
	q := &api.QueryOptions{
		WaitIndex: opts.WaitIndex,
		WaitTime:  opts.WaitTime,
	}
	return q.WithContext(ctx)
}

func queryMeta(meta *api.QueryMeta) discovery.QueryMeta {
	if meta == nil {
		return discovery.QueryMeta{}
	}
	return discovery.QueryMeta{LastIndex: meta.LastIndex}
}

func toServiceEntry(e *api.ServiceEntry) discovery.ServiceEntry {
	var out discovery.ServiceEntry
	if e.Node != nil {
		out.Member = e.Node.Node
		out.Address = e.Node.Address
	}
	if s := e.Service; s != nil {
		out.ServiceID = s.ID
		out.Port = s.Port
		out.Tags = s.Tags
		// the service address overrides the node address when set
		if s.Address != "" {
			out.Address = s.Address
		}
	}
	out.Checks = make([]discovery.CheckResult, 0, len(e.Checks))
	for _, c := range e.Checks {
		out.Checks = append(out.Checks, discovery.CheckResult{
			CheckID: c.CheckID,
			Name:    c.Name,
			Status:  discovery.ParseStatus(c.Status),
			Output:  c.Output,
		})
	}
	return out
}

func wrap(op string, err error) *errors.AppError {
	return errors.ExternalServiceError(serviceName, err).WithDetail("operation", op)
}
