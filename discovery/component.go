package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/kbukum/catalogwatch/component"
	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
)

// ProviderFactory creates a Provider from a Config. providerCfg holds
// provider-specific configuration (e.g. *consul.Config); providers
// type-assert it to their own config type.
type ProviderFactory func(cfg Config, providerCfg any, log *logger.Logger) (Provider, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory makes a backend available under name.
// Implementation packages call it from an init function.
func RegisterProviderFactory(name string, f ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[name] = f
}

func lookupProviderFactory(name string) (ProviderFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := providerFactories[name]
	return f, ok
}

// ComponentOption configures a Component.
type ComponentOption func(*Component)

// WithProvider uses p instead of building one from the registered factory.
func WithProvider(p Provider) ComponentOption {
	return func(c *Component) { c.provider = p }
}

// WithComponentClock sets the clock handed to the watch sessions and the
// staleness monitor.
func WithComponentClock(clk clock.Clock) ComponentOption {
	return func(c *Component) { c.clock = clk }
}

// WithComponentMetrics sets the metric instruments.
func WithComponentMetrics(m *observability.Metrics) ComponentOption {
	return func(c *Component) { c.metrics = m }
}

// WithRegistrationOptions passes options (observer, event channel) to the
// registration manager.
func WithRegistrationOptions(opts ...RegistrationOption) ComponentOption {
	return func(c *Component) { c.regOpts = append(c.regOpts, opts...) }
}

// Component binds the discovery read path (Watcher) and the self-registration
// write path (RegistrationManager) to the process lifecycle. Either can be
// switched off independently in Config.
type Component struct {
	cfg         Config
	providerCfg any
	log         *logger.Logger
	clock       clock.Clock
	metrics     *observability.Metrics
	regOpts     []RegistrationOption

	mu        sync.RWMutex
	provider  Provider
	watcher   *Watcher
	registrar *RegistrationManager
	regErr    error
	started   bool
}

// ensure Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// NewComponent creates a discovery Component. providerCfg holds
// provider-specific configuration (e.g. *consul.Config).
func NewComponent(cfg Config, providerCfg any, log *logger.Logger, opts ...ComponentOption) *Component {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	c := &Component{
		cfg:         cfg,
		providerCfg: providerCfg,
		log:         log.WithComponent("discovery"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.metrics == nil {
		c.metrics = observability.DefaultMetrics()
	}
	return c
}

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Watcher returns the read path, or nil when watching is disabled or the
// component has not started.
func (c *Component) Watcher() *Watcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watcher
}

// Registrar returns the registration manager, or nil when registration is
// disabled or the component has not started.
func (c *Component) Registrar() *RegistrationManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registrar
}

// Provider returns the backend, or nil before Start.
func (c *Component) Provider() Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.provider
}

// Start builds the provider, starts the watcher and registers the local
// service. Registration runs to a terminal state before Start returns; a
// spent retry budget is logged and reported through Health rather than
// failing startup.
func (c *Component) Start(ctx context.Context) error {
	c.cfg.ApplyDefaults()
	if !c.cfg.Enabled {
		c.log.Info("discovery disabled")
		return nil
	}
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	provider := c.provider
	if provider == nil {
		f, ok := lookupProviderFactory(c.cfg.Provider)
		if !ok {
			return fmt.Errorf("unsupported discovery provider %q (not registered)", c.cfg.Provider)
		}
		p, err := f(c.cfg, c.providerCfg, c.log)
		if err != nil {
			return fmt.Errorf("discovery start: %w", err)
		}
		provider = p
	}

	sessionOpts := []SessionOption{WithClock(c.clock), WithLogger(c.log), WithMetrics(c.metrics)}

	var watcher *Watcher
	if c.cfg.Watch.Enabled {
		watcher = NewWatcher(provider, c.cfg.Watch, c.cfg.Staleness, sessionOpts...)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("discovery watcher: %w", err)
		}
	}

	var registrar *RegistrationManager
	if c.cfg.Registration.Enabled {
		info, err := BuildServiceInfo(c.cfg.Registration)
		if err != nil {
			if watcher != nil {
				_ = watcher.Shutdown(ctx)
			}
			return fmt.Errorf("discovery registration: %w", err)
		}
		opts := append([]RegistrationOption{
			WithRegistrationLogger(c.log),
			WithRegistrationMetrics(c.metrics),
		}, c.regOpts...)
		registrar = NewRegistrationManager(provider, info, c.cfg.Registration, opts...)
	}

	c.mu.Lock()
	c.provider = provider
	c.watcher = watcher
	c.registrar = registrar
	c.started = true
	c.mu.Unlock()

	if registrar != nil {
		if err := registrar.Register(ctx); err != nil {
			c.mu.Lock()
			c.regErr = err
			c.mu.Unlock()
			c.log.Error("self-registration did not complete", logger.ErrorFields("register", err))
		}
	}

	c.log.Info("discovery component started", map[string]interface{}{
		"provider":     c.cfg.Provider,
		"watch":        watcher != nil,
		"registration": registrar != nil,
	})
	return nil
}

// Stop deregisters the local service, stops the watcher and closes the
// provider. Deregistration makes at least one attempt even if ctx is
// already done.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	provider, watcher, registrar := c.provider, c.watcher, c.registrar
	c.mu.Unlock()

	c.log.Info("discovery component stopping")

	var errs []error
	if registrar != nil {
		if err := registrar.Deregister(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if watcher != nil {
		if err := watcher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if provider != nil {
		if err := provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("discovery stop: %v", errs)
	}
	return nil
}

// Health reports unhealthy before start, degraded when self-registration
// gave up, healthy otherwise.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.cfg.Enabled {
		return component.Health{Name: c.Name(), Status: component.StatusHealthy, Message: "disabled"}
	}
	if !c.started {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "discovery not started"}
	}
	if c.regErr != nil {
		return component.Health{Name: c.Name(), Status: component.StatusDegraded, Message: c.regErr.Error()}
	}
	msg := ""
	if c.watcher != nil {
		msg = fmt.Sprintf("%d services cached", c.watcher.Cache().Len())
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy, Message: msg}
}

// Describe returns summary info logged at startup.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: fmt.Sprintf("provider=%s watch=%t registration=%t service=%s", c.cfg.Provider, c.cfg.Watch.Enabled, c.cfg.Registration.Enabled, c.cfg.Registration.ServiceName),
		Port:    c.cfg.Registration.ServicePort,
	}
}
