package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/kbukum/catalogwatch/component"
	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/discovery/static"
	"github.com/kbukum/catalogwatch/discovery/testutil"
	"github.com/kbukum/catalogwatch/logger"
)

func componentConfig() discovery.Config {
	return discovery.Config{
		Enabled:  true,
		Provider: "static",
		Watch:    watchConfig(),
		Registration: discovery.RegistrationConfig{
			Enabled:        true,
			ServiceID:      "orders-1",
			ServiceName:    "orders",
			ServiceAddress: "127.0.0.1",
			ServicePort:    9000,
			RetryInterval:  time.Millisecond,
		},
	}
}

func TestComponentLifecycle(t *testing.T) {
	backend := static.NewProvider(nil, nil)
	events := make(chan discovery.RegistrationEvent, 8)
	c := discovery.NewComponent(componentConfig(), nil, logger.Nop(),
		discovery.WithProvider(backend),
		discovery.WithRegistrationOptions(discovery.WithEventChannel(events)),
	)

	if h := c.Health(context.Background()); h.Status != component.StatusUnhealthy {
		t.Errorf("health before start = %s", h.Status)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !backend.Registered("orders-1") {
		t.Fatal("service not registered on start")
	}

	// The registered instance shows up through the read path too.
	w := c.Watcher()
	eventually(t, "own registration visible", func() bool {
		nodes := w.GetServices("orders", discovery.PassingOnly())
		return len(nodes) == 1 && nodes[0].Port == 9000
	})
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("health after start = %s (%s)", h.Status, h.Message)
	}

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if backend.Registered("orders-1") {
		t.Error("service still registered after stop")
	}
	if w.Running() {
		t.Error("watcher still running after stop")
	}

	var types []discovery.EventType
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	if !equalTypes(types, discovery.EventRegisterSuccess, discovery.EventDeregisterSuccess) {
		t.Errorf("events = %v", types)
	}
}

func TestComponentRegistrationFailureDegrades(t *testing.T) {
	faulty := testutil.Wrap(static.NewProvider(nil, nil))
	faulty.FailAlways(testutil.OpRegister, nil)

	cfg := componentConfig()
	cfg.Watch.Enabled = false
	cfg.Registration.MaxRetry = intPtr(1)
	c := discovery.NewComponent(cfg, nil, logger.Nop(), discovery.WithProvider(faulty))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start should not fail on registration errors: %v", err)
	}
	defer func() { _ = c.Stop(context.Background()) }()

	if got := faulty.Calls(testutil.OpRegister); got != 2 {
		t.Errorf("register attempts = %d, want 2", got)
	}
	h := c.Health(context.Background())
	if h.Status != component.StatusDegraded {
		t.Errorf("health = %s, want degraded", h.Status)
	}
	if c.Watcher() != nil {
		t.Error("watcher created although watch is disabled")
	}
}

func TestComponentDisabled(t *testing.T) {
	c := discovery.NewComponent(discovery.Config{}, nil, logger.Nop())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.Provider() != nil {
		t.Error("disabled component built a provider")
	}
	if h := c.Health(context.Background()); h.Status != component.StatusHealthy {
		t.Errorf("health = %s", h.Status)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestComponentUnknownProvider(t *testing.T) {
	c := discovery.NewComponent(discovery.Config{Enabled: true, Provider: "zookeeper"}, nil, logger.Nop())
	if err := c.Start(context.Background()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestComponentDescribe(t *testing.T) {
	c := discovery.NewComponent(componentConfig(), nil, logger.Nop())
	d := c.Describe()
	if d.Type != "discovery" || d.Port != 9000 {
		t.Errorf("Describe() = %+v", d)
	}
	var _ component.Describable = c
}
