package discovery_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/catalogwatch/discovery"
	"github.com/kbukum/catalogwatch/discovery/static"
	"github.com/kbukum/catalogwatch/discovery/testutil"
)

func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func watchConfig() discovery.WatchConfig {
	return discovery.WatchConfig{
		Enabled:         true,
		WaitTime:        time.Second,
		RateLimit:       -1,
		ErrorBackoff:    time.Millisecond,
		MaxErrorBackoff: 5 * time.Millisecond,
	}
}

func entry(id, addr string, port int, status discovery.Status) discovery.ServiceEntry {
	return discovery.ServiceEntry{
		Member:    "node-" + id,
		ServiceID: id,
		Address:   addr,
		Port:      port,
		Checks:    []discovery.CheckResult{{CheckID: "serfHealth", Status: status}},
	}
}

func startWatcher(t *testing.T, catalog discovery.Catalog) *discovery.Watcher {
	t.Helper()
	w := discovery.NewWatcher(catalog, watchConfig(), discovery.StalenessConfig{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })
	return w
}

func TestWatcherTracksCatalog(t *testing.T) {
	backend := static.NewProvider([]discovery.StaticEndpoint{
		{Name: "a", Address: "10.0.0.1", Port: 80},
		{Name: "b", Address: "10.0.0.2", Port: 80},
	}, nil)
	w := startWatcher(t, backend)

	if got := strings.Join(w.Cache().Names(), ","); got != "a,b" {
		t.Fatalf("initial services = %s, want a,b", got)
	}
	eventually(t, "a populated", func() bool { return len(w.GetServices("a")) == 1 })

	backend.SetCatalog("b", "c")
	eventually(t, "catalog {b,c} mirrored", func() bool {
		return strings.Join(w.Cache().Names(), ",") == "b,c"
	})
	if w.GetServices("a") != nil {
		t.Error("removed service still readable")
	}
	if _, err := w.PickOne("a", discovery.StrategyRandom); !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Errorf("PickOne(a) err = %v, want ErrServiceNotFound", err)
	}
}

func TestWatcherHealthTransitions(t *testing.T) {
	backend := static.NewProvider([]discovery.StaticEndpoint{
		{Name: "web", Address: "10.0.0.1", Port: 80},
	}, nil)
	w := startWatcher(t, backend)

	updates := make(chan []discovery.Node, 8)
	w.OnUpdate("web", func(_ string, nodes []discovery.Node) {
		select {
		case updates <- nodes:
		default:
		}
	})

	eventually(t, "web passing", func() bool {
		n, err := w.PickOne("web", discovery.StrategyRoundRobin)
		return err == nil && n.Address == "10.0.0.1"
	})

	backend.SetService("web",
		entry("w1", "10.0.0.1", 80, discovery.StatusCritical),
		entry("w2", "10.0.0.2", 80, discovery.StatusWarning),
	)
	eventually(t, "web has no passing nodes", func() bool {
		_, err := w.PickOne("web", discovery.StrategyRandom)
		return errors.Is(err, discovery.ErrNoHealthyEndpoints)
	})
	nodes := w.GetServices("web")
	if len(nodes) != 2 || nodes[0].Status != discovery.StatusCritical || nodes[1].Status != discovery.StatusWarning {
		t.Errorf("nodes = %+v", nodes)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case got := <-updates:
			if len(got) == 2 {
				return
			}
		case <-timeout:
			t.Fatal("update handler never saw the two-node list")
		}
	}
}

func TestWatcherRecoversFromQueryErrors(t *testing.T) {
	backend := static.NewProvider([]discovery.StaticEndpoint{
		{Name: "web", Address: "10.0.0.1", Port: 80},
	}, nil)
	faulty := testutil.Wrap(backend)
	faulty.FailNext(testutil.OpHealthService, 3, nil)
	w := startWatcher(t, faulty)

	eventually(t, "web populated despite failures", func() bool { return len(w.GetServices("web")) == 1 })
	if got := faulty.Calls(testutil.OpHealthService); got < 4 {
		t.Errorf("health calls = %d, want at least 4", got)
	}
}

func TestWatcherStartsWithCatalogDown(t *testing.T) {
	backend := static.NewProvider([]discovery.StaticEndpoint{
		{Name: "web", Address: "10.0.0.1", Port: 80},
	}, nil)
	faulty := testutil.Wrap(backend)
	faulty.FailNext(testutil.OpServices, 4, nil)
	w := startWatcher(t, faulty)

	eventually(t, "catalog recovered", func() bool { return w.Cache().Has("web") })
}

func TestWatcherShutdown(t *testing.T) {
	backend := static.NewProvider([]discovery.StaticEndpoint{
		{Name: "web", Address: "10.0.0.1", Port: 80},
	}, nil)
	w := discovery.NewWatcher(backend, watchConfig(), discovery.StalenessConfig{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.Running() {
		t.Fatal("Running() = false after Start")
	}
	sessions := w.Reconciler().Sessions()

	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if w.Running() {
		t.Error("Running() = true after Shutdown")
	}
	if w.Cache().Len() != 0 {
		t.Errorf("cache not emptied: %v", w.Cache().Names())
	}
	for _, s := range sessions {
		if s.Active() {
			t.Errorf("session %s still active", s.Target())
		}
	}
	if err := w.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestWatcherNilCatalog(t *testing.T) {
	w := discovery.NewWatcher(nil, watchConfig(), discovery.StalenessConfig{})
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected error for nil catalog")
	}
}
