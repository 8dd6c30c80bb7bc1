package discovery

import (
	"errors"
	"testing"
)

func newTestClient() (*Client, *Cache) {
	cache := NewCache()
	cache.Set("web", []Node{
		{ID: "a", Address: "10.0.0.1", Status: StatusPassing},
		{ID: "b", Address: "10.0.0.2", Status: StatusWarning},
		{ID: "c", Address: "10.0.0.3", Status: StatusPassing},
	})
	cache.Set("down", []Node{{ID: "d", Status: StatusCritical}})
	cache.Set("empty", nil)
	return NewClient(cache, NewHandlers()), cache
}

func TestGetServices(t *testing.T) {
	c, _ := newTestClient()

	if got := c.GetServices("web"); len(got) != 3 {
		t.Errorf("GetServices(web) = %d nodes, want 3", len(got))
	}
	passing := c.GetServices("web", PassingOnly())
	if len(passing) != 2 || passing[0].ID != "a" || passing[1].ID != "c" {
		t.Errorf("PassingOnly = %+v", passing)
	}
	if got := c.GetServices("unknown"); got != nil {
		t.Errorf("unknown service = %v, want nil", got)
	}
	if got := c.GetServices("empty"); got == nil || len(got) != 0 {
		t.Errorf("known empty service = %v, want empty non-nil", got)
	}
}

func TestGetServicesDoesNotShareTags(t *testing.T) {
	cache := NewCache()
	cache.Set("x", []Node{{ID: "x1", Tags: []string{"v1"}, Status: StatusPassing}})
	c := NewClient(cache, NewHandlers())

	got := c.GetServices("x")
	got[0].Tags[0] = "mutated"
	c.GetServices("x", PassingOnly())[0].Tags[0] = "mutated"
	c.GetAllServices()["x"][0].Tags[0] = "mutated"

	if tags := c.GetServices("x")[0].Tags; tags[0] != "v1" {
		t.Errorf("cached tags after caller mutation = %v, want [v1]", tags)
	}
}

func TestGetAllServices(t *testing.T) {
	c, _ := newTestClient()
	all := c.GetAllServices()
	if len(all) != 3 || len(all["web"]) != 3 {
		t.Errorf("GetAllServices = %v", all)
	}
}

func TestPickOneRoundRobin(t *testing.T) {
	c, _ := newTestClient()
	var got []string
	for i := 0; i < 4; i++ {
		n, err := c.PickOne("web", StrategyRoundRobin)
		if err != nil {
			t.Fatalf("PickOne: %v", err)
		}
		got = append(got, n.ID)
	}
	want := []string{"a", "c", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("round robin = %v, want %v", got, want)
		}
	}
}

func TestPickOneRandomOnlyPassing(t *testing.T) {
	c, _ := newTestClient()
	for i := 0; i < 50; i++ {
		n, err := c.PickOne("web", StrategyRandom)
		if err != nil {
			t.Fatalf("PickOne: %v", err)
		}
		if n.Status != StatusPassing {
			t.Fatalf("picked non-passing node %+v", n)
		}
	}
}

func TestPickOneErrors(t *testing.T) {
	c, _ := newTestClient()

	if _, err := c.PickOne("unknown", StrategyRandom); !errors.Is(err, ErrServiceNotFound) {
		t.Errorf("unknown: err = %v, want ErrServiceNotFound", err)
	}
	if _, err := c.PickOne("down", StrategyRandom); !errors.Is(err, ErrNoHealthyEndpoints) {
		t.Errorf("down: err = %v, want ErrNoHealthyEndpoints", err)
	}
	if _, err := c.PickOne("empty", StrategyRoundRobin); !errors.Is(err, ErrNoHealthyEndpoints) {
		t.Errorf("empty: err = %v, want ErrNoHealthyEndpoints", err)
	}
}

func TestOnUpdate(t *testing.T) {
	c, _ := newTestClient()
	var seen []Node
	c.OnUpdate("web", func(service string, nodes []Node) { seen = nodes })
	c.handlers.Notify("web", []Node{{ID: "z"}})
	if len(seen) != 1 || seen[0].ID != "z" {
		t.Errorf("handler saw %v", seen)
	}
}
