package discovery

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// LoadBalancingStrategy defines how PickOne selects a node.
type LoadBalancingStrategy string

const (
	StrategyRandom     LoadBalancingStrategy = "random"
	StrategyRoundRobin LoadBalancingStrategy = "round_robin"
)

// GetOption filters the result of GetServices.
type GetOption func(*getOptions)

type getOptions struct {
	passingOnly bool
}

// PassingOnly restricts GetServices to nodes whose status is Passing.
func PassingOnly() GetOption {
	return func(o *getOptions) { o.passingOnly = true }
}

// Client is the read side of the discovery cache. Every call is a cache
// read: it never blocks on the coordination service and never fails
// because the service is unreachable, it can only return stale or absent
// data.
type Client struct {
	cache    *Cache
	handlers *Handlers

	mu      sync.Mutex
	r       *rand.Rand
	rrIndex map[string]int
}

// NewClient creates a Client over cache and handlers.
func NewClient(cache *Cache, handlers *Handlers) *Client {
	return &Client{
		cache:    cache,
		handlers: handlers,
		r:        rand.New(rand.NewSource(time.Now().UnixNano())),
		rrIndex:  make(map[string]int),
	}
}

// GetServices returns the cached nodes of service, or nil when the service
// is unknown.
func (c *Client) GetServices(service string, opts ...GetOption) []Node {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	nodes, ok := c.cache.Get(service)
	if !ok {
		return nil
	}
	if !o.passingOnly {
		return nodes
	}
	passing := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status == StatusPassing {
			passing = append(passing, n)
		}
	}
	return passing
}

// GetAllServices returns a copy of the whole cache.
func (c *Client) GetAllServices() map[string][]Node {
	return c.cache.Snapshot()
}

// OnUpdate registers fn to be called with the new node list of service
// after each update. A later registration for the same service replaces
// the earlier one. fn runs on the watch goroutine and must not shut the
// watcher down.
func (c *Client) OnUpdate(service string, fn UpdateHandler) {
	c.handlers.On(service, fn)
}

// PickOne selects one Passing node of service.
func (c *Client) PickOne(service string, strategy LoadBalancingStrategy) (Node, error) {
	if !c.cache.Has(service) {
		return Node{}, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	nodes := c.GetServices(service, PassingOnly())
	if len(nodes) == 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNoHealthyEndpoints, service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch strategy {
	case StrategyRoundRobin:
		idx := c.rrIndex[service]
		node := nodes[idx%len(nodes)]
		c.rrIndex[service] = (idx + 1) % len(nodes)
		return node, nil
	default:
		return nodes[c.r.Intn(len(nodes))], nil
	}
}
