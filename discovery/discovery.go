package discovery

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common discovery errors.
var (
	ErrServiceNotFound    = errors.New("service not found")
	ErrNoHealthyEndpoints = errors.New("no healthy endpoints found")
	ErrDiscoveryDisabled  = errors.New("service discovery is disabled")
	ErrSessionStopped     = errors.New("watch session stopped")
)

// Status is the three-state health of a node. Values are ordered by
// severity: Critical > Warning > Passing.
type Status int

const (
	StatusPassing Status = iota
	StatusWarning
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusPassing:
		return "passing"
	case StatusWarning:
		return "warning"
	default:
		return "critical"
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	*s = ParseStatus(string(text))
	return nil
}

// ParseStatus maps a coordination-service check status onto Status.
// Anything other than passing or warning (critical, maintenance, unknown
// strings) is Critical.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passing":
		return StatusPassing
	case "warning":
		return StatusWarning
	default:
		return StatusCritical
	}
}

// Node is one discovered instance of a service. Nodes are values: every
// health update produces new Node values and never edits existing ones.
type Node struct {
	ID      string   `json:"id,omitempty"`
	Address string   `json:"address"`
	Port    int      `json:"port"`
	Name    string   `json:"name"` // originating cluster member
	Service string   `json:"service"`
	Tags    []string `json:"tags,omitempty"`
	Status  Status   `json:"status"`
}

// CheckResult is one health check reported for a node.
type CheckResult struct {
	CheckID string
	Name    string
	Status  Status
	Output  string
}

// ServiceEntry is one row of a service's health view: the node that runs
// the instance plus its check results.
type ServiceEntry struct {
	Member    string
	ServiceID string
	Address   string
	Port      int
	Tags      []string
	Checks    []CheckResult
}

// QueryOptions carry the long-poll parameters of a blocking query.
// A zero WaitIndex returns immediately.
type QueryOptions struct {
	WaitIndex uint64
	WaitTime  time.Duration
}

// QueryMeta is returned alongside every blocking-query result.
type QueryMeta struct {
	LastIndex uint64
}

// Catalog is the read side of the coordination service.
type Catalog interface {
	// Services lists every service name known cluster-wide.
	Services(ctx context.Context, opts QueryOptions) ([]string, QueryMeta, error)

	// HealthService returns the health view of one service.
	HealthService(ctx context.Context, service string, opts QueryOptions) ([]ServiceEntry, QueryMeta, error)
}

// Provider is a coordination-service backend offering both the catalog
// read side and agent registration.
type Provider interface {
	Catalog
	Registry

	// Close releases any resources held by the provider.
	Close() error
}
