package discovery

import (
	"fmt"
	"time"

	"github.com/kbukum/catalogwatch/resilience"
	"github.com/kbukum/catalogwatch/validation"
)

// Config holds service discovery and self-registration configuration.
// Connection settings of the provider live in the provider's own config
// (e.g. consul.Config) and are handed to the Component separately.
type Config struct {
	// Enabled controls whether the discovery component is active.
	Enabled bool `mapstructure:"enabled"`

	// Provider selects the backend: "consul" or "static".
	Provider string `mapstructure:"provider" validate:"omitempty,oneof=consul static"`

	Registration RegistrationConfig `mapstructure:"registration"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Staleness    StalenessConfig    `mapstructure:"staleness"`

	// StaticEndpoints seeds the static provider.
	StaticEndpoints []StaticEndpoint `mapstructure:"static_endpoints" validate:"dive"`
}

// RegistrationConfig describes the local process as a service instance.
type RegistrationConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ServiceID defaults to the hex MD5 of "address:port".
	ServiceID   string `mapstructure:"service_id"`
	ServiceName string `mapstructure:"service_name" validate:"required_if=Enabled true"`
	// ServiceAddress overrides the discovered host address.
	ServiceAddress string            `mapstructure:"service_address" validate:"omitempty,ip|hostname"`
	ServicePort    int               `mapstructure:"service_port" validate:"gte=0,lte=65535"`
	Tags           []string          `mapstructure:"tags"`
	Metadata       map[string]string `mapstructure:"metadata"`

	HealthCheckPath     string        `mapstructure:"health_check_path"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval" validate:"gte=0"`
	HealthCheckTimeout  time.Duration `mapstructure:"health_check_timeout" validate:"gte=0"`
	// DeregisterAfter lets the coordination service drop the instance after
	// it has been critical this long. Zero disables it.
	DeregisterAfter time.Duration `mapstructure:"deregister_after" validate:"gte=0"`

	// MaxRetry is the number of retries after the first attempt; -1 retries
	// forever. Nil selects -1.
	MaxRetry      *int          `mapstructure:"max_retry"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`
	// AttemptTimeout bounds a single register or deregister call.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gte=0"`
}

// WatchConfig tunes the long-poll watch sessions.
type WatchConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// WaitTime is the server-side wait budget of each blocking query.
	WaitTime time.Duration `mapstructure:"wait_time" validate:"gte=0"`
	// QueryTimeout is the hard client timeout; it must exceed WaitTime.
	QueryTimeout time.Duration `mapstructure:"query_timeout" validate:"gte=0"`
	// ErrorBackoff is the minimum delay after a failed query.
	ErrorBackoff time.Duration `mapstructure:"error_backoff" validate:"gte=0"`
	// MaxErrorBackoff caps the delay under sustained failure.
	MaxErrorBackoff time.Duration `mapstructure:"max_error_backoff" validate:"gte=0"`
	// RateLimit caps queries per second per session; negative disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	// ExcludeServices are never watched. Defaults to the coordination
	// service's own meta-service.
	ExcludeServices []string `mapstructure:"exclude_services"`
}

// StalenessConfig tunes the staleness monitor.
type StalenessConfig struct {
	// Threshold is how long a session may go without a response before it
	// is restarted.
	Threshold time.Duration `mapstructure:"threshold" validate:"gte=0"`
	// Interval is the sweep period.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// StaticEndpoint describes a statically configured service instance.
type StaticEndpoint struct {
	Name    string   `mapstructure:"name" validate:"required"`
	Address string   `mapstructure:"address" validate:"required"`
	Port    int      `mapstructure:"port" validate:"gte=0,lte=65535"`
	Tags    []string `mapstructure:"tags"`
	// Status is the check status reported for the instance; empty means passing.
	Status string `mapstructure:"status" validate:"omitempty,oneof=passing warning critical"`
}

// Defaults.
const (
	DefaultHealthCheckPath     = "/health"
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthCheckTimeout  = 1 * time.Second
	DefaultMaxRetry            = resilience.Unlimited
	DefaultRetryInterval       = 5 * time.Second
	DefaultAttemptTimeout      = 10 * time.Second
	DefaultWaitTime            = 5 * time.Minute
	DefaultErrorBackoff        = 1 * time.Second
	DefaultMaxErrorBackoff     = 30 * time.Second
	DefaultRateLimit           = 10
	DefaultStalenessThreshold  = 5 * time.Minute
	DefaultStalenessInterval   = 15 * time.Second
	ConsulMetaService          = "consul"
)

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "static"
	}
	c.Registration.ApplyDefaults()
	c.Watch.ApplyDefaults()
	c.Staleness.ApplyDefaults()
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *RegistrationConfig) ApplyDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = DefaultHealthCheckPath
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if c.MaxRetry == nil {
		n := DefaultMaxRetry
		c.MaxRetry = &n
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
}

// Retries returns the configured retry budget; -1 means unlimited.
func (c *RegistrationConfig) Retries() int {
	if c.MaxRetry == nil {
		return DefaultMaxRetry
	}
	if *c.MaxRetry < 0 {
		return resilience.Unlimited
	}
	return *c.MaxRetry
}

// RetryConfig converts the retry budget into a fixed-delay retry policy.
func (c *RegistrationConfig) RetryConfig() resilience.RetryConfig {
	attempts := resilience.Unlimited
	if n := c.Retries(); n >= 0 {
		attempts = n + 1
	}
	return resilience.FixedDelay(attempts, c.RetryInterval)
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *WatchConfig) ApplyDefaults() {
	if c.WaitTime == 0 {
		c.WaitTime = DefaultWaitTime
	}
	if c.QueryTimeout == 0 {
		// The server adds up to WaitTime/16 of jitter to the wait.
		c.QueryTimeout = c.WaitTime + c.WaitTime/16 + 5*time.Second
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.MaxErrorBackoff == 0 {
		c.MaxErrorBackoff = DefaultMaxErrorBackoff
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.ExcludeServices == nil {
		c.ExcludeServices = []string{ConsulMetaService}
	}
}

// Backoff returns the error backoff policy of a watch session.
func (c *WatchConfig) Backoff() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    resilience.Unlimited,
		InitialBackoff: c.ErrorBackoff,
		MaxBackoff:     c.MaxErrorBackoff,
		BackoffFactor:  2.0,
		Jitter:         0.2,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *StalenessConfig) ApplyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultStalenessThreshold
	}
	if c.Interval == 0 {
		c.Interval = DefaultStalenessInterval
	}
}

// Validate checks that required fields are present and consistent.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.Watch.QueryTimeout > 0 && c.Watch.QueryTimeout <= c.Watch.WaitTime {
		return fmt.Errorf("watch.query_timeout (%s) must exceed watch.wait_time (%s)", c.Watch.QueryTimeout, c.Watch.WaitTime)
	}
	if c.Registration.Enabled && c.Registration.ServicePort == 0 {
		return fmt.Errorf("registration.service_port is required when registration is enabled")
	}
	return nil
}
