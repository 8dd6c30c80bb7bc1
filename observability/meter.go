package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/catalogwatch/logger"
)

const meterName = "github.com/kbukum/catalogwatch/discovery"

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider and installs it
// globally. The returned provider should be shut down on exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the instruments recorded by the discovery cache.
type Metrics struct {
	watchUpdates         metric.Int64Counter
	watchErrors          metric.Int64Counter
	sessionRestarts      metric.Int64Counter
	activeSessions       metric.Int64UpDownCounter
	registrationAttempts metric.Int64Counter
	registrationDuration metric.Float64Histogram
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	watchUpdates, err := meter.Int64Counter("catalogwatch.watch.updates",
		metric.WithDescription("Blocking-query responses that carried a new index"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.watch.updates counter: %w", err)
	}

	watchErrors, err := meter.Int64Counter("catalogwatch.watch.errors",
		metric.WithDescription("Failed blocking queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.watch.errors counter: %w", err)
	}

	sessionRestarts, err := meter.Int64Counter("catalogwatch.session.restarts",
		metric.WithDescription("Watch sessions restarted by the staleness monitor"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.session.restarts counter: %w", err)
	}

	activeSessions, err := meter.Int64UpDownCounter("catalogwatch.session.active",
		metric.WithDescription("Per-service watch sessions currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.session.active gauge: %w", err)
	}

	registrationAttempts, err := meter.Int64Counter("catalogwatch.registration.attempts",
		metric.WithDescription("Register and deregister attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.registration.attempts counter: %w", err)
	}

	registrationDuration, err := meter.Float64Histogram("catalogwatch.registration.duration",
		metric.WithDescription("Time from first attempt to final outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating catalogwatch.registration.duration histogram: %w", err)
	}

	return &Metrics{
		watchUpdates:         watchUpdates,
		watchErrors:          watchErrors,
		sessionRestarts:      sessionRestarts,
		activeSessions:       activeSessions,
		registrationAttempts: registrationAttempts,
		registrationDuration: registrationDuration,
	}, nil
}

// DefaultMetrics builds instruments on the global meter provider. If that
// fails it falls back to no-op instruments so callers never get nil.
func DefaultMetrics() *Metrics {
	m, err := NewMetrics(Meter(meterName))
	if err != nil {
		logger.Warn("falling back to no-op metrics", logger.Fields("error", err.Error()))
		return NopMetrics()
	}
	return m
}

// NopMetrics returns instruments that record nothing.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

// RecordWatchUpdate counts a response that advanced the cursor of target.
func (m *Metrics) RecordWatchUpdate(ctx context.Context, target string) {
	m.watchUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordWatchError counts a failed blocking query for target.
func (m *Metrics) RecordWatchError(ctx context.Context, target string) {
	m.watchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordSessionRestart counts a staleness-triggered restart.
func (m *Metrics) RecordSessionRestart(ctx context.Context, target string) {
	m.sessionRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// AddActiveSessions adjusts the running-session gauge by delta.
func (m *Metrics) AddActiveSessions(ctx context.Context, delta int64) {
	m.activeSessions.Add(ctx, delta)
}

// RecordRegistrationAttempt counts one register/deregister attempt.
// outcome is "success", "retrying" or "failed".
func (m *Metrics) RecordRegistrationAttempt(ctx context.Context, operation, outcome string) {
	m.registrationAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// RecordRegistrationDuration records how long an operation took to settle.
func (m *Metrics) RecordRegistrationDuration(ctx context.Context, operation string, d time.Duration) {
	m.registrationDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
