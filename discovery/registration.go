package discovery

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/catalogwatch/errors"
	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
	"github.com/kbukum/catalogwatch/resilience"
)

// EventType names a registration lifecycle signal.
type EventType string

const (
	EventRegisterSuccess    EventType = "register.success"
	EventRegisterRetrying   EventType = "register.retrying"
	EventRegisterFailed     EventType = "register.fail"
	EventDeregisterSuccess  EventType = "deregister.success"
	EventDeregisterRetrying EventType = "deregister.retrying"
	EventDeregisterFailed   EventType = "deregister.fail"
)

// RegistrationEvent is emitted after every attempt outcome.
type RegistrationEvent struct {
	Type      EventType
	ServiceID string
	Attempt   int
	Err       error
	Time      time.Time
}

// RegistrationObserver receives registration events synchronously.
type RegistrationObserver func(RegistrationEvent)

// RegistrationOption configures a RegistrationManager.
type RegistrationOption func(*RegistrationManager)

// WithObserver sets a callback for registration events.
func WithObserver(fn RegistrationObserver) RegistrationOption {
	return func(m *RegistrationManager) { m.observer = fn }
}

// WithEventChannel delivers registration events to a caller-owned channel.
// Sends never block: an event that does not fit is dropped and logged.
func WithEventChannel(ch chan<- RegistrationEvent) RegistrationOption {
	return func(m *RegistrationManager) { m.events = ch }
}

// WithRegistrationLogger sets the logger.
func WithRegistrationLogger(l *logger.Logger) RegistrationOption {
	return func(m *RegistrationManager) { m.log = l.WithComponent("discovery.registration") }
}

// WithRegistrationMetrics sets the metric instruments.
func WithRegistrationMetrics(mt *observability.Metrics) RegistrationOption {
	return func(m *RegistrationManager) { m.metrics = mt }
}

// RegistrationManager registers the local service on startup and
// deregisters it on shutdown, retrying each with a fixed delay until it
// succeeds or the retry budget is spent.
type RegistrationManager struct {
	registry Registry
	info     *ServiceInfo
	retry    resilience.RetryConfig
	timeout  time.Duration
	observer RegistrationObserver
	events   chan<- RegistrationEvent
	log      *logger.Logger
	metrics  *observability.Metrics

	mu         sync.Mutex
	registered bool
	lastErr    error
}

// NewRegistrationManager creates a manager for info using the retry budget
// and timeouts of cfg.
func NewRegistrationManager(registry Registry, info *ServiceInfo, cfg RegistrationConfig, opts ...RegistrationOption) *RegistrationManager {
	cfg.ApplyDefaults()
	m := &RegistrationManager{
		registry: registry,
		info:     info,
		retry:    cfg.RetryConfig(),
		timeout:  cfg.AttemptTimeout,
		log:      logger.Nop(),
		metrics:  observability.NopMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithFields(map[string]interface{}{logger.FieldServiceID: info.ID})
	return m
}

// Info returns the descriptor being registered.
func (m *RegistrationManager) Info() *ServiceInfo { return m.info }

// Registered reports whether the last Register succeeded and no Deregister
// has succeeded since.
func (m *RegistrationManager) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered
}

// LastError returns the terminal error of the last operation, if any.
func (m *RegistrationManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Register registers the service, retrying per the configured budget. It
// returns nil on success, a REGISTRATION_FAILED *errors.AppError once the
// budget is spent, or ctx.Err() if ctx ends between attempts.
func (m *RegistrationManager) Register(ctx context.Context) error {
	err := m.run(ctx, ctx, registerOp)
	m.mu.Lock()
	m.registered = err == nil
	m.lastErr = err
	m.mu.Unlock()
	return err
}

// Deregister removes the service. The first attempt always runs, even when
// ctx is already cancelled, so shutdown never skips it; later retries stop
// when ctx ends.
func (m *RegistrationManager) Deregister(ctx context.Context) error {
	err := m.run(ctx, context.WithoutCancel(ctx), deregisterOp)
	m.mu.Lock()
	if err == nil {
		m.registered = false
	}
	m.lastErr = err
	m.mu.Unlock()
	return err
}

type operation struct {
	name     string
	span     string
	success  EventType
	retrying EventType
	failed   EventType
}

var (
	registerOp = operation{
		name: "register", span: observability.SpanRegister,
		success: EventRegisterSuccess, retrying: EventRegisterRetrying, failed: EventRegisterFailed,
	}
	deregisterOp = operation{
		name: "deregister", span: observability.SpanDeregister,
		success: EventDeregisterSuccess, retrying: EventDeregisterRetrying, failed: EventDeregisterFailed,
	}
)

// run drives one operation to a terminal state. ctx governs the waits
// between attempts; attemptBase is the parent of each attempt's timeout.
func (m *RegistrationManager) run(ctx, attemptBase context.Context, op operation) error {
	ctx, span := observability.StartSpan(ctx, op.span)
	span.SetAttributes(
		attribute.String(observability.AttrServiceID, m.info.ID),
		attribute.String(observability.AttrServiceName, m.info.Name),
	)
	start := time.Now()

	attempts := 0
	cfg := m.retry
	cfg.RetryIf = func(error) bool { return true }
	cfg.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.metrics.RecordRegistrationAttempt(ctx, op.name, "retrying")
		m.log.Warn(op.name+" failed, retrying", map[string]interface{}{
			logger.FieldAttempt: attempt,
			logger.FieldError:   err.Error(),
			"retry_in":          backoff.String(),
		})
		m.emit(RegistrationEvent{Type: op.retrying, ServiceID: m.info.ID, Attempt: attempt, Err: err})
	}

	err := resilience.RetryFunc(ctx, cfg, func() error {
		attempts++
		actx, cancel := context.WithTimeout(attemptBase, m.timeout)
		defer cancel()
		if op.name == registerOp.name {
			return m.registry.Register(actx, m.info)
		}
		return m.registry.Deregister(actx, m.info.ID)
	})

	span.SetAttributes(attribute.Int(observability.AttrAttempts, attempts))
	m.metrics.RecordRegistrationDuration(ctx, op.name, time.Since(start))

	if err == nil {
		m.metrics.RecordRegistrationAttempt(ctx, op.name, "success")
		m.log.Info(op.name+" succeeded", map[string]interface{}{
			logger.FieldAttempt: attempts,
			"name":              m.info.Name,
			"address":           m.info.Address,
			"port":              m.info.Port,
		})
		m.emit(RegistrationEvent{Type: op.success, ServiceID: m.info.ID, Attempt: attempts})
		observability.EndSpan(span, nil)
		return nil
	}

	if ctx.Err() != nil && err == ctx.Err() {
		m.log.Warn(op.name+" abandoned", map[string]interface{}{
			logger.FieldAttempt: attempts,
			logger.FieldError:   err.Error(),
		})
		observability.EndSpan(span, err)
		return err
	}

	final := errors.RegistrationFailed(op.name, m.info.ID, attempts, err)
	m.metrics.RecordRegistrationAttempt(ctx, op.name, "failed")
	m.log.Error(op.name+" failed", map[string]interface{}{
		logger.FieldAttempt: attempts,
		logger.FieldError:   err.Error(),
	})
	m.emit(RegistrationEvent{Type: op.failed, ServiceID: m.info.ID, Attempt: attempts, Err: final})
	observability.EndSpan(span, final)
	return final
}

func (m *RegistrationManager) emit(ev RegistrationEvent) {
	ev.Time = time.Now()
	if m.observer != nil {
		m.observer(ev)
	}
	if m.events == nil {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.log.Warn("registration event dropped", map[string]interface{}{"event": string(ev.Type)})
	}
}
