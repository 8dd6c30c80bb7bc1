package discovery

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"

	"github.com/kbukum/catalogwatch/logger"
	"github.com/kbukum/catalogwatch/observability"
)

// SessionSource lists sessions and re-fetches the catalog. *Reconciler
// implements it.
type SessionSource interface {
	Sessions() []Session
	Refresh(ctx context.Context) error
}

// StalenessMonitor restarts watch sessions that have gone quiet for longer
// than the threshold, catching long polls that died without an error. Each
// sweep also re-fetches the catalog so a lost catalog notification is
// eventually reconciled.
type StalenessMonitor struct {
	source  SessionSource
	cfg     StalenessConfig
	clock   clock.Clock
	log     *logger.Logger
	metrics *observability.Metrics
}

// NewStalenessMonitor creates a monitor over source.
func NewStalenessMonitor(source SessionSource, cfg StalenessConfig, opts ...SessionOption) *StalenessMonitor {
	cfg.ApplyDefaults()
	o := resolveSessionOptions(opts)
	return &StalenessMonitor{
		source:  source,
		cfg:     cfg,
		clock:   o.clock,
		log:     o.log.WithComponent("discovery.staleness"),
		metrics: o.metrics,
	}
}

// Run sweeps every interval until ctx is done.
func (m *StalenessMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Debug("staleness monitor running", map[string]interface{}{
		"interval":  m.cfg.Interval.String(),
		"threshold": m.cfg.Threshold.String(),
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep restarts every active session whose last response is older than
// the threshold, then refreshes the catalog. It returns the restarted
// targets. Sessions that have never answered are left alone.
func (m *StalenessMonitor) Sweep(ctx context.Context) []string {
	now := m.clock.Now()
	var restarted []string
	for _, s := range m.source.Sessions() {
		if !s.Active() {
			continue
		}
		last, ok := s.LastChange()
		if !ok || now.Sub(last) <= m.cfg.Threshold {
			continue
		}
		m.log.Warn("watch session stale, restarting", map[string]interface{}{
			logger.FieldTarget: s.Target(),
			"idle":             now.Sub(last).String(),
		})
		s.Restart()
		m.metrics.RecordSessionRestart(ctx, s.Target())
		restarted = append(restarted, s.Target())
	}

	if err := m.source.Refresh(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrSessionStopped) {
		m.log.Warn("catalog refresh failed", logger.ErrorFields("refresh", err))
	}
	return restarted
}
