package discovery

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kbukum/catalogwatch/logger"
)

type fakeSession struct {
	target   string
	active   bool
	last     time.Time
	answered bool
	restarts int
}

func (s *fakeSession) Target() string                { return s.target }
func (s *fakeSession) Active() bool                  { return s.active }
func (s *fakeSession) LastChange() (time.Time, bool) { return s.last, s.answered }
func (s *fakeSession) Restart()                      { s.restarts++ }

type fakeSource struct {
	mu         sync.Mutex
	sessions   []Session
	refreshes  int
	refreshErr error
}

func (f *fakeSource) Sessions() []Session { return f.sessions }

func (f *fakeSource) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeSource) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestSweepRestartsOnlyStaleSessions(t *testing.T) {
	mock := clock.NewMock()
	now := mock.Now()
	threshold := 5 * time.Minute

	stale := &fakeSession{target: "stale", active: true, answered: true, last: now.Add(-threshold - time.Second)}
	edge := &fakeSession{target: "edge", active: true, answered: true, last: now.Add(-threshold)}
	fresh := &fakeSession{target: "fresh", active: true, answered: true, last: now.Add(-time.Second)}
	silent := &fakeSession{target: "silent", active: true}
	stopped := &fakeSession{target: "stopped", answered: true, last: now.Add(-time.Hour)}

	src := &fakeSource{sessions: []Session{stale, edge, fresh, silent, stopped}}
	m := NewStalenessMonitor(src, StalenessConfig{Threshold: threshold, Interval: time.Second}, WithClock(mock))

	restarted := m.Sweep(context.Background())
	if got := strings.Join(restarted, ","); got != "stale" {
		t.Errorf("restarted = %s, want stale", got)
	}
	if stale.restarts != 1 {
		t.Errorf("stale restarts = %d", stale.restarts)
	}
	for _, s := range []*fakeSession{edge, fresh, silent, stopped} {
		if s.restarts != 0 {
			t.Errorf("%s restarted", s.target)
		}
	}
	if src.refreshCount() != 1 {
		t.Errorf("refreshes = %d, want 1", src.refreshCount())
	}
}

func TestSweepSurvivesRefreshError(t *testing.T) {
	src := &fakeSource{refreshErr: errors.New("unreachable")}
	m := NewStalenessMonitor(src, StalenessConfig{}, WithClock(clock.NewMock()))
	if got := m.Sweep(context.Background()); len(got) != 0 {
		t.Errorf("restarted = %v", got)
	}
}

func TestSweepIgnoresStoppedSource(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&logger.Config{Level: "debug", Format: "json"}, "test", &buf)
	src := &fakeSource{refreshErr: ErrSessionStopped}
	m := NewStalenessMonitor(src, StalenessConfig{}, WithClock(clock.NewMock()), WithLogger(log))

	m.Sweep(context.Background())
	if strings.Contains(buf.String(), "catalog refresh failed") {
		t.Errorf("stopped source logged a refresh failure: %s", buf.String())
	}

	src.refreshErr = errors.New("unreachable")
	m.Sweep(context.Background())
	if !strings.Contains(buf.String(), "catalog refresh failed") {
		t.Error("refresh failure not logged")
	}
}

func TestRunSweepsOnInterval(t *testing.T) {
	mock := clock.NewMock()
	src := &fakeSource{}
	m := NewStalenessMonitor(src, StalenessConfig{Interval: 10 * time.Second}, WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	// The ticker is created inside Run; keep advancing until it fires.
	eventually(t, "sweep ran", func() bool {
		mock.Add(10 * time.Second)
		return src.refreshCount() >= 1
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// A restarted session re-issues its query with a zero cursor while sessions
// that answered recently are left running.
func TestStalenessRestartsReconcilerSessions(t *testing.T) {
	mock := clock.NewMock()
	cat := newFakeCatalog("a", "b")
	r, _, _ := startReconciler(t, cat, WithClock(mock))

	eventually(t, "sessions parked", func() bool {
		return len(cat.healthWaitIndexes("a")) >= 2 &&
			len(cat.healthWaitIndexes("b")) >= 2 &&
			cat.serviceCallCount() >= 3
	})

	threshold := time.Minute
	mock.Add(threshold + time.Second)

	sa, _ := r.Session("a")
	sb, _ := r.Session("b")
	aBefore := len(cat.healthWaitIndexes("a"))
	// Restart stamps b as fresh, leaving a and the catalog session stale.
	sb.Restart()
	servicesBefore := cat.serviceCallCount()

	m := NewStalenessMonitor(r, StalenessConfig{Threshold: threshold, Interval: time.Second}, WithClock(mock))
	restarted := m.Sweep(context.Background())

	if got := strings.Join(restarted, ","); got != "catalog,a" {
		t.Errorf("restarted = %s, want catalog,a", got)
	}
	eventually(t, "a re-queried from zero", func() bool {
		idx := cat.healthWaitIndexes("a")
		for i := aBefore; i < len(idx); i++ {
			if idx[i] == 0 {
				return true
			}
		}
		return false
	})
	if !sa.Active() {
		t.Error("restarted session is not active")
	}
	if cat.serviceCallCount() <= servicesBefore {
		t.Error("sweep did not refresh the catalog")
	}
}
