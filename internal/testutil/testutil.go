// Package testutil holds fixtures shared by package tests: the two-junction
// Gejayan network, a recording sink and a log capture.
package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/monitoring"
	"github.com/banshee-data/traffic.control/internal/segment"
	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/topology"
)

// Lines collects formatted log lines.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

// All returns a copy of the collected lines.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// CaptureLogs redirects monitoring.Logf for the duration of the test.
func CaptureLogs(t testing.TB) *Lines {
	t.Helper()
	l := &Lines{}
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.lines = append(l.lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = prev })
	return l
}

// Network returns TL1 Malioboro and TL3 Gejayan, connected, with lanes
// 301 (capacity 700) and 101 (capacity 400).
func Network(t testing.TB) *topology.Network {
	t.Helper()
	n := topology.New()
	require.NoError(t, n.AddIntersection("1", "TL1 Malioboro"))
	require.NoError(t, n.AddIntersection("3", "TL3 Gejayan"))
	require.NoError(t, n.Connect("3", "1"))
	require.NoError(t, n.AddLane(topology.Lane{ID: "301", Name: "S3 Jl. Gejayan", Capacity: 700}))
	require.NoError(t, n.AddLane(topology.Lane{ID: "101", Name: "S1 Jl. Malioboro", Capacity: 400}))
	return n
}

// Manager returns a manager over Network with both agents and both
// monitors registered.
func Manager(t testing.TB, opts ...coordination.Option) *coordination.Manager {
	t.Helper()
	m := coordination.NewManager(Network(t), opts...)
	for _, a := range []struct {
		id, name  string
		neighbors []string
	}{
		{"3", "TL3 Gejayan", []string{"1"}},
		{"1", "TL1 Malioboro", []string{"3"}},
	} {
		agent, err := signal.NewAgent(a.id, a.name, a.neighbors)
		require.NoError(t, err)
		require.NoError(t, m.RegisterAgent(agent))
	}
	for _, s := range []struct {
		id, name string
		capacity int
	}{
		{"301", "S3 Jl. Gejayan", 700},
		{"101", "S1 Jl. Malioboro", 400},
	} {
		mon, err := segment.NewMonitor(s.id, s.name, s.capacity)
		require.NoError(t, err)
		require.NoError(t, m.RegisterMonitor(mon))
	}
	return m
}

// RecordingSink keeps everything it receives.
type RecordingSink struct {
	mu         sync.Mutex
	congestion []coordination.CongestionEvent
	outcomes   []coordination.Outcome
	summaries  []coordination.TickSummary
}

// Congestion implements coordination.Sink.
func (s *RecordingSink) Congestion(ev coordination.CongestionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.congestion = append(s.congestion, ev)
	return nil
}

// Outcome implements coordination.Sink.
func (s *RecordingSink) Outcome(o coordination.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

// TickDone implements coordination.TickObserver.
func (s *RecordingSink) TickDone(sum coordination.TickSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
}

// CongestionEvents returns a copy of the received events.
func (s *RecordingSink) CongestionEvents() []coordination.CongestionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coordination.CongestionEvent(nil), s.congestion...)
}

// Outcomes returns a copy of the received outcomes.
func (s *RecordingSink) Outcomes() []coordination.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coordination.Outcome(nil), s.outcomes...)
}

// Summaries returns a copy of the received tick summaries.
func (s *RecordingSink) Summaries() []coordination.TickSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]coordination.TickSummary(nil), s.summaries...)
}
