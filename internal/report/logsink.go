// Package report renders control output for people: alert and decision log
// lines while a run is live, and PNG charts of a stored run afterwards.
package report

import (
	"github.com/banshee-data/traffic.control/internal/coordination"
	"github.com/banshee-data/traffic.control/internal/monitoring"
)

// LogSink is a coordination.Sink writing one line per congestion event and
// two per outcome.
type LogSink struct {
	// Logf defaults to monitoring.Logf, looked up on every call.
	Logf func(format string, v ...interface{})
	// Quiet suppresses the rationale and reward line of every outcome.
	Quiet bool
}

func (s *LogSink) logf(format string, v ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, v...)
		return
	}
	monitoring.Logf(format, v...)
}

// Congestion implements coordination.Sink.
func (s *LogSink) Congestion(ev coordination.CongestionEvent) error {
	s.logf("[ALERT] %s congested! DS: %.2f (%s). Broadcasting signal...", ev.SegmentName, ev.Saturation, ev.Level)
	return nil
}

// Outcome implements coordination.Sink.
func (s *LogSink) Outcome(o coordination.Outcome) error {
	s.logf("[AGENT %s] Action: %s -> green %s", o.IntersectionName, o.Action, o.GreenDuration)
	if s.Quiet {
		return nil
	}
	note := ""
	if o.DefaultTelemetry {
		note = " (default telemetry)"
	}
	s.logf("[AGENT %s] Reward: %.2f%s %s", o.IntersectionName, o.Reward, note, o.Rationale)
	return nil
}

// TickDone implements coordination.TickObserver.
func (s *LogSink) TickDone(sum coordination.TickSummary) {
	if sum.Err != nil {
		monitoring.Tickf(sum.Tick, "tick failed: %v", sum.Err)
		return
	}
	if sum.Skipped > 0 || sum.Defaulted > 0 {
		monitoring.Tickf(sum.Tick, "%d decided, %d skipped, %d on default telemetry", sum.Decided, sum.Skipped, sum.Defaulted)
	}
}
