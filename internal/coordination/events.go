package coordination

import (
	"encoding/json"
	"math"
	"time"

	"github.com/banshee-data/traffic.control/internal/segment"
	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/telemetry"
)

// CongestionEvent is emitted once per congested segment per tick.
type CongestionEvent struct {
	Tick        uint64        `json:"tick"`
	SegmentID   string        `json:"segment_id"`
	SegmentName string        `json:"segment_name"`
	Saturation  float64       `json:"saturation_degree"`
	Level       segment.Level `json:"level"`
}

// Outcome is the per-agent record of one tick. GreenDuration travels as
// seconds in JSON.
type Outcome struct {
	Tick             uint64             `json:"tick"`
	IntersectionID   string             `json:"intersection_id"`
	IntersectionName string             `json:"intersection_name"`
	Action           signal.Action      `json:"action"`
	GreenDuration    time.Duration      `json:"green_duration"`
	Reward           float64            `json:"reward"`
	Rationale        string             `json:"rationale,omitempty"`
	Telemetry        telemetry.Snapshot `json:"telemetry"`
	// DefaultTelemetry is set when the simulator had no usable reading and
	// telemetry.Default was substituted.
	DefaultTelemetry bool `json:"default_telemetry,omitempty"`
}

type outcomeAlias Outcome

type outcomeJSON struct {
	outcomeAlias
	GreenDuration float64 `json:"green_duration"`
}

// MarshalJSON implements json.Marshaler.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{outcomeAlias: outcomeAlias(o), GreenDuration: o.GreenDuration.Seconds()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Outcome) UnmarshalJSON(b []byte) error {
	var v outcomeJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Outcome(v.outcomeAlias)
	o.GreenDuration = fromSeconds(v.GreenDuration)
	return nil
}

func fromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// TickSummary describes a completed (or refused) Step.
type TickSummary struct {
	Tick      uint64        `json:"tick"`
	Congested int           `json:"congested"`
	Decided   int           `json:"decided"`
	Skipped   int           `json:"skipped"`
	Defaulted int           `json:"defaulted"`
	Duration  time.Duration `json:"duration"`
	Err       error         `json:"-"`
}

// Sink receives everything the manager produces during a tick. Calls are
// made from the goroutine running Step, in tick order. An error is logged
// and does not stop the tick.
type Sink interface {
	Congestion(ev CongestionEvent) error
	Outcome(o Outcome) error
}

// TickObserver may be implemented by a Sink that also wants the summary of
// every completed tick.
type TickObserver interface {
	TickDone(s TickSummary)
}

// DiscardSink drops everything.
type DiscardSink struct{}

func (DiscardSink) Congestion(CongestionEvent) error { return nil }
func (DiscardSink) Outcome(Outcome) error            { return nil }

// MultiSink fans each record out to every sink in order. All sinks are
// called even when an earlier one fails; the first error is returned.
type MultiSink []Sink

// Congestion implements Sink.
func (ms MultiSink) Congestion(ev CongestionEvent) error {
	var first error
	for _, s := range ms {
		if err := s.Congestion(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Outcome implements Sink.
func (ms MultiSink) Outcome(o Outcome) error {
	var first error
	for _, s := range ms {
		if err := s.Outcome(o); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TickDone forwards the summary to every sink that observes ticks.
func (ms MultiSink) TickDone(sum TickSummary) {
	for _, s := range ms {
		if obs, ok := s.(TickObserver); ok {
			obs.TickDone(sum)
		}
	}
}
