// Package broadcast carries congestion events and agent outcomes out of the
// control loop: to in-process subscribers and, asynchronously, to external
// brokers such as Kafka or MQTT for vehicle-routing consumers.
package broadcast

import (
	"context"
	"time"

	"github.com/banshee-data/traffic.control/internal/coordination"
)

// Kind distinguishes the two record types on the bus.
type Kind string

const (
	KindCongestion Kind = "congestion"
	KindOutcome    Kind = "outcome"
)

// Event is the envelope published for every record. Exactly one of
// Congestion and Outcome is set.
type Event struct {
	Kind       Kind                          `json:"kind"`
	Time       time.Time                     `json:"time"`
	Congestion *coordination.CongestionEvent `json:"congestion,omitempty"`
	Outcome    *coordination.Outcome         `json:"outcome,omitempty"`
}

// Key is the id consumers partition by: the segment for congestion, the
// intersection for outcomes.
func (e Event) Key() string {
	switch {
	case e.Congestion != nil:
		return e.Congestion.SegmentID
	case e.Outcome != nil:
		return e.Outcome.IntersectionID
	}
	return ""
}

// Tick returns the tick the record belongs to.
func (e Event) Tick() uint64 {
	switch {
	case e.Congestion != nil:
		return e.Congestion.Tick
	case e.Outcome != nil:
		return e.Outcome.Tick
	}
	return 0
}

// Publisher delivers events to an external system.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
