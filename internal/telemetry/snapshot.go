// Package telemetry defines the per-tick traffic reading an agent consumes.
package telemetry

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSnapshot is returned by Validate for readings that cannot be used.
var ErrInvalidSnapshot = errors.New("invalid telemetry snapshot")

// Snapshot summarises one intersection's or lane's traffic state at the
// current tick. It is built fresh each tick and passed by value.
type Snapshot struct {
	QueueLength         int     `json:"queue_length"`          // vehicles waiting
	AvgSpeed            float64 `json:"avg_speed"`             // km/h
	FlowRate            float64 `json:"flow_rate"`             // vehicles per hour
	WaitingTimeIntegral float64 `json:"waiting_time_integral"` // accumulated wait-time area
}

// Default is the reading substituted when the simulator has nothing for an
// intersection: an empty, stationary approach.
func Default() Snapshot {
	return Snapshot{}
}

// Mock is the fixture reading used by the development simulator: a heavily
// queued approach in slow traffic.
func Mock() Snapshot {
	return Snapshot{
		QueueLength:         150,
		AvgSpeed:            18.0,
		FlowRate:            1200.0,
		WaitingTimeIntegral: 5000.0,
	}
}

// Validate rejects negative or non-finite fields.
func (s Snapshot) Validate() error {
	if s.QueueLength < 0 {
		return fmt.Errorf("%w: queue_length %d is negative", ErrInvalidSnapshot, s.QueueLength)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"avg_speed", s.AvgSpeed},
		{"flow_rate", s.FlowRate},
		{"waiting_time_integral", s.WaitingTimeIntegral},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%w: %s %v must be a non-negative number", ErrInvalidSnapshot, f.name, f.v)
		}
	}
	return nil
}

func (s Snapshot) String() string {
	return fmt.Sprintf("queue=%d speed=%.1fkm/h flow=%.0fveh/h wait=%.0f",
		s.QueueLength, s.AvgSpeed, s.FlowRate, s.WaitingTimeIntegral)
}
