// Package simulator is the boundary to the external road-network simulator.
// The control core only sees State, a per-tick read-only view of lane
// occupancy and per-intersection telemetry; Source produces one State per
// tick for the run loop.
package simulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/traffic.control/internal/telemetry"
	"github.com/banshee-data/traffic.control/internal/units"
)

// ErrExhausted is returned by sources that have no further ticks to offer.
var ErrExhausted = errors.New("simulator source exhausted")

// State is the simulator's view of the network at one tick. A false second
// return means the simulator has no reading for that id.
type State interface {
	CurrentOccupancy(laneID string) (int, bool)
	Snapshot(intersectionID string) (telemetry.Snapshot, bool)
}

// Source yields the State for the next tick.
type Source interface {
	Fetch(ctx context.Context) (State, error)
}

// Frame is a concrete State, also the wire and fixture format.
type Frame struct {
	Occupancy map[string]int                `json:"occupancy,omitempty"`
	Snapshots map[string]telemetry.Snapshot `json:"snapshots,omitempty"`
}

// CurrentOccupancy returns the vehicle count on laneID.
func (f Frame) CurrentOccupancy(laneID string) (int, bool) {
	v, ok := f.Occupancy[laneID]
	return v, ok
}

// Snapshot returns the telemetry for intersectionID.
func (f Frame) Snapshot(intersectionID string) (telemetry.Snapshot, bool) {
	s, ok := f.Snapshots[intersectionID]
	return s, ok
}

// Normalize converts every snapshot speed from unit to km/h in place. An
// empty unit means the frame already reports km/h.
func (f Frame) Normalize(unit string) error {
	if unit == "" {
		return nil
	}
	for id, s := range f.Snapshots {
		kmph, err := units.ToKMPH(s.AvgSpeed, unit)
		if err != nil {
			return fmt.Errorf("intersection %s: %w", id, err)
		}
		s.AvgSpeed = kmph
		f.Snapshots[id] = s
	}
	return nil
}
