package simulator

import (
	"context"

	"github.com/banshee-data/traffic.control/internal/telemetry"
)

// DevOccupancy is the lane volume reported by the development simulator.
const DevOccupancy = 550

// Static serves the same State on every tick. Ids missing from the frame
// fall back to the configured defaults when set.
type Static struct {
	frame     Frame
	occupancy *int
	snapshot  *telemetry.Snapshot
}

// NewStatic returns a source that always answers from f and reports
// nothing for ids it does not contain.
func NewStatic(f Frame) *Static {
	return &Static{frame: f}
}

// NewDevStatic answers every lane with DevOccupancy and every intersection
// with telemetry.Mock, reproducing the heavily congested fixture network.
func NewDevStatic() *Static {
	occ := DevOccupancy
	snap := telemetry.Mock()
	return &Static{occupancy: &occ, snapshot: &snap}
}

// CurrentOccupancy implements State.
func (s *Static) CurrentOccupancy(laneID string) (int, bool) {
	if v, ok := s.frame.CurrentOccupancy(laneID); ok {
		return v, true
	}
	if s.occupancy != nil {
		return *s.occupancy, true
	}
	return 0, false
}

// Snapshot implements State.
func (s *Static) Snapshot(intersectionID string) (telemetry.Snapshot, bool) {
	if v, ok := s.frame.Snapshot(intersectionID); ok {
		return v, true
	}
	if s.snapshot != nil {
		return *s.snapshot, true
	}
	return telemetry.Snapshot{}, false
}

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
