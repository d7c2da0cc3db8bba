// Package segment implements the per-lane road segment monitor that turns
// occupancy into a saturation degree and flags congestion.
package segment

import (
	"errors"
	"fmt"
	"strings"
)

// CongestionThreshold is the saturation degree above which a segment is
// reported as congested. Exactly 0.85 is not congested.
const CongestionThreshold = 0.85

// DenseThreshold separates free-flowing from dense traffic in Level.
const DenseThreshold = 0.65

// ErrInvalidMonitor is wrapped by every construction error.
var ErrInvalidMonitor = errors.New("invalid segment monitor")

// Level is a coarse classification of a segment's saturation.
type Level int

const (
	LevelFree Level = iota
	LevelDense
	LevelJammed
)

func (l Level) String() string {
	switch l {
	case LevelFree:
		return "free"
	case LevelDense:
		return "dense"
	case LevelJammed:
		return "jammed"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText renders the level name in JSON.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel is the inverse of Level.String.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelFree, LevelDense, LevelJammed} {
		if l.String() == s {
			return l, nil
		}
	}
	return LevelFree, fmt.Errorf("unknown congestion level %q", s)
}

// UnmarshalText accepts the names produced by MarshalText.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Monitor watches a single lane. It holds no per-tick state; every call to
// Status recomputes from the occupancy it is given.
type Monitor struct {
	LaneID   string
	Name     string
	Capacity int
}

// NewMonitor validates the lane definition. A non-positive capacity is a
// configuration error so that Status can never divide by zero.
func NewMonitor(laneID, name string, capacity int) (*Monitor, error) {
	if strings.TrimSpace(laneID) == "" {
		return nil, fmt.Errorf("%w: lane id must not be empty", ErrInvalidMonitor)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: lane %s (%s): capacity must be positive, got %d", ErrInvalidMonitor, laneID, name, capacity)
	}
	return &Monitor{LaneID: laneID, Name: name, Capacity: capacity}, nil
}

// Status is the result of one saturation check.
type Status struct {
	Saturation float64 `json:"saturation_degree"`
	Congested  bool    `json:"is_congested"`
}

// Level classifies the saturation degree.
func (s Status) Level() Level {
	switch {
	case s.Saturation > CongestionThreshold:
		return LevelJammed
	case s.Saturation > DenseThreshold:
		return LevelDense
	default:
		return LevelFree
	}
}

// Status computes occupancy/capacity and compares it to CongestionThreshold.
func (m *Monitor) Status(occupancy int) Status {
	ds := float64(occupancy) / float64(m.Capacity)
	return Status{Saturation: ds, Congested: ds > CongestionThreshold}
}

func (m *Monitor) String() string {
	return fmt.Sprintf("%s (%s, capacity %d)", m.Name, m.LaneID, m.Capacity)
}
