package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/banshee-data/traffic.control/internal/units"
)

// maxReplayFileSize bounds fixture files read from disk.
const maxReplayFileSize = 32 * 1024 * 1024

// replayFile is the on-disk fixture layout.
type replayFile struct {
	SpeedUnit string  `json:"speed_unit,omitempty"`
	Loop      bool    `json:"loop,omitempty"`
	Frames    []Frame `json:"frames"`
}

// Replay plays back a scripted sequence of frames, one per Fetch.
type Replay struct {
	mu     sync.Mutex
	frames []Frame
	pos    int
	loop   bool
}

// NewReplay returns a source over frames. When loop is false Fetch returns
// ErrExhausted after the last frame.
func NewReplay(frames []Frame, loop bool) *Replay {
	return &Replay{frames: append([]Frame(nil), frames...), loop: loop}
}

// LoadReplay reads a JSON fixture of the form
//
//	{"speed_unit": "mps", "loop": false, "frames": [{"occupancy": {...}, "snapshots": {...}}]}
//
// and normalises every speed to km/h.
func LoadReplay(path string) (*Replay, error) {
	return LoadReplayUnit(path, "")
}

// LoadReplayUnit is LoadReplay with a fallback unit for fixtures that omit
// speed_unit.
func LoadReplayUnit(path, defaultUnit string) (*Replay, error) {
	if ext := filepath.Ext(path); ext != ".json" {
		return nil, fmt.Errorf("replay file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat replay file: %w", err)
	}
	if info.Size() > maxReplayFileSize {
		return nil, fmt.Errorf("replay file too large: %d bytes (max %d)", info.Size(), maxReplayFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay file: %w", err)
	}
	var rf replayFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse replay file %s: %w", path, err)
	}
	if len(rf.Frames) == 0 {
		return nil, fmt.Errorf("replay file %s has no frames", path)
	}
	if rf.SpeedUnit == "" {
		rf.SpeedUnit = defaultUnit
	}
	if rf.SpeedUnit != "" && !units.IsValid(rf.SpeedUnit) {
		return nil, fmt.Errorf("replay file %s: invalid speed_unit %q (valid: %s)", path, rf.SpeedUnit, units.ValidUnitsString())
	}
	for i, f := range rf.Frames {
		if err := f.Normalize(rf.SpeedUnit); err != nil {
			return nil, fmt.Errorf("replay file %s frame %d: %w", path, i, err)
		}
	}
	return NewReplay(rf.Frames, rf.Loop), nil
}

// Fetch implements Source.
func (r *Replay) Fetch(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pos >= len(r.frames) {
		if !r.loop || len(r.frames) == 0 {
			return nil, ErrExhausted
		}
		r.pos = 0
	}
	f := r.frames[r.pos]
	r.pos++
	return f, nil
}

// Remaining reports how many frames are left before the source is exhausted
// or wraps around.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.pos
}
