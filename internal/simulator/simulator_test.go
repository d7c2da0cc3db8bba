package simulator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/telemetry"
)

func TestFrameLookups(t *testing.T) {
	f := Frame{
		Occupancy: map[string]int{"301": 620},
		Snapshots: map[string]telemetry.Snapshot{"3": {QueueLength: 40, AvgSpeed: 5}},
	}
	occ, ok := f.CurrentOccupancy("301")
	assert.True(t, ok)
	assert.Equal(t, 620, occ)
	_, ok = f.CurrentOccupancy("999")
	assert.False(t, ok)

	require.NoError(t, f.Normalize("mps"))
	s, ok := f.Snapshot("3")
	require.True(t, ok)
	assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)

	assert.Error(t, f.Normalize("furlongs"))
	assert.NoError(t, Frame{}.Normalize("mph"))
}

func TestStatic(t *testing.T) {
	dev := NewDevStatic()
	occ, ok := dev.CurrentOccupancy("anything")
	assert.True(t, ok)
	assert.Equal(t, DevOccupancy, occ)
	s, ok := dev.Snapshot("3")
	assert.True(t, ok)
	assert.Equal(t, telemetry.Mock(), s)

	empty := NewStatic(Frame{Occupancy: map[string]int{"301": 10}})
	occ, ok = empty.CurrentOccupancy("301")
	assert.True(t, ok)
	assert.Equal(t, 10, occ)
	_, ok = empty.CurrentOccupancy("302")
	assert.False(t, ok)
	_, ok = empty.Snapshot("3")
	assert.False(t, ok)

	st, err := dev.Fetch(context.Background())
	require.NoError(t, err)
	assert.Same(t, dev, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = dev.Fetch(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReplaySequence(t *testing.T) {
	frames := []Frame{
		{Occupancy: map[string]int{"301": 1}},
		{Occupancy: map[string]int{"301": 2}},
	}
	r := NewReplay(frames, false)
	ctx := context.Background()
	for want := 1; want <= 2; want++ {
		st, err := r.Fetch(ctx)
		require.NoError(t, err)
		occ, _ := st.CurrentOccupancy("301")
		assert.Equal(t, want, occ)
	}
	assert.Equal(t, 0, r.Remaining())
	_, err := r.Fetch(ctx)
	assert.True(t, errors.Is(err, ErrExhausted))

	looping := NewReplay(frames, true)
	var got []int
	for i := 0; i < 5; i++ {
		st, err := looping.Fetch(ctx)
		require.NoError(t, err)
		occ, _ := st.CurrentOccupancy("301")
		got = append(got, occ)
	}
	assert.Equal(t, []int{1, 2, 1, 2, 1}, got)

	_, err = NewReplay(nil, true).Fetch(ctx)
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestLoadReplay(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	good := write("good.json", `{
		"speed_unit": "mps",
		"frames": [
			{"occupancy": {"301": 550}, "snapshots": {"3": {"queue_length": 150, "avg_speed": 5, "flow_rate": 1200, "waiting_time_integral": 5000}}},
			{"occupancy": {"301": 300}}
		]
	}`)
	r, err := LoadReplay(good)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Remaining())
	st, err := r.Fetch(context.Background())
	require.NoError(t, err)
	s, ok := st.Snapshot("3")
	require.True(t, ok)
	assert.Equal(t, 150, s.QueueLength)
	assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)

	// The fallback applies only when the fixture omits speed_unit.
	bare := write("bare.json", `{"frames": [{"snapshots": {"3": {"avg_speed": 5}}}]}`)
	r, err = LoadReplayUnit(bare, "mps")
	require.NoError(t, err)
	st, err = r.Fetch(context.Background())
	require.NoError(t, err)
	s, _ = st.Snapshot("3")
	assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)

	r, err = LoadReplayUnit(good, "mph")
	require.NoError(t, err)
	st, err = r.Fetch(context.Background())
	require.NoError(t, err)
	s, _ = st.Snapshot("3")
	assert.InDelta(t, 18.0, s.AvgSpeed, 1e-9)

	tests := []struct {
		name string
		path string
	}{
		{"wrong extension", write("frames.txt", `{"frames":[{}]}`)},
		{"no frames", write("empty.json", `{"frames":[]}`)},
		{"bad unit", write("unit.json", `{"speed_unit":"knots","frames":[{}]}`)},
		{"bad json", write("broken.json", `{"frames":`)},
		{"missing file", filepath.Join(dir, "missing.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadReplay(tt.path)
			assert.Error(t, err)
		})
	}
}
