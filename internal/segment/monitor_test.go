package segment

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitorRejectsBadCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, -700} {
		m, err := NewMonitor("301", "S3 Jl. Gejayan", capacity)
		require.Error(t, err)
		assert.Nil(t, m)
		assert.True(t, errors.Is(err, ErrInvalidMonitor))
		assert.Contains(t, err.Error(), "capacity must be positive")
		assert.Contains(t, err.Error(), "301")
	}
}

func TestNewMonitorRejectsEmptyLane(t *testing.T) {
	_, err := NewMonitor("  ", "unnamed", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidMonitor))
}

func TestStatus(t *testing.T) {
	m, err := NewMonitor("301", "S3 Jl. Gejayan", 700)
	require.NoError(t, err)

	tests := []struct {
		name       string
		occupancy  int
		saturation float64
		congested  bool
		level      Level
	}{
		{"scenario 5 below threshold", 550, 550.0 / 700.0, false, LevelDense},
		{"scenario 6 above threshold", 600, 600.0 / 700.0, true, LevelJammed},
		{"empty lane", 0, 0, false, LevelFree},
		{"over capacity", 900, 900.0 / 700.0, true, LevelJammed},
		{"free flowing", 300, 300.0 / 700.0, false, LevelFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := m.Status(tt.occupancy)
			assert.Equal(t, tt.saturation, st.Saturation)
			assert.Equal(t, tt.congested, st.Congested)
			assert.Equal(t, tt.level, st.Level())
		})
	}

	assert.InDelta(t, 0.7857, m.Status(550).Saturation, 1e-4)
	assert.InDelta(t, 0.8571, m.Status(600).Saturation, 1e-4)
}

func TestStatusBoundary(t *testing.T) {
	// 85/100 is exactly the threshold and must not be congested.
	m, err := NewMonitor("L1", "boundary", 100)
	require.NoError(t, err)
	st := m.Status(85)
	assert.Equal(t, 0.85, st.Saturation)
	assert.False(t, st.Congested)

	// One vehicle over on a large lane lands just above the threshold.
	big, err := NewMonitor("L2", "boundary-fine", 1_000_000_000)
	require.NoError(t, err)
	st = big.Status(850_000_001)
	assert.Greater(t, st.Saturation, CongestionThreshold)
	assert.True(t, st.Congested)
}

func TestStatusIsPure(t *testing.T) {
	m, err := NewMonitor("L1", "pure", 37)
	require.NoError(t, err)
	for occ := 0; occ <= 100; occ++ {
		first := m.Status(occ)
		second := m.Status(occ)
		assert.Equal(t, first, second)
		assert.Equal(t, float64(occ)/37.0, first.Saturation)
		assert.Equal(t, first.Saturation > 0.85, first.Congested)
		assert.False(t, math.IsNaN(first.Saturation))
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "free", LevelFree.String())
	assert.Equal(t, "dense", LevelDense.String())
	assert.Equal(t, "jammed", LevelJammed.String())
	assert.Equal(t, "Level(9)", Level(9).String())
}

func TestLevelText(t *testing.T) {
	for _, l := range []Level{LevelFree, LevelDense, LevelJammed} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("gridlock")
	assert.Error(t, err)

	var st struct {
		Level Level `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"dense"}`), &st))
	assert.Equal(t, LevelDense, st.Level)
	b, err := json.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"dense"}`, string(b))
}
