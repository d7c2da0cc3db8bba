package signal

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/telemetry"
)

func TestActionStrings(t *testing.T) {
	for _, a := range []Action{ExtendGreen, ShortenGreen, MaintainPhase} {
		parsed, err := ParseAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, parsed)
	}
	_, err := ParseAction("RED_ALL")
	assert.Error(t, err)
	assert.Equal(t, "Action(7)", Action(7).String())

	b, err := json.Marshal(map[string]Action{"action": ExtendGreen})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"EXTEND_GREEN"}`, string(b))

	var back map[string]Action
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, ExtendGreen, back["action"])
	assert.Error(t, json.Unmarshal([]byte(`{"action":"RED_ALL"}`), &back))
}

func TestPolicyConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPolicyConfig().Validate())

	bad := []PolicyConfig{
		{HeavyQueue: 10, LightQueue: 20, MinGreen: time.Second},
		{HeavyQueue: -1, LightQueue: -2, MinGreen: time.Second},
		{HeavyQueue: 100, LightQueue: 20, ExtendStep: -time.Second, MinGreen: time.Second},
		{HeavyQueue: 100, LightQueue: 20, MinGreen: 0},
		{HeavyQueue: 100, LightQueue: 20, MinGreen: 10 * time.Second, MaxGreen: 5 * time.Second},
	}
	for i, cfg := range bad {
		assert.Error(t, cfg.Validate(), "config %d", i)
		_, err := NewHeuristicPolicy(cfg)
		assert.True(t, errors.Is(err, ErrInvalidAgent), "config %d", i)
	}
}

func TestHeuristicPolicyMaxGreen(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MaxGreen = 90 * time.Second
	p, err := NewHeuristicPolicy(cfg)
	require.NoError(t, err)

	a, err := NewAgent("3", "TL3", nil, WithPolicy(p), WithInitialGreen(85*time.Second))
	require.NoError(t, err)

	d := a.DecideNextPhase(telemetry.Snapshot{QueueLength: 150})
	assert.Equal(t, ExtendGreen, d.Action)
	assert.Equal(t, 90*time.Second, a.GreenDuration())
	assert.Contains(t, d.Rationale, "capped")

	d = a.DecideNextPhase(telemetry.Snapshot{QueueLength: 150})
	assert.Equal(t, MaintainPhase, d.Action, "nothing left to extend at the cap")
	assert.Equal(t, 90*time.Second, a.GreenDuration())
}

func TestHeuristicPolicyNeverCutsGreenAboveCap(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MaxGreen = 90 * time.Second
	p, err := NewHeuristicPolicy(cfg)
	require.NoError(t, err)

	a, err := NewAgent("3", "TL3", nil, WithPolicy(p), WithInitialGreen(120*time.Second))
	require.NoError(t, err)

	d := a.DecideNextPhase(telemetry.Snapshot{QueueLength: 150})
	assert.Equal(t, MaintainPhase, d.Action)
	assert.Equal(t, 120*time.Second, d.GreenDuration)
	assert.Equal(t, 120*time.Second, a.GreenDuration())
	assert.Contains(t, d.Rationale, "cap")

	// Shortening still works from above the cap.
	d = a.DecideNextPhase(telemetry.Snapshot{QueueLength: 5})
	assert.Equal(t, ShortenGreen, d.Action)
	assert.Equal(t, 115*time.Second, a.GreenDuration())
}

func TestHeuristicPolicyCustomThresholds(t *testing.T) {
	p, err := NewHeuristicPolicy(PolicyConfig{
		HeavyQueue:  120,
		LightQueue:  40,
		ExtendStep:  10 * time.Second,
		ShortenStep: 5 * time.Second,
		MinGreen:    20 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 120, p.Config().HeavyQueue)

	st := State{GreenDuration: 22 * time.Second}
	d := p.Decide(telemetry.Snapshot{QueueLength: 30}, st)
	assert.Equal(t, ShortenGreen, d.Action)
	assert.Equal(t, 20*time.Second, d.GreenDuration, "falls back to the configured min green")

	d = p.Decide(telemetry.Snapshot{QueueLength: 110}, st)
	assert.Equal(t, MaintainPhase, d.Action)
}

func TestDefaultPolicyIsDeterministic(t *testing.T) {
	p := DefaultPolicy()
	st := State{GreenDuration: 30 * time.Second, MinGreen: DefaultMinGreen}
	for q := 0; q < 200; q++ {
		s := telemetry.Snapshot{QueueLength: q}
		assert.Equal(t, p.Decide(s, st), p.Decide(s, st))
	}
}
