package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/telemetry"
)

func TestBuildDefaultNetwork(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	net, err := cfg.BuildNetwork()
	require.NoError(t, err)
	nodes, edges := net.Len()
	assert.Equal(t, 4, nodes)
	// 2<->3, 2<->4, 3<->1 from neighbors; S3 2->3 and S4 2->4 already exist.
	assert.Equal(t, 6, edges)
	assert.Equal(t, []string{"3", "4"}, net.Neighbors("2"))

	lane, ok := net.Lane("301")
	require.True(t, ok)
	assert.Equal(t, 700, lane.Capacity)

	agents, err := cfg.BuildAgents()
	require.NoError(t, err)
	require.Len(t, agents, 4)
	tl3 := agents[2]
	assert.Equal(t, "TL3 Gejayan", tl3.Name)
	assert.Equal(t, 50*time.Second, tl3.GreenDuration())
	assert.Equal(t, []string{"1"}, tl3.Neighbors())

	// The configured 90s cap is applied by the shared policy.
	for i := 0; i < 10; i++ {
		tl3.DecideNextPhase(telemetry.Mock())
	}
	assert.Equal(t, 90*time.Second, tl3.GreenDuration())

	mons, err := cfg.BuildMonitors()
	require.NoError(t, err)
	require.Len(t, mons, 5)
	assert.Equal(t, "S3 Jl. Gejayan", mons[2].Name)
}

func TestBuildAgents_Overrides(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"initial_green": "20s",
		"reward_weight": 1.5,
		"intersections": [
			{"id": "1", "name": "A"},
			{"id": "2", "name": "B", "initial_green": "60s", "reward_weight": 0}
		]
	}`))
	require.NoError(t, err)
	agents, err := cfg.BuildAgents()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, agents[0].GreenDuration())
	assert.Equal(t, 1.5, agents[0].RewardWeight())
	assert.Equal(t, 60*time.Second, agents[1].GreenDuration())
	assert.Equal(t, 0.0, agents[1].RewardWeight())
}

func TestBuildAgents_GreenBelowMin(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"intersections":[{"id":"1","initial_green":"5s"}]}`))
	require.NoError(t, err)
	_, err = cfg.BuildAgents()
	assert.True(t, errors.Is(err, signal.ErrInvalidAgent), "got %v", err)
}

func TestBuildNetwork_SelfNeighbor(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"intersections":[{"id":"1","neighbors":["1"]}]}`))
	require.NoError(t, err)
	_, err = cfg.BuildNetwork()
	assert.ErrorContains(t, err, "itself")
}
