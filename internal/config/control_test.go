package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/units"
)

const minimal = `{"intersections":[{"id":"3","name":"TL3 Gejayan"}]}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	assert.Equal(t, time.Second, cfg.GetTickInterval())
	assert.Equal(t, units.KMPH, cfg.GetSpeedUnit())
	assert.Len(t, cfg.Intersections, 4)
	assert.Len(t, cfg.Segments, 5)
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, 5*time.Second, cfg.GetFetchTimeout(time.Minute))

	pc := cfg.GetPolicyConfig()
	want := signal.DefaultPolicyConfig()
	want.MaxGreen = 90 * time.Second
	assert.Equal(t, want, pc)
}

func TestDefaultsForMinimalConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "min.json", minimal))
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.GetTickInterval())
	assert.Equal(t, uint64(0), cfg.GetTickLimit())
	assert.Equal(t, units.KMPH, cfg.GetSpeedUnit())
	assert.Equal(t, signal.DefaultInitialGreen, cfg.GetInitialGreen())
	assert.Equal(t, signal.DefaultRewardWeight, cfg.GetRewardWeight())
	assert.Equal(t, signal.DefaultPolicyConfig(), cfg.GetPolicyConfig())
	assert.Equal(t, "signalctl.db", cfg.GetDBPath())
	assert.Equal(t, ":8080", cfg.GetListen())
	assert.Equal(t, 7*time.Second, cfg.GetFetchTimeout(7*time.Second))
}

func TestPartialPolicyKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{
		"policy": {"heavy_queue": 80, "min_green": "15s"},
		"intersections": [{"id": "1"}]
	}`))
	require.NoError(t, err)
	pc := cfg.GetPolicyConfig()
	assert.Equal(t, 80, pc.HeavyQueue)
	assert.Equal(t, signal.DefaultLightQueue, pc.LightQueue)
	assert.Equal(t, 15*time.Second, pc.MinGreen)
	assert.Equal(t, signal.DefaultExtendStep, pc.ExtendStep)
}

func TestLoadConfig_FileChecks(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "config.yaml", minimal))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	big := `{"intersections":[{"id":"1","name":"` + strings.Repeat("x", maxConfigFileSize) + `"}]}`
	_, err = LoadConfig(writeConfig(t, "big.json", big))
	assert.ErrorContains(t, err, "too large")

	_, err = LoadConfig(writeConfig(t, "bad.json", `{"intersections": [`))
	assert.ErrorContains(t, err, "parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"no intersections", `{}`, "at least one intersection"},
		{"bad tick interval", `{"tick_interval":"soon","intersections":[{"id":"1"}]}`, "tick_interval"},
		{"negative tick interval", `{"tick_interval":"-1s","intersections":[{"id":"1"}]}`, "must be positive"},
		{"bad unit", `{"speed_unit":"knots","intersections":[{"id":"1"}]}`, "speed_unit"},
		{"bad policy duration", `{"policy":{"min_green":"x"},"intersections":[{"id":"1"}]}`, "policy.min_green"},
		{"inverted thresholds", `{"policy":{"heavy_queue":10,"light_queue":50},"intersections":[{"id":"1"}]}`, "exceeds heavy"},
		{"max below min", `{"policy":{"max_green":"5s"},"intersections":[{"id":"1"}]}`, "max green"},
		{"empty id", `{"intersections":[{"id":" "}]}`, "intersections[0]"},
		{"duplicate id", `{"intersections":[{"id":"1"},{"id":"1"}]}`, "duplicate id"},
		{"unknown neighbor", `{"intersections":[{"id":"3","neighbors":["9"]}]}`, "unknown neighbor 9"},
		{"bad intersection green", `{"intersections":[{"id":"3","initial_green":"long"}]}`, "intersection 3 initial_green"},
		{"initial green above cap", `{"initial_green":"100s","policy":{"max_green":"90s"},"intersections":[{"id":"1"}]}`, "initial_green 1m40s is above policy.max_green 1m30s"},
		{"intersection green above cap", `{"policy":{"max_green":"90s"},"intersections":[{"id":"3","initial_green":"120s"}]}`, "intersection 3: initial_green 2m0s is above policy.max_green"},
		{"empty lane", `{"intersections":[{"id":"1"}],"segments":[{"lane_id":"","capacity":1}]}`, "segments[0]"},
		{"duplicate lane", `{"intersections":[{"id":"1"}],"segments":[{"lane_id":"a","capacity":1},{"lane_id":"a","capacity":1}]}`, "duplicate lane_id"},
		{"zero capacity", `{"intersections":[{"id":"1"}],"segments":[{"lane_id":"301","capacity":0}]}`, "segment 301: capacity must be positive"},
		{"one endpoint", `{"intersections":[{"id":"1"}],"segments":[{"lane_id":"301","capacity":7,"from":"1"}]}`, "must both be set"},
		{"unknown endpoint", `{"intersections":[{"id":"1"}],"segments":[{"lane_id":"301","capacity":7,"from":"1","to":"2"}]}`, "unknown intersection 2"},
		{"bad fetch timeout", `{"intersections":[{"id":"1"}],"simulator":{"fetch_timeout":"?"}}`, "simulator.fetch_timeout"},
		{"kafka without topic", `{"intersections":[{"id":"1"}],"broadcast":{"kafka":{"brokers":["k:9092"]}}}`, "broadcast.kafka"},
		{"mqtt without broker", `{"intersections":[{"id":"1"}],"broadcast":{"mqtt":{}}}`, "broadcast.mqtt needs a broker"},
		{"mqtt qos", `{"intersections":[{"id":"1"}],"broadcast":{"mqtt":{"broker":"tcp://m:1883","qos":3}}}`, "qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.json))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "error %v should wrap ErrInvalidConfig", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMQTTDefaults(t *testing.T) {
	m := &MQTTConfig{Broker: "tcp://localhost:1883"}
	assert.Equal(t, 1, m.GetQoS())
	assert.Equal(t, "signalctl", m.GetClientID())
	assert.Equal(t, "traffic", m.GetTopicPrefix())
}
