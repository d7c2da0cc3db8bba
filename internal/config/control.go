// Package config loads the JSON control configuration: the intersections
// and road segments under control, the heuristic thresholds and the wiring
// of the outer services.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/units"
)

// DefaultConfigPath is the repository default control configuration.
const DefaultConfigPath = "config/control.defaults.json"

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

const maxConfigFileSize = 1 * 1024 * 1024

// ControlConfig is the root configuration. Optional fields are pointers so
// an omitted field falls back to its Get* default.
type ControlConfig struct {
	TickInterval *string  `json:"tick_interval,omitempty"` // duration string like "1s"
	TickLimit    *uint64  `json:"tick_limit,omitempty"`
	SpeedUnit    *string  `json:"speed_unit,omitempty"`
	InitialGreen *string  `json:"initial_green,omitempty"`
	RewardWeight *float64 `json:"reward_weight,omitempty"`

	Policy *PolicyConfig `json:"policy,omitempty"`

	Intersections []IntersectionConfig `json:"intersections"`
	Segments      []SegmentConfig      `json:"segments"`

	DBPath    *string          `json:"db_path,omitempty"`
	Listen    *string          `json:"listen,omitempty"`
	Simulator *SimulatorConfig `json:"simulator,omitempty"`
	Broadcast *BroadcastConfig `json:"broadcast,omitempty"`
}

// PolicyConfig mirrors signal.PolicyConfig with JSON-friendly durations.
type PolicyConfig struct {
	HeavyQueue  *int    `json:"heavy_queue,omitempty"`
	LightQueue  *int    `json:"light_queue,omitempty"`
	ExtendStep  *string `json:"extend_step,omitempty"`
	ShortenStep *string `json:"shorten_step,omitempty"`
	MinGreen    *string `json:"min_green,omitempty"`
	MaxGreen    *string `json:"max_green,omitempty"`
}

// IntersectionConfig declares one controlled intersection.
type IntersectionConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Neighbors    []string `json:"neighbors,omitempty"`
	InitialGreen *string  `json:"initial_green,omitempty"`
	RewardWeight *float64 `json:"reward_weight,omitempty"`
}

// SegmentConfig declares one monitored road segment. From and To name the
// intersections the lane runs between and may both be empty.
type SegmentConfig struct {
	LaneID   string `json:"lane_id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// SimulatorConfig points the controller at a remote simulator.
type SimulatorConfig struct {
	Addr         string  `json:"addr,omitempty"`
	FetchTimeout *string `json:"fetch_timeout,omitempty"`
}

// BroadcastConfig enables the external event publishers.
type BroadcastConfig struct {
	Kafka *KafkaConfig `json:"kafka,omitempty"`
	MQTT  *MQTTConfig  `json:"mqtt,omitempty"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker      string `json:"broker"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
	QoS         *int   `json:"qos,omitempty"`
}

// LoadConfig reads and validates a configuration file. The file must have
// a .json extension and be under 1MB.
func LoadConfig(path string) (*ControlConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates configuration JSON.
func ParseConfig(data []byte) (*ControlConfig, error) {
	cfg := &ControlConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its parents. It panics when the file cannot be found, and is
// meant for tests.
func MustLoadDefaultConfig() *ControlConfig {
	for _, prefix := range []string{"", "../", "../../", "../../../"} {
		if cfg, err := LoadConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, v...))
}

func parseDuration(field string, s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	if _, err := time.ParseDuration(*s); err != nil {
		return invalid("%s %q: %v", field, *s, err)
	}
	return nil
}

// Validate checks field formats and the cross references between
// intersections and segments. Agent constraints such as min green are
// checked again when the agents are built.
func (c *ControlConfig) Validate() error {
	for field, s := range map[string]*string{"tick_interval": c.TickInterval, "initial_green": c.InitialGreen} {
		if err := parseDuration(field, s); err != nil {
			return err
		}
	}
	if c.TickInterval != nil && *c.TickInterval != "" && c.GetTickInterval() <= 0 {
		return invalid("tick_interval must be positive, got %s", *c.TickInterval)
	}
	if c.SpeedUnit != nil && !units.IsValid(*c.SpeedUnit) {
		return invalid("speed_unit %q must be one of %s", *c.SpeedUnit, units.ValidUnitsString())
	}
	if c.Policy != nil {
		p := c.Policy
		for field, s := range map[string]*string{
			"policy.extend_step": p.ExtendStep, "policy.shorten_step": p.ShortenStep,
			"policy.min_green": p.MinGreen, "policy.max_green": p.MaxGreen,
		} {
			if err := parseDuration(field, s); err != nil {
				return err
			}
		}
		if err := c.GetPolicyConfig().Validate(); err != nil {
			return invalid("policy: %v", err)
		}
	}

	if len(c.Intersections) == 0 {
		return invalid("at least one intersection is required")
	}
	maxGreen := c.GetPolicyConfig().MaxGreen
	if maxGreen > 0 && c.GetInitialGreen() > maxGreen {
		return invalid("initial_green %v is above policy.max_green %v", c.GetInitialGreen(), maxGreen)
	}
	ids := make(map[string]bool, len(c.Intersections))
	for i, in := range c.Intersections {
		if strings.TrimSpace(in.ID) == "" {
			return invalid("intersections[%d]: id must not be empty", i)
		}
		if ids[in.ID] {
			return invalid("intersection %s: duplicate id", in.ID)
		}
		ids[in.ID] = true
		if err := parseDuration("intersection "+in.ID+" initial_green", in.InitialGreen); err != nil {
			return err
		}
		if g := in.GetInitialGreen(c.GetInitialGreen()); maxGreen > 0 && g > maxGreen {
			return invalid("intersection %s: initial_green %v is above policy.max_green %v", in.ID, g, maxGreen)
		}
	}
	for _, in := range c.Intersections {
		for _, n := range in.Neighbors {
			if !ids[n] {
				return invalid("intersection %s: unknown neighbor %s", in.ID, n)
			}
		}
	}

	lanes := make(map[string]bool, len(c.Segments))
	for i, s := range c.Segments {
		if strings.TrimSpace(s.LaneID) == "" {
			return invalid("segments[%d]: lane_id must not be empty", i)
		}
		if lanes[s.LaneID] {
			return invalid("segment %s: duplicate lane_id", s.LaneID)
		}
		lanes[s.LaneID] = true
		if s.Capacity <= 0 {
			return invalid("segment %s: capacity must be positive, got %d", s.LaneID, s.Capacity)
		}
		if (s.From == "") != (s.To == "") {
			return invalid("segment %s: from and to must both be set or both empty", s.LaneID)
		}
		for _, end := range []string{s.From, s.To} {
			if end != "" && !ids[end] {
				return invalid("segment %s: unknown intersection %s", s.LaneID, end)
			}
		}
	}

	if c.Simulator != nil {
		if err := parseDuration("simulator.fetch_timeout", c.Simulator.FetchTimeout); err != nil {
			return err
		}
	}
	if b := c.Broadcast; b != nil {
		if b.Kafka != nil && (len(b.Kafka.Brokers) == 0 || b.Kafka.Topic == "") {
			return invalid("broadcast.kafka needs brokers and a topic")
		}
		if b.MQTT != nil {
			if b.MQTT.Broker == "" {
				return invalid("broadcast.mqtt needs a broker")
			}
			if q := b.MQTT.GetQoS(); q > 2 {
				return invalid("broadcast.mqtt qos must be 0, 1 or 2, got %d", q)
			}
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetTickInterval returns tick_interval or 1s.
func (c *ControlConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, time.Second)
}

// GetTickLimit returns tick_limit or 0, meaning no limit.
func (c *ControlConfig) GetTickLimit() uint64 {
	if c.TickLimit == nil {
		return 0
	}
	return *c.TickLimit
}

// GetSpeedUnit returns the unit of the simulator feed, km/h by default.
func (c *ControlConfig) GetSpeedUnit() string {
	if c.SpeedUnit == nil {
		return units.KMPH
	}
	return *c.SpeedUnit
}

// GetInitialGreen returns the network-wide initial green.
func (c *ControlConfig) GetInitialGreen() time.Duration {
	return durationOr(c.InitialGreen, signal.DefaultInitialGreen)
}

// GetRewardWeight returns the network-wide reward weight.
func (c *ControlConfig) GetRewardWeight() float64 {
	if c.RewardWeight == nil {
		return signal.DefaultRewardWeight
	}
	return *c.RewardWeight
}

// GetPolicyConfig fills the heuristic thresholds from the configured
// policy, taking defaults for anything omitted.
func (c *ControlConfig) GetPolicyConfig() signal.PolicyConfig {
	pc := signal.DefaultPolicyConfig()
	p := c.Policy
	if p == nil {
		return pc
	}
	if p.HeavyQueue != nil {
		pc.HeavyQueue = *p.HeavyQueue
	}
	if p.LightQueue != nil {
		pc.LightQueue = *p.LightQueue
	}
	pc.ExtendStep = durationOr(p.ExtendStep, pc.ExtendStep)
	pc.ShortenStep = durationOr(p.ShortenStep, pc.ShortenStep)
	pc.MinGreen = durationOr(p.MinGreen, pc.MinGreen)
	pc.MaxGreen = durationOr(p.MaxGreen, pc.MaxGreen)
	return pc
}

// GetDBPath returns db_path or "signalctl.db".
func (c *ControlConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "signalctl.db"
	}
	return *c.DBPath
}

// GetListen returns the HTTP listen address or ":8080".
func (c *ControlConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetFetchTimeout returns the simulator fetch timeout, or def when unset.
func (c *ControlConfig) GetFetchTimeout(def time.Duration) time.Duration {
	if c.Simulator == nil {
		return def
	}
	return durationOr(c.Simulator.FetchTimeout, def)
}

// GetInitialGreen returns the intersection override or def.
func (in IntersectionConfig) GetInitialGreen(def time.Duration) time.Duration {
	return durationOr(in.InitialGreen, def)
}

// GetRewardWeight returns the intersection override or def.
func (in IntersectionConfig) GetRewardWeight(def float64) float64 {
	if in.RewardWeight == nil {
		return def
	}
	return *in.RewardWeight
}

// GetQoS returns the MQTT QoS, 1 by default.
func (m *MQTTConfig) GetQoS() int {
	if m.QoS == nil {
		return 1
	}
	return *m.QoS
}

// GetClientID returns client_id or "signalctl".
func (m *MQTTConfig) GetClientID() string {
	if m.ClientID == "" {
		return "signalctl"
	}
	return m.ClientID
}

// GetTopicPrefix returns topic_prefix or "traffic".
func (m *MQTTConfig) GetTopicPrefix() string {
	if m.TopicPrefix == "" {
		return "traffic"
	}
	return m.TopicPrefix
}
