package signal

import (
	"fmt"
	"time"

	"github.com/banshee-data/traffic.control/internal/telemetry"
)

// Action is the phase adjustment chosen for one tick.
type Action int

const (
	MaintainPhase Action = iota
	ExtendGreen
	ShortenGreen
)

func (a Action) String() string {
	switch a {
	case ExtendGreen:
		return "EXTEND_GREEN"
	case ShortenGreen:
		return "SHORTEN_GREEN"
	case MaintainPhase:
		return "MAINTAIN_PHASE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// MarshalText renders the action name in JSON and log records.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "EXTEND_GREEN":
		return ExtendGreen, nil
	case "SHORTEN_GREEN":
		return ShortenGreen, nil
	case "MAINTAIN_PHASE":
		return MaintainPhase, nil
	}
	return MaintainPhase, fmt.Errorf("unknown action %q", s)
}

// UnmarshalText accepts the names produced by MarshalText.
func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Decision is what a Policy returns: the action, the green duration it
// proposes and a rationale for observability.
type Decision struct {
	Action        Action
	GreenDuration time.Duration
	Rationale     string
}

// State is the agent-visible view handed to a Policy. Neighbors are
// identifiers only; a policy never receives another agent.
type State struct {
	IntersectionID string
	GreenDuration  time.Duration
	MinGreen       time.Duration
	Neighbors      []string
}

// Policy decides the next phase adjustment. Implementations must be
// deterministic for a given snapshot and state.
type Policy interface {
	Decide(snapshot telemetry.Snapshot, state State) Decision
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc func(telemetry.Snapshot, State) Decision

// Decide calls f.
func (f PolicyFunc) Decide(s telemetry.Snapshot, st State) Decision { return f(s, st) }

// Default heuristic constants.
const (
	DefaultHeavyQueue  = 100
	DefaultLightQueue  = 20
	DefaultExtendStep  = 10 * time.Second
	DefaultShortenStep = 5 * time.Second
	DefaultMinGreen    = 10 * time.Second
)

// PolicyConfig holds the thresholds of the queue heuristic. MaxGreen of zero
// leaves green extension unbounded.
type PolicyConfig struct {
	HeavyQueue  int
	LightQueue  int
	ExtendStep  time.Duration
	ShortenStep time.Duration
	MinGreen    time.Duration
	MaxGreen    time.Duration
}

// DefaultPolicyConfig returns the fixed heuristic: extend by 10s above 100
// queued vehicles, shorten by 5s below 20, never below 10s.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		HeavyQueue:  DefaultHeavyQueue,
		LightQueue:  DefaultLightQueue,
		ExtendStep:  DefaultExtendStep,
		ShortenStep: DefaultShortenStep,
		MinGreen:    DefaultMinGreen,
	}
}

// Validate checks that the thresholds describe a usable heuristic.
func (c PolicyConfig) Validate() error {
	if c.LightQueue < 0 || c.HeavyQueue < 0 {
		return fmt.Errorf("queue thresholds must be non-negative, got light=%d heavy=%d", c.LightQueue, c.HeavyQueue)
	}
	if c.LightQueue > c.HeavyQueue {
		return fmt.Errorf("light queue threshold %d exceeds heavy threshold %d", c.LightQueue, c.HeavyQueue)
	}
	if c.ExtendStep < 0 || c.ShortenStep < 0 {
		return fmt.Errorf("step sizes must be non-negative, got extend=%v shorten=%v", c.ExtendStep, c.ShortenStep)
	}
	if c.MinGreen <= 0 {
		return fmt.Errorf("min green must be positive, got %v", c.MinGreen)
	}
	if c.MaxGreen != 0 && c.MaxGreen < c.MinGreen {
		return fmt.Errorf("max green %v is below min green %v", c.MaxGreen, c.MinGreen)
	}
	return nil
}

// HeuristicPolicy is the queue-threshold state machine that stands in for a
// learned policy.
type HeuristicPolicy struct {
	cfg PolicyConfig
}

// NewHeuristicPolicy validates cfg and returns the policy.
func NewHeuristicPolicy(cfg PolicyConfig) (*HeuristicPolicy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAgent, err)
	}
	return &HeuristicPolicy{cfg: cfg}, nil
}

// DefaultPolicy returns the heuristic with DefaultPolicyConfig.
func DefaultPolicy() *HeuristicPolicy {
	return &HeuristicPolicy{cfg: DefaultPolicyConfig()}
}

// Config returns the thresholds in use.
func (p *HeuristicPolicy) Config() PolicyConfig { return p.cfg }

// Decide evaluates the queue against the thresholds using only the current
// green duration.
func (p *HeuristicPolicy) Decide(s telemetry.Snapshot, st State) Decision {
	minGreen := st.MinGreen
	if minGreen <= 0 {
		minGreen = p.cfg.MinGreen
	}

	switch {
	case s.QueueLength > p.cfg.HeavyQueue:
		// At or over the cap there is nothing left to extend, and capping
		// would cut the phase.
		if p.cfg.MaxGreen > 0 && st.GreenDuration >= p.cfg.MaxGreen {
			return Decision{
				Action:        MaintainPhase,
				GreenDuration: st.GreenDuration,
				Rationale:     fmt.Sprintf("queue %d above %d, green already at cap %v", s.QueueLength, p.cfg.HeavyQueue, p.cfg.MaxGreen),
			}
		}
		green := st.GreenDuration + p.cfg.ExtendStep
		capped := ""
		if p.cfg.MaxGreen > 0 && green > p.cfg.MaxGreen {
			green = p.cfg.MaxGreen
			capped = ", capped"
		}
		return Decision{
			Action:        ExtendGreen,
			GreenDuration: green,
			Rationale:     fmt.Sprintf("queue %d above %d, draining%s", s.QueueLength, p.cfg.HeavyQueue, capped),
		}
	case s.QueueLength < p.cfg.LightQueue:
		green := st.GreenDuration - p.cfg.ShortenStep
		if green < minGreen {
			green = minGreen
		}
		return Decision{
			Action:        ShortenGreen,
			GreenDuration: green,
			Rationale:     fmt.Sprintf("queue %d below %d, reclaiming green", s.QueueLength, p.cfg.LightQueue),
		}
	default:
		return Decision{
			Action:        MaintainPhase,
			GreenDuration: st.GreenDuration,
			Rationale:     fmt.Sprintf("queue %d within [%d, %d]", s.QueueLength, p.cfg.LightQueue, p.cfg.HeavyQueue),
		}
	}
}
