// Package signal implements the per-intersection signal control agent: its
// adjustable green phase, the reward model and the pluggable decision policy.
package signal

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/traffic.control/internal/telemetry"
)

// DefaultInitialGreen is the fixed-time green an agent starts from.
const DefaultInitialGreen = 30 * time.Second

// DefaultRewardWeight is the α applied to the speed term of the reward.
const DefaultRewardWeight = 0.5

// ErrInvalidAgent is wrapped by every construction error.
var ErrInvalidAgent = errors.New("invalid signal agent")

// Agent controls one intersection. Only the coordination manager mutates it,
// and only through DecideNextPhase.
type Agent struct {
	ID   string
	Name string

	greenDuration time.Duration
	minGreen      time.Duration
	neighbors     []string
	rewardWeight  float64
	policy        Policy
}

// Option configures an Agent at construction.
type Option func(*Agent)

// WithInitialGreen overrides DefaultInitialGreen.
func WithInitialGreen(d time.Duration) Option {
	return func(a *Agent) { a.greenDuration = d }
}

// WithRewardWeight overrides DefaultRewardWeight.
func WithRewardWeight(alpha float64) Option {
	return func(a *Agent) { a.rewardWeight = alpha }
}

// WithPolicy installs a decision policy other than the default heuristic.
func WithPolicy(p Policy) Option {
	return func(a *Agent) { a.policy = p }
}

// WithMinGreen overrides the minimum green the agent clamps to.
func WithMinGreen(d time.Duration) Option {
	return func(a *Agent) { a.minGreen = d }
}

// NewAgent builds an agent for intersection id. The neighbor list is copied
// and never changes afterwards.
func NewAgent(id, name string, neighbors []string, opts ...Option) (*Agent, error) {
	a := &Agent{
		ID:            id,
		Name:          name,
		greenDuration: DefaultInitialGreen,
		minGreen:      DefaultMinGreen,
		neighbors:     append([]string(nil), neighbors...),
		rewardWeight:  DefaultRewardWeight,
	}
	for _, opt := range opts {
		opt(a)
	}

	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: intersection id must not be empty", ErrInvalidAgent)
	}
	if a.minGreen <= 0 {
		return nil, fmt.Errorf("%w: intersection %s: min green must be positive, got %v", ErrInvalidAgent, id, a.minGreen)
	}
	if a.greenDuration < a.minGreen {
		return nil, fmt.Errorf("%w: intersection %s: initial green %v is below min green %v", ErrInvalidAgent, id, a.greenDuration, a.minGreen)
	}
	if math.IsNaN(a.rewardWeight) || math.IsInf(a.rewardWeight, 0) {
		return nil, fmt.Errorf("%w: intersection %s: reward weight must be finite", ErrInvalidAgent, id)
	}
	for _, n := range a.neighbors {
		if n == id {
			return nil, fmt.Errorf("%w: intersection %s lists itself as a neighbor", ErrInvalidAgent, id)
		}
	}

	if a.policy == nil {
		cfg := DefaultPolicyConfig()
		cfg.MinGreen = a.minGreen
		a.policy = &HeuristicPolicy{cfg: cfg}
	}
	return a, nil
}

// GreenDuration is the current green-phase bound.
func (a *Agent) GreenDuration() time.Duration { return a.greenDuration }

// MinGreen is the floor GreenDuration is clamped to.
func (a *Agent) MinGreen() time.Duration { return a.minGreen }

// RewardWeight is α.
func (a *Agent) RewardWeight() float64 { return a.rewardWeight }

// Neighbors returns a copy of the adjacent intersection ids.
func (a *Agent) Neighbors() []string { return append([]string(nil), a.neighbors...) }

// State is the view passed to the installed policy.
func (a *Agent) State() State {
	return State{
		IntersectionID: a.ID,
		GreenDuration:  a.greenDuration,
		MinGreen:       a.minGreen,
		Neighbors:      a.Neighbors(),
	}
}

// CalculateReward scores the agent's last tick. Queued vehicles are
// penalised one-for-one; a rise in mean speed earns α per km/h and a drop
// costs the same, so both terms pull in the same direction:
//
//	reward = -(queue + α·(prevSpeed - currSpeed))
//
// The speed term is prev minus curr so that the reward never falls when
// speed rises. Writing it as curr minus prev would penalise acceleration.
func (a *Agent) CalculateReward(currentQueue int, prevSpeed, currSpeed float64) float64 {
	return -(float64(currentQueue) + a.rewardWeight*(prevSpeed-currSpeed))
}

// DecideNextPhase runs the policy against snapshot, applies the proposed
// green duration and returns the decision. The min-green clamp is applied
// here regardless of what the policy proposed.
func (a *Agent) DecideNextPhase(snapshot telemetry.Snapshot) Decision {
	d := a.ProposeNextPhase(snapshot)
	a.Apply(d)
	return d
}

// ProposeNextPhase is DecideNextPhase without the state change. The
// returned duration is already clamped to min green.
func (a *Agent) ProposeNextPhase(snapshot telemetry.Snapshot) Decision {
	d := a.policy.Decide(snapshot, a.State())
	if d.GreenDuration < a.minGreen {
		d.GreenDuration = a.minGreen
	}
	return d
}

// Apply adopts the green duration of d, never going below min green.
func (a *Agent) Apply(d Decision) {
	if d.GreenDuration < a.minGreen {
		d.GreenDuration = a.minGreen
	}
	a.greenDuration = d.GreenDuration
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s (%s, green %v)", a.Name, a.ID, a.greenDuration)
}
