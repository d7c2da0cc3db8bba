// Package coordination drives the tick-synchronous control loop. Each tick
// the manager runs every road segment monitor, then asks every registered
// signal agent for its next phase decision, and hands the resulting
// congestion events and outcomes to a Sink.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/traffic.control/internal/monitoring"
	"github.com/banshee-data/traffic.control/internal/segment"
	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/simulator"
	"github.com/banshee-data/traffic.control/internal/telemetry"
	"github.com/banshee-data/traffic.control/internal/timeutil"
	"github.com/banshee-data/traffic.control/internal/topology"
)

var (
	ErrDuplicateAgent      = errors.New("agent already registered")
	ErrDuplicateMonitor    = errors.New("monitor already registered")
	ErrUnknownIntersection = errors.New("intersection not in topology")
	ErrUnknownLane         = errors.New("lane not in topology")
	ErrUnknownAgent        = errors.New("agent not registered")
	ErrTickInProgress      = errors.New("tick already in progress")
)

// Manager owns the agents and monitors of one network.
type Manager struct {
	network *topology.Network
	sink    Sink
	clock   timeutil.Clock
	limit   uint64

	stepping atomic.Bool
	tick     atomic.Uint64

	// mu guards everything below. Step holds it only while mutating a
	// single agent so readers see consistent per-agent views. Policies run
	// without it and may read other agents through Agent or Agents.
	mu          sync.RWMutex
	agents      map[string]*signal.Agent
	order       []string
	monitors    []*segment.Monitor
	lastSpeed   map[string]float64
	lastOutcome map[string]Outcome
	lastStatus  map[string]segment.Status
	lastSummary TickSummary
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink installs the receiver of events and outcomes. The default
// discards them.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock sets the clock used to time ticks.
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTickLimit makes Run return once the manager has completed n ticks.
// Zero means no limit.
func WithTickLimit(n uint64) Option {
	return func(m *Manager) { m.limit = n }
}

// NewManager returns a manager for network. A nil network disables
// topology checks at registration.
func NewManager(network *topology.Network, opts ...Option) *Manager {
	m := &Manager{
		network:     network,
		sink:        DiscardSink{},
		clock:       timeutil.RealClock{},
		agents:      make(map[string]*signal.Agent),
		lastSpeed:   make(map[string]float64),
		lastOutcome: make(map[string]Outcome),
		lastStatus:  make(map[string]segment.Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = DiscardSink{}
	}
	return m
}

// RegisterAgent adds a to the manager. The intersection and every neighbor
// must exist in the topology. Registration is refused with
// ErrTickInProgress while a tick runs.
func (m *Manager) RegisterAgent(a *signal.Agent) error {
	if a == nil {
		return errors.New("nil agent")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stepping.Load() {
		return fmt.Errorf("%w: cannot register %s", ErrTickInProgress, a.ID)
	}

	if _, dup := m.agents[a.ID]; dup {
		return fmt.Errorf("%w: intersection %s", ErrDuplicateAgent, a.ID)
	}
	if m.network != nil {
		if _, ok := m.network.Intersection(a.ID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownIntersection, a.ID)
		}
		for _, n := range a.Neighbors() {
			if _, ok := m.network.Intersection(n); !ok {
				return fmt.Errorf("%w: neighbor %s of %s", ErrUnknownIntersection, n, a.ID)
			}
		}
	}
	m.agents[a.ID] = a
	m.order = append(m.order, a.ID)
	return nil
}

// DeregisterAgent removes the agent for id and forgets its speed history.
// Like registration it is refused with ErrTickInProgress while a tick runs.
func (m *Manager) DeregisterAgent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stepping.Load() {
		return fmt.Errorf("%w: cannot deregister %s", ErrTickInProgress, id)
	}
	if _, ok := m.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	delete(m.agents, id)
	delete(m.lastSpeed, id)
	delete(m.lastOutcome, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// RegisterMonitor appends mon to the monitors checked each tick. Monitors
// run in registration order. It is refused while a tick runs.
func (m *Manager) RegisterMonitor(mon *segment.Monitor) error {
	if mon == nil {
		return errors.New("nil monitor")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stepping.Load() {
		return fmt.Errorf("%w: cannot register monitor %s", ErrTickInProgress, mon.LaneID)
	}

	for _, existing := range m.monitors {
		if existing.LaneID == mon.LaneID {
			return fmt.Errorf("%w: lane %s", ErrDuplicateMonitor, mon.LaneID)
		}
	}
	if m.network != nil {
		if _, ok := m.network.Lane(mon.LaneID); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLane, mon.LaneID)
		}
	}
	m.monitors = append(m.monitors, mon)
	return nil
}

// Tick returns the number of ticks started so far.
func (m *Manager) Tick() uint64 { return m.tick.Load() }

// Step runs one tick against sim. Monitors are evaluated before any agent
// decides. The set of agents is fixed when the tick starts and registration
// changes are refused until Step returns; an id whose agent is nonetheless
// missing at its turn is skipped. Overlapping calls return immediately with
// ErrTickInProgress.
func (m *Manager) Step(ctx context.Context, sim simulator.State) TickSummary {
	if !m.stepping.CompareAndSwap(false, true) {
		return TickSummary{Tick: m.Tick(), Err: ErrTickInProgress}
	}
	defer m.stepping.Store(false)

	if err := ctx.Err(); err != nil {
		return TickSummary{Tick: m.Tick(), Err: err}
	}
	if sim == nil {
		sim = simulator.Frame{}
	}

	start := m.clock.Now()
	tick := m.tick.Add(1)
	sum := TickSummary{Tick: tick}

	m.mu.RLock()
	monitors := append([]*segment.Monitor(nil), m.monitors...)
	ids := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, mon := range monitors {
		occ, ok := sim.CurrentOccupancy(mon.LaneID)
		if !ok {
			monitoring.Tickf(tick, "no occupancy for lane %s (%s), assuming 0", mon.LaneID, mon.Name)
			occ = 0
		} else if occ < 0 {
			monitoring.Tickf(tick, "negative occupancy %d for lane %s, assuming 0", occ, mon.LaneID)
			occ = 0
		}
		st := mon.Status(occ)

		m.mu.Lock()
		m.lastStatus[mon.LaneID] = st
		m.mu.Unlock()

		if !st.Congested {
			continue
		}
		sum.Congested++
		ev := CongestionEvent{
			Tick:        tick,
			SegmentID:   mon.LaneID,
			SegmentName: mon.Name,
			Saturation:  st.Saturation,
			Level:       st.Level(),
		}
		m.emit(tick, "congestion", func() error { return m.sink.Congestion(ev) })
	}

	for _, id := range ids {
		o, ok := m.decide(tick, id, sim)
		if !ok {
			sum.Skipped++
			continue
		}
		sum.Decided++
		if o.DefaultTelemetry {
			sum.Defaulted++
		}
		m.emit(tick, "outcome", func() error { return m.sink.Outcome(o) })
	}

	sum.Duration = m.clock.Since(start)
	m.mu.Lock()
	m.lastSummary = sum
	m.mu.Unlock()

	if obs, ok := m.sink.(TickObserver); ok {
		m.emit(tick, "summary", func() error { obs.TickDone(sum); return nil })
	}
	return sum
}

// decide runs one agent's turn. Telemetry that is missing or invalid is
// replaced by telemetry.Default; such a reading does not enter the speed
// history and contributes no speed term to the reward.
func (m *Manager) decide(tick uint64, id string, sim simulator.State) (Outcome, bool) {
	m.mu.RLock()
	a, ok := m.agents[id]
	prev, seen := m.lastSpeed[id]
	m.mu.RUnlock()
	if !ok {
		monitoring.Tickf(tick, "agent %s no longer registered, skipping", id)
		return Outcome{}, false
	}

	snap, ok := sim.Snapshot(id)
	defaulted := false
	if !ok {
		monitoring.Tickf(tick, "no telemetry for intersection %s, using default snapshot", id)
		snap, defaulted = telemetry.Default(), true
	} else if err := snap.Validate(); err != nil {
		monitoring.Tickf(tick, "intersection %s: %v, using default snapshot", id, err)
		snap, defaulted = telemetry.Default(), true
	}
	if !seen || defaulted {
		prev = snap.AvgSpeed
	}

	// The policy runs unlocked; only Step mutates agents, and registration
	// is refused until it returns, so a is still the registered agent.
	d, err := propose(a, snap)
	if err != nil {
		monitoring.Tickf(tick, "intersection %s: %v, keeping green %v", id, err, a.GreenDuration())
		return Outcome{}, false
	}
	reward := a.CalculateReward(snap.QueueLength, prev, snap.AvgSpeed)

	o := Outcome{
		Tick:             tick,
		IntersectionID:   a.ID,
		IntersectionName: a.Name,
		Action:           d.Action,
		GreenDuration:    d.GreenDuration,
		Reward:           reward,
		Rationale:        d.Rationale,
		Telemetry:        snap,
		DefaultTelemetry: defaulted,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agents[id] != a {
		monitoring.Tickf(tick, "agent %s no longer registered, skipping", id)
		return Outcome{}, false
	}
	a.Apply(d)
	if !defaulted {
		m.lastSpeed[id] = snap.AvgSpeed
	}
	m.lastOutcome[id] = o
	return o, true
}

// propose runs the agent's policy, turning a panic into an error so one
// faulty policy cannot abort the tick for the agents after it.
func propose(a *signal.Agent, snap telemetry.Snapshot) (d signal.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy panic: %v", r)
		}
	}()
	return a.ProposeNextPhase(snap), nil
}

func (m *Manager) emit(tick uint64, what string, f func() error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Tickf(tick, "sink panic on %s: %v", what, r)
		}
	}()
	if err := f(); err != nil {
		monitoring.Tickf(tick, "sink %s error: %v", what, err)
	}
}

// Run fetches a State from src and steps once per interval until ctx is
// done, src is exhausted or the tick limit is reached. Fetch errors skip
// the tick. Ticks never overlap since Step runs on this goroutine.
func (m *Manager) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration, src simulator.Source) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", interval)
	}
	if src == nil {
		return errors.New("nil simulator source")
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	m.mu.RLock()
	monitoring.Logf("Coordination loop started: interval=%s agents=%d monitors=%d", interval, len(m.order), len(m.monitors))
	m.mu.RUnlock()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("Coordination loop terminated after %d ticks", m.Tick())
			return ctx.Err()
		case <-ticker.C():
			st, err := src.Fetch(ctx)
			if errors.Is(err, simulator.ErrExhausted) {
				monitoring.Logf("Simulator source exhausted after %d ticks", m.Tick())
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				monitoring.Logf("Simulator fetch failed, skipping tick: %v", err)
				continue
			}
			if sum := m.Step(ctx, st); sum.Err != nil {
				monitoring.Logf("Tick refused: %v", sum.Err)
			}
			if m.limit > 0 && m.Tick() >= m.limit {
				monitoring.Logf("Coordination loop reached tick limit %d", m.limit)
				return nil
			}
		}
	}
}
