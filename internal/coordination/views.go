package coordination

import (
	"encoding/json"
	"time"

	"github.com/banshee-data/traffic.control/internal/segment"
)

// AgentView is a point-in-time copy of one agent's state. Durations travel
// as seconds in JSON.
type AgentView struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	GreenDuration time.Duration `json:"green_duration"`
	MinGreen      time.Duration `json:"min_green"`
	Neighbors     []string      `json:"neighbors"`
	RewardWeight  float64       `json:"reward_weight"`
	Last          *Outcome      `json:"last_outcome,omitempty"`
}

type agentViewAlias AgentView

type agentViewJSON struct {
	agentViewAlias
	GreenDuration float64 `json:"green_duration"`
	MinGreen      float64 `json:"min_green"`
}

// MarshalJSON implements json.Marshaler.
func (v AgentView) MarshalJSON() ([]byte, error) {
	return json.Marshal(agentViewJSON{
		agentViewAlias: agentViewAlias(v),
		GreenDuration:  v.GreenDuration.Seconds(),
		MinGreen:       v.MinGreen.Seconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *AgentView) UnmarshalJSON(b []byte) error {
	var j agentViewJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*v = AgentView(j.agentViewAlias)
	v.GreenDuration = fromSeconds(j.GreenDuration)
	v.MinGreen = fromSeconds(j.MinGreen)
	return nil
}

// SegmentView is a point-in-time copy of one monitor and its last status.
type SegmentView struct {
	LaneID   string          `json:"lane_id"`
	Name     string          `json:"name"`
	Capacity int             `json:"capacity"`
	Status   *segment.Status `json:"status,omitempty"`
	Level    string          `json:"level,omitempty"`
}

// Agents returns views of all agents in registration order.
func (m *Manager) Agents() []AgentView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AgentView, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.viewLocked(id))
	}
	return out
}

// Agent returns the view of one agent.
func (m *Manager) Agent(id string) (AgentView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.agents[id]; !ok {
		return AgentView{}, false
	}
	return m.viewLocked(id), true
}

func (m *Manager) viewLocked(id string) AgentView {
	a := m.agents[id]
	v := AgentView{
		ID:            a.ID,
		Name:          a.Name,
		GreenDuration: a.GreenDuration(),
		MinGreen:      a.MinGreen(),
		Neighbors:     a.Neighbors(),
		RewardWeight:  a.RewardWeight(),
	}
	if o, ok := m.lastOutcome[id]; ok {
		v.Last = &o
	}
	return v
}

// Segments returns views of all monitors in registration order.
func (m *Manager) Segments() []SegmentView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SegmentView, 0, len(m.monitors))
	for _, mon := range m.monitors {
		v := SegmentView{LaneID: mon.LaneID, Name: mon.Name, Capacity: mon.Capacity}
		if st, ok := m.lastStatus[mon.LaneID]; ok {
			v.Status = &st
			v.Level = st.Level().String()
		}
		out = append(out, v)
	}
	return out
}

// LastSummary returns the summary of the most recent completed tick.
func (m *Manager) LastSummary() TickSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSummary
}
