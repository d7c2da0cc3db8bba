package config

import (
	"fmt"

	"github.com/banshee-data/traffic.control/internal/segment"
	"github.com/banshee-data/traffic.control/internal/signal"
	"github.com/banshee-data/traffic.control/internal/topology"
)

// BuildNetwork creates the topology: every intersection, every segment as a
// lane, and a two-way link between declared neighbors.
func (c *ControlConfig) BuildNetwork() (*topology.Network, error) {
	net := topology.New()
	for _, in := range c.Intersections {
		if err := net.AddIntersection(in.ID, in.Name); err != nil {
			return nil, err
		}
	}
	for _, in := range c.Intersections {
		for _, n := range in.Neighbors {
			if err := net.Connect(in.ID, n); err != nil {
				return nil, fmt.Errorf("intersection %s: %w", in.ID, err)
			}
		}
	}
	for _, s := range c.Segments {
		lane := topology.Lane{ID: s.LaneID, Name: s.Name, Capacity: s.Capacity, From: s.From, To: s.To}
		if err := net.AddLane(lane); err != nil {
			return nil, err
		}
	}
	return net, nil
}

// BuildAgents creates one agent per intersection in declaration order,
// all sharing the configured heuristic.
func (c *ControlConfig) BuildAgents() ([]*signal.Agent, error) {
	pc := c.GetPolicyConfig()
	policy, err := signal.NewHeuristicPolicy(pc)
	if err != nil {
		return nil, fmt.Errorf("%w: policy: %v", ErrInvalidConfig, err)
	}
	green := c.GetInitialGreen()
	weight := c.GetRewardWeight()

	agents := make([]*signal.Agent, 0, len(c.Intersections))
	for _, in := range c.Intersections {
		a, err := signal.NewAgent(in.ID, in.Name, in.Neighbors,
			signal.WithPolicy(policy),
			signal.WithMinGreen(pc.MinGreen),
			signal.WithInitialGreen(in.GetInitialGreen(green)),
			signal.WithRewardWeight(in.GetRewardWeight(weight)),
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// BuildMonitors creates one monitor per segment in declaration order.
func (c *ControlConfig) BuildMonitors() ([]*segment.Monitor, error) {
	mons := make([]*segment.Monitor, 0, len(c.Segments))
	for _, s := range c.Segments {
		m, err := segment.NewMonitor(s.LaneID, s.Name, s.Capacity)
		if err != nil {
			return nil, err
		}
		mons = append(mons, m)
	}
	return mons, nil
}
