// Package topology is the read-only road network handle used to resolve
// intersection and lane identifiers. Intersections are nodes of a directed
// graph and lanes with known endpoints are its edges.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

var (
	// ErrDuplicate is returned when an id is added twice.
	ErrDuplicate = errors.New("duplicate topology element")
	// ErrUnknown is returned when an edge references an intersection that
	// has not been added.
	ErrUnknown = errors.New("unknown intersection")
)

// Intersection is a signalised junction.
type Intersection struct {
	ID   string
	Name string
}

// Lane is a road segment. From and To are intersection ids and may both be
// empty for a lane the network only monitors.
type Lane struct {
	ID       string
	Name     string
	Capacity int
	From     string
	To       string
}

// Network is populated once at start-up and only read afterwards.
type Network struct {
	g *simple.DirectedGraph

	nodes         map[string]int64
	ids           map[int64]string
	intersections map[string]Intersection
	lanes         map[string]Lane
	laneOrder     []string
	nextNode      int64
}

// New returns an empty network.
func New() *Network {
	return &Network{
		g:             simple.NewDirectedGraph(),
		nodes:         make(map[string]int64),
		ids:           make(map[int64]string),
		intersections: make(map[string]Intersection),
		lanes:         make(map[string]Lane),
	}
}

// AddIntersection registers a junction.
func (n *Network) AddIntersection(id, name string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("intersection id must not be empty")
	}
	if _, ok := n.nodes[id]; ok {
		return fmt.Errorf("%w: intersection %s", ErrDuplicate, id)
	}
	node := simple.Node(n.nextNode)
	n.nextNode++
	n.g.AddNode(node)
	n.nodes[id] = node.ID()
	n.ids[node.ID()] = id
	n.intersections[id] = Intersection{ID: id, Name: name}
	return nil
}

// AddLane registers a road segment. When both endpoints are set the lane
// also becomes a directed edge between them.
func (n *Network) AddLane(l Lane) error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("lane id must not be empty")
	}
	if _, ok := n.lanes[l.ID]; ok {
		return fmt.Errorf("%w: lane %s", ErrDuplicate, l.ID)
	}
	if (l.From == "") != (l.To == "") {
		return fmt.Errorf("lane %s: from and to must both be set or both be empty", l.ID)
	}
	if l.From != "" {
		if err := n.setEdge(l.From, l.To); err != nil {
			return fmt.Errorf("lane %s: %w", l.ID, err)
		}
	}
	n.lanes[l.ID] = l
	n.laneOrder = append(n.laneOrder, l.ID)
	return nil
}

// Connect records a two-way adjacency between intersections a and b.
func (n *Network) Connect(a, b string) error {
	if err := n.setEdge(a, b); err != nil {
		return err
	}
	return n.setEdge(b, a)
}

func (n *Network) setEdge(from, to string) error {
	f, ok := n.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, from)
	}
	t, ok := n.nodes[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, to)
	}
	if f == t {
		return fmt.Errorf("intersection %s cannot be connected to itself", from)
	}
	if !n.g.HasEdgeFromTo(f, t) {
		n.g.SetEdge(n.g.NewEdge(simple.Node(f), simple.Node(t)))
	}
	return nil
}

// Intersection resolves an intersection id.
func (n *Network) Intersection(id string) (Intersection, bool) {
	in, ok := n.intersections[id]
	return in, ok
}

// Lane resolves a lane id.
func (n *Network) Lane(id string) (Lane, bool) {
	l, ok := n.lanes[id]
	return l, ok
}

// Neighbors returns the sorted ids of intersections adjacent to id in
// either direction. Unknown ids have no neighbors.
func (n *Network) Neighbors(id string) []string {
	node, ok := n.nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{})
	for _, it := range []graph.Nodes{n.g.From(node), n.g.To(node)} {
		for it.Next() {
			seen[n.ids[it.Node().ID()]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Intersections returns every intersection sorted by id.
func (n *Network) Intersections() []Intersection {
	out := make([]Intersection, 0, len(n.intersections))
	for _, in := range n.intersections {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lanes returns every lane in the order it was added.
func (n *Network) Lanes() []Lane {
	out := make([]Lane, 0, len(n.laneOrder))
	for _, id := range n.laneOrder {
		out = append(out, n.lanes[id])
	}
	return out
}

// Len reports the number of intersections and directed connections.
func (n *Network) Len() (nodes, edges int) {
	return n.g.Nodes().Len(), n.g.Edges().Len()
}
