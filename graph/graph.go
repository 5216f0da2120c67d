// ABOUTME: Graph interface and in-memory arena implementation
// ABOUTME: Provides methods for storing and querying decoded object graphs

package graph

import (
	"sort"
	"sync"

	"github.com/prateek/heapgrok/memimage"
)

// Graph is the read side of an object graph used by the analyses
type Graph interface {
	// Node returns the node with id, or nil
	Node(id NodeID) *Node

	// NumNodes returns the total number of nodes
	NumNodes() int

	// ForEachNode visits nodes in ID order
	ForEachNode(fn func(*Node))

	// Roots returns the root node IDs
	Roots() []NodeID
}

// MemGraph is an in-memory arena of nodes keyed by address
type MemGraph struct {
	mu    sync.RWMutex
	nodes []*Node
	index map[memimage.Address]NodeID
	roots []NodeID
}

// NewMemGraph creates an empty graph
func NewMemGraph() *MemGraph {
	return &MemGraph{index: make(map[memimage.Address]NodeID)}
}

// AddNode claims addr. It returns the node for addr and whether it was
// created by this call.
func (g *MemGraph) AddNode(addr memimage.Address) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.index[addr]; ok {
		return g.nodes[id], false
	}
	n := &Node{ID: NodeID(len(g.nodes)), Addr: addr}
	g.nodes = append(g.nodes, n)
	g.index[addr] = n.ID
	return n, true
}

// AddEdge appends an edge to the node from
func (g *MemGraph) AddEdge(from NodeID, e Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.nodes[from]
	n.Edges = append(n.Edges, e)
}

// Node returns the node with id, or nil
func (g *MemGraph) Node(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Lookup returns the node for an untagged address
func (g *MemGraph) Lookup(addr memimage.Address) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.index[addr]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// NumNodes returns the total number of nodes
func (g *MemGraph) NumNodes() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// NumEdges counts edges, unresolved ones included
func (g *MemGraph) NumEdges() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	total := 0
	for _, n := range g.nodes {
		total += len(n.Edges)
	}
	return total
}

// ForEachNode visits nodes in ID order
func (g *MemGraph) ForEachNode(fn func(*Node)) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.nodes {
		fn(n)
	}
}

// SetRoots sets the root node IDs
func (g *MemGraph) SetRoots(roots []NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roots = append([]NodeID(nil), roots...)
}

// Roots returns the root node IDs
func (g *MemGraph) Roots() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]NodeID(nil), g.roots...)
}

// ByType returns the decoded nodes whose identity or instance type name is
// name, in ID order
func (g *MemGraph) ByType(name string) []*Node {
	var out []*Node
	g.ForEachNode(func(n *Node) {
		if n.Object == nil {
			return
		}
		if n.Object.Identity() == name || n.Object.TypeName == name {
			out = append(out, n)
		}
	})
	return out
}

// Failed returns the nodes whose decode failed, in ID order
func (g *MemGraph) Failed() []*Node {
	var out []*Node
	g.ForEachNode(func(n *Node) {
		if n.Failed() {
			out = append(out, n)
		}
	})
	return out
}

// TypeCount is the number and total size of nodes of one type
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Bytes uint64 `json:"bytes"`
}

// Histogram groups decoded nodes by type, largest count first
func (g *MemGraph) Histogram() []TypeCount {
	byType := make(map[string]*TypeCount)
	g.ForEachNode(func(n *Node) {
		if n.Object == nil {
			return
		}
		name := n.TypeName()
		tc, ok := byType[name]
		if !ok {
			tc = &TypeCount{Type: name}
			byType[name] = tc
		}
		tc.Count++
		tc.Bytes += n.Size()
	})
	out := make([]TypeCount, 0, len(byType))
	for _, tc := range byType {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Reachable returns the nodes reachable from from through resolved edges,
// in BFS order starting with from itself
func Reachable(g Graph, from NodeID) []NodeID {
	if g.Node(from) == nil {
		return nil
	}
	seen := map[NodeID]bool{from: true}
	order := []NodeID{from}
	for i := 0; i < len(order); i++ {
		for _, e := range g.Node(order[i]).Edges {
			if e.Target == NoNode || seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			order = append(order, e.Target)
		}
	}
	return order
}
