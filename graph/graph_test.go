// ABOUTME: Tests for the graph arena and its queries
// ABOUTME: Validates node claiming, lookups, type queries and reachability

package graph

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/memimage"
)

func nodeAddr(i int) memimage.Address { return memimage.Address(0x1000 + i*0x10) }

// build creates nodes 0..len(sizes)-1 with the given sizes and edges
func build(sizes []uint64, edges map[NodeID][]NodeID, roots ...NodeID) *MemGraph {
	g := NewMemGraph()
	for i, s := range sizes {
		n, _ := g.AddNode(nodeAddr(i))
		n.Object = &decoder.Object{Address: n.Addr, TypeName: "FIXED_ARRAY_TYPE", Size: s}
		n.Expanded = true
	}
	for from := range sizes {
		for _, to := range edges[NodeID(from)] {
			g.AddEdge(NodeID(from), Edge{Field: "elements", Target: to, To: nodeAddr(int(to))})
		}
	}
	g.SetRoots(roots)
	return g
}

func TestAddNodeClaims(t *testing.T) {
	g := NewMemGraph()

	a, created := g.AddNode(0x1000)
	require.True(t, created)
	assert.Equal(t, NodeID(0), a.ID)

	b, created := g.AddNode(0x2000)
	require.True(t, created)
	assert.Equal(t, NodeID(1), b.ID)

	again, created := g.AddNode(0x1000)
	assert.False(t, created)
	assert.Same(t, a, again)
	assert.Equal(t, 2, g.NumNodes())

	got, ok := g.Lookup(0x2000)
	require.True(t, ok)
	assert.Same(t, b, got)
	_, ok = g.Lookup(0x3000)
	assert.False(t, ok)

	assert.Nil(t, g.Node(5))
	assert.Nil(t, g.Node(NoNode))
}

func TestEdgesAndRoots(t *testing.T) {
	g := build([]uint64{8, 8}, map[NodeID][]NodeID{0: {1}}, 0)
	g.AddEdge(1, Edge{Field: "external", Target: NoNode, To: 0x7ff00000, Unresolved: true, Reason: decoder.ErrUnmapped})

	assert.Equal(t, 2, g.NumEdges())
	assert.Equal(t, []NodeID{0}, g.Roots())

	roots := g.Roots()
	roots[0] = 1
	assert.Equal(t, []NodeID{0}, g.Roots(), "Roots returns a copy")

	var visited []NodeID
	g.ForEachNode(func(n *Node) { visited = append(visited, n.ID) })
	assert.Equal(t, []NodeID{0, 1}, visited)
}

func TestByTypeAndFailed(t *testing.T) {
	g := NewMemGraph()
	n0, _ := g.AddNode(0x1000)
	n0.Object = &decoder.Object{TypeName: "ODDBALL_TYPE", MapName: "NullMap", Size: 24}
	n1, _ := g.AddNode(0x2000)
	n1.Object = &decoder.Object{TypeName: "ODDBALL_TYPE", MapName: "UndefinedMap", Size: 24}
	n2, _ := g.AddNode(0x3000)
	n2.Object = &decoder.Object{TypeName: "FIXED_ARRAY_TYPE", Size: 16}
	n3, _ := g.AddNode(0x4000)
	n3.Err = errors.Wrap(decoder.ErrCorruptObject, "test")

	assert.Equal(t, []*Node{n0, n1}, g.ByType("ODDBALL_TYPE"))
	assert.Equal(t, []*Node{n0}, g.ByType("NullMap"))
	assert.Equal(t, []*Node{n2}, g.ByType("FIXED_ARRAY_TYPE"))
	assert.Empty(t, g.ByType("MAP_TYPE"))

	assert.Equal(t, []*Node{n3}, g.Failed())
	assert.True(t, n3.Failed())
	assert.Zero(t, n3.Size())
	assert.Empty(t, n3.TypeName())

	assert.Equal(t, []TypeCount{
		{Type: "FIXED_ARRAY_TYPE", Count: 1, Bytes: 16},
		{Type: "NullMap", Count: 1, Bytes: 24},
		{Type: "UndefinedMap", Count: 1, Bytes: 24},
	}, g.Histogram())
}

func TestReachable(t *testing.T) {
	g := build([]uint64{1, 1, 1, 1, 1}, map[NodeID][]NodeID{
		0: {1, 2},
		1: {3},
		2: {3, 0},
	}, 0)
	g.AddEdge(3, Edge{Field: "gone", Target: NoNode, Unresolved: true})

	assert.Equal(t, []NodeID{0, 1, 2, 3}, Reachable(g, 0))
	assert.Equal(t, []NodeID{3}, Reachable(g, 3))
	assert.Equal(t, []NodeID{4}, Reachable(g, 4))
	assert.Nil(t, Reachable(g, 9))
}

func TestBuildReverseEdges(t *testing.T) {
	g := build([]uint64{1, 1, 1}, map[NodeID][]NodeID{
		0: {1, 2},
		1: {2},
	}, 0)
	g.AddEdge(2, Edge{Field: "gone", Target: NoNode, Unresolved: true})

	reverse := BuildReverseEdges(g)
	require.Len(t, reverse, 3)
	assert.Empty(t, reverse[0])
	assert.Equal(t, []NodeID{0}, reverse[1])
	assert.Equal(t, []NodeID{0, 1}, reverse[2])
}
