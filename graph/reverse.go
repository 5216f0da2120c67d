// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps nodes to their referrers for paths-to-roots and dominators

package graph

// ReverseEdges holds, for each node ID, the nodes that point to it
type ReverseEdges [][]NodeID

// BuildReverseEdges creates the reverse adjacency of g, skipping
// unresolved edges. Referrers appear in ID order.
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges, g.NumNodes())
	g.ForEachNode(func(n *Node) {
		for _, e := range n.Edges {
			if e.Target != NoNode {
				reverse[e.Target] = append(reverse[e.Target], n.ID)
			}
		}
	})
	return reverse
}
