// ABOUTME: Calculates retained memory sizes using dominator tree analysis
// ABOUTME: Provides computation of bytes kept alive by each decoded object
package graph

// RetainedSize computes the retained size of every node reachable from the
// roots: its own size plus the sizes of all nodes it dominates. Node size is
// the decoded object's size; failed nodes count as zero.
func RetainedSize(g Graph) map[NodeID]uint64 {
	idom := Dominators(g)
	return retained(g, idom, DominatorTree(idom))
}

// RetainedSizeSubsets computes retained sizes for the given nodes only.
// Nodes that are unknown or unreachable are left out.
func RetainedSizeSubsets(g Graph, targets []NodeID) map[NodeID]uint64 {
	result := make(map[NodeID]uint64)
	if len(targets) == 0 {
		return result
	}
	all := RetainedSize(g)
	for _, id := range targets {
		if size, ok := all[id]; ok {
			result[id] = size
		}
	}
	return result
}

func retained(g Graph, idom []NodeID, tree map[NodeID][]NodeID) map[NodeID]uint64 {
	// BFS order over the tree puts every dominator before what it dominates
	order := make([]NodeID, 0, len(tree))
	queue := []NodeID{SuperRoot}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		queue = append(queue, tree[node]...)
	}

	sizes := make(map[NodeID]uint64, len(order))
	for _, id := range order[1:] {
		sizes[id] = g.Node(id).Size()
	}
	for i := len(order) - 1; i > 0; i-- {
		id := order[i]
		if dom := idom[id]; dom != SuperRoot {
			sizes[dom] += sizes[id]
		}
	}
	return sizes
}
