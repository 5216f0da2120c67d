// ABOUTME: Utility functions for working with dominator trees
// ABOUTME: Provides tree depth, dominator chains and dominance checks
package graph

// DominatorDepth computes the depth of each node in the dominator tree.
// SuperRoot has depth 0 and roots depth 1.
func DominatorDepth(tree map[NodeID][]NodeID) map[NodeID]int {
	depth := map[NodeID]int{SuperRoot: 0}
	queue := []NodeID{SuperRoot}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, child := range tree[node] {
			depth[child] = depth[node] + 1
			queue = append(queue, child)
		}
	}
	return depth
}

// DominatorPath returns the dominator chain from node up to SuperRoot,
// both included. Unreachable nodes yield nil.
func DominatorPath(idom []NodeID, node NodeID) []NodeID {
	if node < 0 || int(node) >= len(idom) || idom[node] == NoNode {
		return nil
	}
	path := []NodeID{node}
	for cur := idom[node]; ; cur = idom[cur] {
		path = append(path, cur)
		if cur == SuperRoot {
			return path
		}
	}
}

// IsDominated reports whether dominator dominates node. Every node
// dominates itself and SuperRoot dominates every reachable node.
func IsDominated(idom []NodeID, node, dominator NodeID) bool {
	if node == dominator {
		return true
	}
	if node < 0 || int(node) >= len(idom) || idom[node] == NoNode {
		return false
	}
	for cur := idom[node]; ; cur = idom[cur] {
		if cur == dominator {
			return true
		}
		if cur == SuperRoot {
			return false
		}
	}
}
