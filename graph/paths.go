// ABOUTME: BFS algorithm for finding paths from objects to traversal roots
// ABOUTME: Implements K-shortest paths with cycle detection

package graph

// Path is a sequence of node IDs from a target back to a root
type Path struct {
	IDs []NodeID
}

// PathsToRoots finds up to maxPaths shortest paths from a node to the roots
// by walking referrers breadth first
func PathsToRoots(g Graph, from NodeID, maxPaths int) []Path {
	if maxPaths <= 0 || g.Node(from) == nil {
		return nil
	}

	// Build reverse edges
	reverse := BuildReverseEdges(g)

	// Get roots
	rootSet := make(map[NodeID]bool)
	for _, id := range g.Roots() {
		rootSet[id] = true
	}
	if rootSet[from] {
		return []Path{{IDs: []NodeID{from}}}
	}

	// BFS state
	type searchNode struct {
		id   NodeID
		path []NodeID
	}

	var result []Path
	queue := []searchNode{{id: from, path: []NodeID{from}}}
	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range dedupe(reverse[node.id]) {
			// Skip cycles
			if contains(node.path, referrer) {
				continue
			}
			path := make([]NodeID, len(node.path)+1)
			copy(path, node.path)
			path[len(node.path)] = referrer

			// Found a root
			if rootSet[referrer] {
				result = append(result, Path{IDs: path})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{id: referrer, path: path})
		}
	}
	return result
}

func contains(ids []NodeID, id NodeID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// dedupe drops repeats from an ID-ordered referrer list
func dedupe(ids []NodeID) []NodeID {
	if len(ids) < 2 {
		return ids
	}
	out := ids[:1:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
