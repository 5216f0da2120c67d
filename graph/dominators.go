// ABOUTME: Implements Lengauer-Tarjan algorithm for computing dominators in directed graphs
// ABOUTME: Provides O(E log V) immediate dominators over the node arena
package graph

// Dominators computes the immediate dominator of every node. The result is
// indexed by NodeID: roots hold SuperRoot, nodes unreachable from the roots
// hold NoNode. Unresolved edges are ignored.
func Dominators(g Graph) []NodeID {
	n := g.NumNodes()
	super := n // arena index of the virtual super-root

	// Adjacency over the arena plus the super-root
	succ := make([][]int, n+1)
	pred := make([][]int, n+1)
	for _, r := range g.Roots() {
		succ[super] = append(succ[super], int(r))
		pred[r] = append(pred[r], super)
	}
	g.ForEachNode(func(node *Node) {
		for _, e := range node.Edges {
			if e.Target == NoNode {
				continue
			}
			succ[node.ID] = append(succ[node.ID], int(e.Target))
			pred[e.Target] = append(pred[e.Target], int(node.ID))
		}
	})

	// Per-vertex state, -1 means unset
	dfnum := make([]int, n+1)
	parent := make([]int, n+1)
	semi := make([]int, n+1)
	ancestor := make([]int, n+1)
	best := make([]int, n+1)
	samedom := make([]int, n+1)
	idom := make([]int, n+1)
	bucket := make([][]int, n+1)
	for i := range dfnum {
		dfnum[i] = -1
		ancestor[i] = -1
		idom[i] = -1
		best[i] = i
		samedom[i] = i
	}

	// Iterative DFS from the super-root numbers the spanning tree
	vertex := make([]int, 0, n+1)
	type frame struct{ v, next int }
	dfnum[super] = 0
	parent[super] = -1
	vertex = append(vertex, super)
	stack := []frame{{v: super}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(succ[top.v]) {
			stack = stack[:len(stack)-1]
			continue
		}
		w := succ[top.v][top.next]
		top.next++
		if dfnum[w] != -1 {
			continue
		}
		dfnum[w] = len(vertex)
		parent[w] = top.v
		vertex = append(vertex, w)
		stack = append(stack, frame{v: w})
	}
	for v := range semi {
		semi[v] = dfnum[v]
	}

	// Link-eval forest with path compression
	compress := func(v int) {
		var path []int
		for u := v; ancestor[ancestor[u]] != -1; u = ancestor[u] {
			path = append(path, u)
		}
		for i := len(path) - 1; i >= 0; i-- {
			u := path[i]
			a := ancestor[u]
			if semi[best[a]] < semi[best[u]] {
				best[u] = best[a]
			}
			ancestor[u] = ancestor[a]
		}
	}
	eval := func(v int) int {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return best[v]
	}

	for i := len(vertex) - 1; i > 0; i-- {
		w := vertex[i]
		p := parent[w]

		// Semidominators
		for _, v := range pred[w] {
			if dfnum[v] == -1 {
				continue
			}
			if u := eval(v); semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}
		s := vertex[semi[w]]
		bucket[s] = append(bucket[s], w)
		ancestor[w] = p

		// Implicit immediate dominators
		for _, v := range bucket[p] {
			u := eval(v)
			if semi[u] < semi[v] {
				samedom[v] = u
			} else {
				idom[v] = p
			}
		}
		bucket[p] = nil
	}

	// Explicit immediate dominators
	for i := 1; i < len(vertex); i++ {
		w := vertex[i]
		if samedom[w] != w {
			idom[w] = idom[samedom[w]]
		}
	}

	// Map back to node IDs
	out := make([]NodeID, n)
	for v := 0; v < n; v++ {
		switch {
		case dfnum[v] == -1:
			out[v] = NoNode
		case idom[v] == super:
			out[v] = SuperRoot
		default:
			out[v] = NodeID(idom[v])
		}
	}
	return out
}

// DominatorTree inverts immediate dominators into child lists keyed by
// dominator. SuperRoot is always present. Children are in ID order.
func DominatorTree(idom []NodeID) map[NodeID][]NodeID {
	tree := map[NodeID][]NodeID{SuperRoot: {}}
	for node, dom := range idom {
		// Unreachable
		if dom == NoNode {
			continue
		}
		if _, ok := tree[NodeID(node)]; !ok {
			tree[NodeID(node)] = []NodeID{}
		}
		tree[dom] = append(tree[dom], NodeID(node))
	}
	return tree
}
