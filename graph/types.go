// ABOUTME: Core data types for the decoded object graph
// ABOUTME: Defines arena node IDs, nodes and the edges between them

package graph

import (
	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/memimage"
)

// NodeID indexes a node in the graph's arena
type NodeID int32

const (
	// NoNode is the target of an unresolved edge
	NoNode NodeID = -1

	// SuperRoot is the virtual node that dominates every root
	SuperRoot NodeID = -2
)

// Node is one object address in the graph. A node whose decode failed keeps
// its error in Err and has a nil Object.
type Node struct {
	ID     NodeID
	Addr   memimage.Address
	Object *decoder.Object
	Err    error

	// Depth is the BFS distance from the nearest root
	Depth int
	// Expanded is false when the node was included but its edges were not
	// followed (depth bound or failed decode)
	Expanded bool
	Edges    []Edge
}

// Failed reports whether the node could not be decoded
func (n *Node) Failed() bool { return n.Err != nil }

// Size is the decoded object's size, zero for failed nodes
func (n *Node) Size() uint64 {
	if n.Object == nil {
		return 0
	}
	return n.Object.Size
}

// TypeName is the object's most specific type name
func (n *Node) TypeName() string {
	if n.Object == nil {
		return ""
	}
	return n.Object.Identity()
}

// Edge is one pointer field. Unresolved edges have Target NoNode and carry
// the raw word in To and the reason in Reason.
type Edge struct {
	Field      string
	Target     NodeID
	To         memimage.Address
	Weak       bool
	Unresolved bool
	Reason     error
}
