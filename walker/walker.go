// ABOUTME: Breadth-first graph walker over decoded heap objects
// ABOUTME: Decodes each frontier level in parallel and expands it in order

// Package walker builds an object graph by walking references from a set of
// roots. Each BFS level is decoded on a bounded worker pool; expansion of a
// level is sequential in frontier order so node IDs and edge order are the
// same on every run.
package walker

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/graph"
	"github.com/prateek/heapgrok/memimage"
)

// Policy decides what a corrupt object does to the traversal
type Policy int

const (
	// Continue records the failed node and keeps walking
	Continue Policy = iota
	// Abort stops the traversal at the first corrupt object
	Abort
)

func (p Policy) String() string {
	switch p {
	case Continue:
		return "continue"
	case Abort:
		return "abort"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses "continue" or "abort"
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return Continue, nil
	case "abort":
		return Abort, nil
	}
	return Continue, errors.Errorf("unknown corrupt object policy %q", s)
}

// Option configures a Walker
type Option func(*Walker)

// WithMaxDepth bounds expansion. Nodes at depth d are included but not
// expanded. A negative depth means unbounded.
func WithMaxDepth(d int) Option {
	return func(w *Walker) { w.maxDepth = d }
}

// WithWorkers sets the size of the decode pool
func WithWorkers(n int) Option {
	return func(w *Walker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithPolicy sets the corrupt object policy
func WithPolicy(p Policy) Option {
	return func(w *Walker) { w.policy = p }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(w *Walker) { w.log = l }
}

// WithSkipFields drops edges for fields whose names match any of the glob
// patterns, for example "map" or "entry[*].details"
func WithSkipFields(patterns ...string) Option {
	return func(w *Walker) { w.skipPatterns = append(w.skipPatterns, patterns...) }
}

// Stats counts work done across traversals
type Stats struct {
	Traversals uint64
	Levels     uint64
	Decoded    uint64
	Failed     uint64
}

// Walker traverses object graphs. One Walker may run several traversals;
// each gets a fresh decode cache.
type Walker struct {
	dec          *decoder.Decoder
	maxDepth     int
	workers      int
	policy       Policy
	log          *zap.Logger
	skipPatterns []string
	skip         []glob.Glob

	traversals atomic.Uint64
	levels     atomic.Uint64
	decoded    atomic.Uint64
	failed     atomic.Uint64
}

// New creates a walker decoding with dec
func New(dec *decoder.Decoder, opts ...Option) (*Walker, error) {
	w := &Walker{
		dec:      dec,
		maxDepth: -1,
		workers:  runtime.GOMAXPROCS(0),
		policy:   Continue,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, p := range w.skipPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "skip field pattern %q", p)
		}
		w.skip = append(w.skip, g)
	}
	return w, nil
}

// Stats returns a snapshot of the counters
func (w *Walker) Stats() Stats {
	return Stats{
		Traversals: w.traversals.Load(),
		Levels:     w.levels.Load(),
		Decoded:    w.decoded.Load(),
		Failed:     w.failed.Load(),
	}
}

func (w *Walker) skipped(field string) bool {
	for _, g := range w.skip {
		if g.Match(field) {
			return true
		}
	}
	return false
}

// Traverse walks from the given tagged root words. Small integer roots are
// ignored. On cancellation the partial graph is returned with ctx.Err();
// under the Abort policy the partial graph is returned with the first
// corrupt object's error. Map words are edges like any other field, so maps
// become nodes unless WithSkipFields("map") is set; a cycle of two arrays
// only yields two nodes with that option.
func (w *Walker) Traverse(ctx context.Context, roots []uint64) (*graph.MemGraph, error) {
	w.traversals.Inc()
	dec := w.dec.Clone()
	tagging := dec.Tagging()
	g := graph.NewMemGraph()

	pool, err := ants.NewPool(w.workers, ants.WithOptions(ants.Options{
		PanicHandler: func(v interface{}) {
			w.log.Error("decode task panicked", zap.Any("panic", v))
		},
	}))
	if err != nil {
		return nil, errors.Wrap(err, "create decode pool")
	}
	defer pool.Release()

	var frontier []*graph.Node
	var rootIDs []graph.NodeID
	for _, word := range roots {
		if tagging.IsSmi(word) {
			w.log.Warn("ignoring small integer root", zap.Uint64("word", word))
			continue
		}
		n, created := g.AddNode(tagging.Untag(word))
		if !created {
			continue
		}
		frontier = append(frontier, n)
		rootIDs = append(rootIDs, n.ID)
	}
	g.SetRoots(rootIDs)

	for depth := 0; len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			w.log.Info("traversal cancelled", zap.Int("depth", depth), zap.Int("nodes", g.NumNodes()))
			return g, err
		}
		w.levels.Inc()
		w.log.Debug("decoding level", zap.Int("depth", depth), zap.Int("frontier", len(frontier)))
		w.decodeLevel(pool, dec, frontier)

		var next []*graph.Node
		for _, n := range frontier {
			if n.Err != nil {
				w.failed.Inc()
				w.log.Debug("corrupt object", zap.Stringer("addr", n.Addr), zap.Error(n.Err))
				if w.policy == Abort {
					return g, errors.Wrapf(n.Err, "traversal aborted at depth %d", depth)
				}
				continue
			}
			if w.maxDepth >= 0 && n.Depth >= w.maxDepth {
				continue
			}
			next = w.expand(g, n, next)
		}
		frontier = next
	}

	w.log.Info("traversal complete",
		zap.Int("nodes", g.NumNodes()),
		zap.Int("edges", g.NumEdges()),
		zap.Int("failed", len(g.Failed())),
		zap.String("bytes", humanize.IBytes(totalSize(g))),
	)
	return g, nil
}

func (w *Walker) decodeLevel(pool *ants.Pool, dec *decoder.Decoder, frontier []*graph.Node) {
	var wg sync.WaitGroup
	for _, n := range frontier {
		n := n
		task := func() {
			defer wg.Done()
			n.Object, n.Err = dec.DecodeAddress(n.Addr)
			w.decoded.Inc()
		}
		wg.Add(1)
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
}

// expand records n's edges and returns next with newly claimed children
func (w *Walker) expand(g *graph.MemGraph, n *graph.Node, next []*graph.Node) []*graph.Node {
	n.Expanded = true
	for _, f := range n.Object.Fields {
		if w.skipped(f.Name) {
			continue
		}
		switch f.Kind {
		case decoder.KindReference:
			child, created := g.AddNode(f.Addr)
			if created {
				child.Depth = n.Depth + 1
				next = append(next, child)
			}
			g.AddEdge(n.ID, graph.Edge{Field: f.Name, Target: child.ID, To: f.Addr, Weak: f.Weak})
		case decoder.KindUnresolved:
			if errors.Is(f.Reason, decoder.ErrLengthLimit) {
				continue
			}
			g.AddEdge(n.ID, graph.Edge{
				Field:      f.Name,
				Target:     graph.NoNode,
				To:         memimage.Address(f.Word),
				Unresolved: true,
				Reason:     f.Reason,
			})
		}
	}
	return next
}

func totalSize(g *graph.MemGraph) uint64 {
	var total uint64
	g.ForEachNode(func(n *graph.Node) { total += n.Size() })
	return total
}
