// ABOUTME: JSON views of graphs, objects and frames printed by the commands
// ABOUTME: Keeps presentation types out of the library packages

package main

import (
	"encoding/hex"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/prateek/heapgrok/decoder"
	"github.com/prateek/heapgrok/frames"
	"github.com/prateek/heapgrok/graph"
	"github.com/prateek/heapgrok/memimage"
	"github.com/prateek/heapgrok/space"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type imageView struct {
	WordSize uint64 `json:"word_size"`
	Segments int    `json:"segments"`
	Bytes    uint64 `json:"bytes"`
	Human    string `json:"human"`
}

func viewImage(im *memimage.Image) imageView {
	return imageView{
		WordSize: im.WordSize(),
		Segments: len(im.Segments()),
		Bytes:    im.Size(),
		Human:    humanize.IBytes(im.Size()),
	}
}

type failedView struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

type retainedView struct {
	Address  string `json:"address"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Size     uint64 `json:"size"`
	Retained uint64 `json:"retained"`
	Human    string `json:"human"`
}

type inspectReport struct {
	Image      imageView         `json:"image"`
	Roots      int               `json:"roots"`
	Nodes      int               `json:"nodes"`
	Edges      int               `json:"edges"`
	Unresolved int               `json:"unresolved_edges"`
	Partial    bool              `json:"partial,omitempty"`
	Failed     []failedView      `json:"failed,omitempty"`
	Types      []graph.TypeCount `json:"types"`
	Top        []retainedView    `json:"top_retained,omitempty"`
}

func buildReport(im *memimage.Image, g *graph.MemGraph, top int) inspectReport {
	rep := inspectReport{
		Image: viewImage(im),
		Roots: len(g.Roots()),
		Nodes: g.NumNodes(),
		Edges: g.NumEdges(),
		Types: g.Histogram(),
	}
	g.ForEachNode(func(n *graph.Node) {
		for _, e := range n.Edges {
			if e.Unresolved {
				rep.Unresolved++
			}
		}
	})
	for _, n := range g.Failed() {
		rep.Failed = append(rep.Failed, failedView{Address: n.Addr.String(), Error: n.Err.Error()})
	}
	if top > 0 {
		rep.Top = topRetained(g, top)
	}
	return rep
}

func topRetained(g *graph.MemGraph, top int) []retainedView {
	sizes := graph.RetainedSize(g)
	ids := make([]graph.NodeID, 0, len(sizes))
	for id := range sizes {
		if id >= 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if sizes[ids[i]] != sizes[ids[j]] {
			return sizes[ids[i]] > sizes[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > top {
		ids = ids[:top]
	}
	out := make([]retainedView, 0, len(ids))
	for _, id := range ids {
		n := g.Node(id)
		v := retainedView{
			Address:  n.Addr.String(),
			Type:     n.TypeName(),
			Size:     n.Size(),
			Retained: sizes[id],
			Human:    humanize.IBytes(sizes[id]),
		}
		if n.Object != nil {
			v.Name = n.Object.KnownName
		}
		out = append(out, v)
	}
	return out
}

type locationView struct {
	Address string `json:"address"`
	Space   string `json:"space"`
	Offset  string `json:"offset"`
	Mapped  bool   `json:"mapped"`
}

func viewLocation(addr memimage.Address, loc space.Location) locationView {
	return locationView{
		Address: addr.String(),
		Space:   loc.Space,
		Offset:  memimage.Address(loc.Offset).String(),
		Mapped:  loc.Mapped,
	}
}

type fieldView struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Int    *int64 `json:"int,omitempty"`
	Ref    string `json:"ref,omitempty"`
	Weak   bool   `json:"weak,omitempty"`
	Raw    string `json:"raw,omitempty"`
	Word   string `json:"word,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type objectView struct {
	Address   string      `json:"address"`
	Space     string      `json:"space"`
	Offset    string      `json:"offset"`
	Type      string      `json:"type"`
	Map       string      `json:"map"`
	MapName   string      `json:"map_name,omitempty"`
	KnownName string      `json:"known_name,omitempty"`
	Category  string      `json:"category"`
	Layout    string      `json:"layout"`
	Size      uint64      `json:"size"`
	Fields    []fieldView `json:"fields"`
}

func viewObject(o *decoder.Object) objectView {
	v := objectView{
		Address:   o.Address.String(),
		Space:     o.Space,
		Offset:    memimage.Address(o.Offset).String(),
		Type:      o.TypeName,
		Map:       o.Map.String(),
		MapName:   o.MapName,
		KnownName: o.KnownName,
		Category:  o.Category.String(),
		Layout:    o.Layout,
		Size:      o.Size,
		Fields:    make([]fieldView, 0, len(o.Fields)),
	}
	for _, f := range o.Fields {
		fv := fieldView{Name: f.Name, Kind: f.Kind.String()}
		switch f.Kind {
		case decoder.KindSmallInteger:
			n := f.Int
			fv.Int = &n
		case decoder.KindReference:
			fv.Ref, fv.Weak = f.Addr.String(), f.Weak
		case decoder.KindRawBytes:
			fv.Raw = hex.EncodeToString(f.Raw)
		case decoder.KindUnresolved:
			fv.Word = memimage.Address(f.Word).String()
			if f.Reason != nil {
				fv.Reason = f.Reason.Error()
			}
		}
		v.Fields = append(v.Fields, fv)
	}
	return v
}

type frameView struct {
	Marker string `json:"marker"`
	FP     string `json:"fp"`
	PC     string `json:"pc"`
	Label  string `json:"label,omitempty"`
	Error  string `json:"error,omitempty"`
}

func viewFrames(annotated []frames.Annotated) []frameView {
	out := make([]frameView, 0, len(annotated))
	for _, a := range annotated {
		v := frameView{
			Marker: memimage.Address(a.Marker).String(),
			FP:     a.FP.String(),
			PC:     a.PC.String(),
			Label:  a.Label,
		}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		out = append(out, v)
	}
	return out
}
