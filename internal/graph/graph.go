// Package graph maintains the resource-allocation graph in shared memory.
//
// Vertices are process and resource nodes threaded into two chains hanging
// off the region header. Edges are directed and live in per-vertex
// outgoing-edge lists: a claim edge process→resource means "may request in
// future", an assignment edge resource→process means "currently granted to".
// For any (process, resource) pair at most one of the two directions exists
// at a time.
//
// Every operation here must run with the region's global lock held; the
// graph is never observed mid-transition by another participant.
package graph

import (
	"github.com/sfs-coordinator/internal/arena"
	"github.com/sfs-coordinator/internal/region"
	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// Graph is the allocation graph over one attached region.
type Graph struct {
	r *region.Region
	a *arena.Arena
}

// New creates a Graph over an initialised region.
func New(r *region.Region) *Graph {
	return &Graph{r: r, a: arena.New(r)}
}

// Arena returns the node arena, shared with the graph.
func (g *Graph) Arena() *arena.Arena { return g.a }

// AddProcess allocates a process node and prepends it to the process chain.
func (g *Graph) AddProcess(pid uint32) (arena.Process, error) {
	n, err := g.a.Alloc(arena.KindProcess)
	if err != nil {
		return arena.Process{}, err
	}

	p := n.AsProcess()
	p.SetPid(pid)
	p.SetNext(g.r.Processes())
	g.r.SetProcesses(p.Offset())
	return p, nil
}

// FindProcess scans the process chain for pid. Returns the nil node when
// absent.
func (g *Graph) FindProcess(pid uint32) arena.Process {
	for off := g.r.Processes(); off != region.NilOffset; {
		p := g.a.Node(off).AsProcess()
		if p.Pid() == pid {
			return p
		}
		off = p.Next()
	}
	return arena.Process{}
}

// FindResourceByName scans the resource chain for a byte-exact name match.
func (g *Graph) FindResourceByName(name string) arena.Resource {
	for off := g.r.Resources(); off != region.NilOffset; {
		res := g.a.Node(off).AsResource()
		if res.NameEquals(name) {
			return res
		}
		off = res.Next()
	}
	return arena.Resource{}
}

// FindResourceByHandle scans the resource chain for a granted handle token.
func (g *Graph) FindResourceByHandle(handle uint64) arena.Resource {
	if handle == 0 {
		return arena.Resource{}
	}
	for off := g.r.Resources(); off != region.NilOffset; {
		res := g.a.Node(off).AsResource()
		if res.Handle() == handle {
			return res
		}
		off = res.Next()
	}
	return arena.Resource{}
}

// EnsureResource finds the resource with the given name, creating and
// prepending it when absent. A fresh resource has no handle and no edges.
func (g *Graph) EnsureResource(name string) (arena.Resource, error) {
	if len(name) > arena.MaxNameBytes {
		return arena.Resource{}, apperrors.Wrap(apperrors.CodeNameTooLong,
			"resource name too long", nil)
	}

	if res := g.FindResourceByName(name); !res.IsNil() {
		return res, nil
	}

	n, err := g.a.Alloc(arena.KindResource)
	if err != nil {
		return arena.Resource{}, err
	}

	res := n.AsResource()
	if err := res.SetName(name); err != nil {
		g.a.Free(n)
		return arena.Resource{}, err
	}
	res.SetNext(g.r.Resources())
	g.r.SetResources(res.Offset())
	return res, nil
}

// AddEdge prepends an edge cell from's outgoing list pointing at to.
func (g *Graph) AddEdge(from, to arena.Node) error {
	n, err := g.a.Alloc(arena.KindEdgeCell)
	if err != nil {
		return err
	}

	cell := n.AsEdgeCell()
	cell.SetTarget(to.Offset())
	cell.SetNext(from.OutEdges())
	from.SetOutEdges(cell.Offset())
	return nil
}

// DeleteEdge unlinks and recycles the first edge cell in from's outgoing
// list that targets to. No-op when the edge is absent. Prepend plus
// first-match makes the choice deterministic.
func (g *Graph) DeleteEdge(from, to arena.Node) {
	var prev arena.EdgeCell
	for off := from.OutEdges(); off != region.NilOffset; {
		cell := g.a.Node(off).AsEdgeCell()
		if cell.Target() == to.Offset() {
			if prev.IsNil() {
				from.SetOutEdges(cell.Next())
			} else {
				prev.SetNext(cell.Next())
			}
			g.a.Free(cell.Node)
			return
		}
		prev = cell
		off = cell.Next()
	}
}

// HasEdge reports whether from has an outgoing edge to to.
func (g *Graph) HasEdge(from, to arena.Node) bool {
	for off := from.OutEdges(); off != region.NilOffset; {
		cell := g.a.Node(off).AsEdgeCell()
		if cell.Target() == to.Offset() {
			return true
		}
		off = cell.Next()
	}
	return false
}

// FirstEdgeTarget returns the target of from's first outgoing edge, or the
// nil offset when from has none. For a resource this is its current holder.
func (g *Graph) FirstEdgeTarget(from arena.Node) uint32 {
	head := from.OutEdges()
	if head == region.NilOffset {
		return region.NilOffset
	}
	return g.a.Node(head).AsEdgeCell().Target()
}

// ResourceHasIncomingFromAnyProcess scans every process's outgoing list for
// an edge into res. This is how lingering claim edges are detected when
// deciding whether a resource may be reclaimed.
func (g *Graph) ResourceHasIncomingFromAnyProcess(res arena.Resource) bool {
	for off := g.r.Processes(); off != region.NilOffset; {
		p := g.a.Node(off).AsProcess()
		if g.HasEdge(p.Node, res.Node) {
			return true
		}
		off = p.Next()
	}
	return false
}

// UnlinkProcess removes p from the process chain, recycles its outgoing
// edge cells, then recycles p itself.
func (g *Graph) UnlinkProcess(p arena.Process) {
	g.unlinkChain(p.Node, g.r.Processes, g.r.SetProcesses)
	g.freeOutEdges(p.Node)
	g.a.Free(p.Node)
}

// UnlinkResource removes res from the resource chain, recycles its outgoing
// edge cells, then recycles res itself.
func (g *Graph) UnlinkResource(res arena.Resource) {
	g.unlinkChain(res.Node, g.r.Resources, g.r.SetResources)
	g.freeOutEdges(res.Node)
	g.a.Free(res.Node)
}

func (g *Graph) unlinkChain(n arena.Node, head func() uint32, setHead func(uint32)) {
	if head() == n.Offset() {
		setHead(n.Next())
		return
	}
	for off := head(); off != region.NilOffset; {
		cur := g.a.Node(off)
		if cur.Next() == n.Offset() {
			cur.SetNext(n.Next())
			return
		}
		off = cur.Next()
	}
}

func (g *Graph) freeOutEdges(n arena.Node) {
	for off := n.OutEdges(); off != region.NilOffset; {
		cell := g.a.Node(off).AsEdgeCell()
		next := cell.Next()
		g.a.Free(cell.Node)
		off = next
	}
	n.SetOutEdges(region.NilOffset)
}

// ForEachResource iterates the resource chain. The next link is read before
// each callback, so the callback may unlink the resource it was handed.
func (g *Graph) ForEachResource(fn func(arena.Resource)) {
	g.eachResource(func(res arena.Resource) bool {
		fn(res)
		return true
	})
}

// eachProcess iterates the process chain. The next link is read before each
// callback.
func (g *Graph) eachProcess(fn func(arena.Process) bool) {
	for off := g.r.Processes(); off != region.NilOffset; {
		p := g.a.Node(off).AsProcess()
		next := p.Next()
		if !fn(p) {
			return
		}
		off = next
	}
}

// eachResource iterates the resource chain. The next link is read before
// each callback.
func (g *Graph) eachResource(fn func(arena.Resource) bool) {
	for off := g.r.Resources(); off != region.NilOffset; {
		res := g.a.Node(off).AsResource()
		next := res.Next()
		if !fn(res) {
			return
		}
		off = next
	}
}
