package graph

import (
	"github.com/sfs-coordinator/internal/arena"
	"github.com/sfs-coordinator/internal/region"
)

// HasCycle reports whether the current edge set contains any directed cycle.
// Claim edges count the same as assignment edges: a cycle through a claim is
// a state that could deadlock once the claim turns into a request, which is
// exactly what the avoidance policy must refuse.
//
// Three-colour DFS: unvisited, visited (on the current path), processed.
// Reaching a visited node is a back edge. Runs under the global lock on a
// consistent snapshot. The walk is iterative; the graph lives in a byte
// slab and an explicit frame stack over offsets keeps the traversal free of
// per-node allocation.
func (g *Graph) HasCycle() bool {
	g.resetStates()

	cyclic := false
	visit := func(root arena.Node) bool {
		return g.visitFrom(root)
	}

	g.eachProcess(func(p arena.Process) bool {
		if p.State() == arena.StateUnvisited && visit(p.Node) {
			cyclic = true
			return false
		}
		return true
	})
	if cyclic {
		return true
	}

	g.eachResource(func(res arena.Resource) bool {
		if res.State() == arena.StateUnvisited && visit(res.Node) {
			cyclic = true
			return false
		}
		return true
	})
	return cyclic
}

// frame is one suspended step of the DFS: a node and the next edge cell of
// its outgoing list still to examine.
type frame struct {
	node uint32
	edge uint32
}

func (g *Graph) visitFrom(root arena.Node) bool {
	root.SetState(arena.StateVisited)
	stack := []frame{{node: root.Offset(), edge: root.OutEdges()}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.edge == region.NilOffset {
			g.a.Node(top.node).SetState(arena.StateProcessed)
			stack = stack[:len(stack)-1]
			continue
		}

		cell := g.a.Node(top.edge).AsEdgeCell()
		top.edge = cell.Next()

		target := g.a.Node(cell.Target())
		switch target.State() {
		case arena.StateUnvisited:
			target.SetState(arena.StateVisited)
			stack = append(stack, frame{node: target.Offset(), edge: target.OutEdges()})
		case arena.StateVisited:
			// Back edge: the target is on the current path.
			return true
		case arena.StateProcessed:
			// Fully explored subtree, nothing to find there.
		}
	}
	return false
}

func (g *Graph) resetStates() {
	g.eachProcess(func(p arena.Process) bool {
		p.SetState(arena.StateUnvisited)
		return true
	})
	g.eachResource(func(res arena.Resource) bool {
		res.SetState(arena.StateUnvisited)
		return true
	})
}
