package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCycle_EmptyGraph(t *testing.T) {
	g := newTestGraph(t)
	assert.False(t, g.HasCycle())
}

func TestHasCycle_ClaimsOnly(t *testing.T) {
	g := newTestGraph(t)

	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)

	// Claims alone never cycle: all edges run process→resource.
	require.NoError(t, g.AddEdge(p1.Node, ra.Node))
	require.NoError(t, g.AddEdge(p1.Node, rb.Node))
	require.NoError(t, g.AddEdge(p2.Node, ra.Node))
	require.NoError(t, g.AddEdge(p2.Node, rb.Node))

	assert.False(t, g.HasCycle())
}

func TestHasCycle_TwoNodeCycle(t *testing.T) {
	g := newTestGraph(t)

	p, err := g.AddProcess(100)
	require.NoError(t, err)
	r, err := g.EnsureResource("a")
	require.NoError(t, err)

	// P claims a while a is assigned to P: the smallest possible cycle.
	require.NoError(t, g.AddEdge(p.Node, r.Node))
	require.NoError(t, g.AddEdge(r.Node, p.Node))

	assert.True(t, g.HasCycle())
}

func TestHasCycle_ClassicConflict(t *testing.T) {
	g := newTestGraph(t)

	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)

	// a held by P1, b held by P2, P1 still claims b, P2 still claims a:
	// a→P1→b→P2→a.
	require.NoError(t, g.AddEdge(ra.Node, p1.Node))
	require.NoError(t, g.AddEdge(p1.Node, rb.Node))
	require.NoError(t, g.AddEdge(rb.Node, p2.Node))
	require.NoError(t, g.AddEdge(p2.Node, ra.Node))

	assert.True(t, g.HasCycle())

	// Breaking any one edge of the ring breaks the cycle.
	g.DeleteEdge(p2.Node, ra.Node)
	assert.False(t, g.HasCycle())
}

func TestHasCycle_ChainIsAcyclic(t *testing.T) {
	g := newTestGraph(t)

	// a→P1→b→P2→c: a path, not a ring.
	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)
	rc, err := g.EnsureResource("c")
	require.NoError(t, err)

	require.NoError(t, g.AddEdge(ra.Node, p1.Node))
	require.NoError(t, g.AddEdge(p1.Node, rb.Node))
	require.NoError(t, g.AddEdge(rb.Node, p2.Node))
	require.NoError(t, g.AddEdge(p2.Node, rc.Node))

	assert.False(t, g.HasCycle())
}

func TestHasCycle_ThreeParticipantRing(t *testing.T) {
	g := newTestGraph(t)

	// The {a,b} {b,c} {c,a} declaration pattern, with each participant
	// holding its first file and claiming its second.
	pids := [3]uint32{100, 200, 300}
	names := []string{"a", "b", "c"}

	for i, pid := range pids {
		p, err := g.AddProcess(pid)
		require.NoError(t, err)
		held, err := g.EnsureResource(names[i])
		require.NoError(t, err)
		claimed, err := g.EnsureResource(names[(i+1)%3])
		require.NoError(t, err)

		require.NoError(t, g.AddEdge(held.Node, p.Node))
		require.NoError(t, g.AddEdge(p.Node, claimed.Node))
	}

	assert.True(t, g.HasCycle())
}

func TestHasCycle_DisconnectedComponents(t *testing.T) {
	g := newTestGraph(t)

	// Component 1: acyclic. Component 2: a ring. The walk must reach both.
	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(ra.Node, p1.Node))

	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(p2.Node, rb.Node))
	require.NoError(t, g.AddEdge(rb.Node, p2.Node))

	assert.True(t, g.HasCycle())
}

func TestHasCycle_DiamondIsAcyclic(t *testing.T) {
	g := newTestGraph(t)

	// Two claim paths converging on the same resource re-enter a processed
	// node; that must not be mistaken for a back edge.
	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)
	rshared, err := g.EnsureResource("shared")
	require.NoError(t, err)

	require.NoError(t, g.AddEdge(ra.Node, p1.Node))
	require.NoError(t, g.AddEdge(rb.Node, p2.Node))
	require.NoError(t, g.AddEdge(p1.Node, rshared.Node))
	require.NoError(t, g.AddEdge(p2.Node, rshared.Node))

	assert.False(t, g.HasCycle())
	// The predicate is repeatable: colours reset on every run.
	assert.False(t, g.HasCycle())
}

func TestHasCycle_LongChain(t *testing.T) {
	g := newTestGraph(t)

	// A deep alternating chain exercises the explicit stack.
	prevHolder, err := g.AddProcess(1)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		r, err := g.EnsureResource(fmt.Sprintf("f%d", i))
		require.NoError(t, err)
		p, err := g.AddProcess(uint32(100 + i))
		require.NoError(t, err)

		require.NoError(t, g.AddEdge(prevHolder.Node, r.Node))
		require.NoError(t, g.AddEdge(r.Node, p.Node))
		prevHolder = p
	}
	assert.False(t, g.HasCycle())

	// Close the ring: the last process claims the first resource.
	first := g.FindResourceByName("f0")
	require.False(t, first.IsNil())
	require.NoError(t, g.AddEdge(prevHolder.Node, first.Node))
	assert.True(t, g.HasCycle())
}

func TestTakeSnapshot(t *testing.T) {
	g := newTestGraph(t)

	p1, err := g.AddProcess(100)
	require.NoError(t, err)
	p2, err := g.AddProcess(200)
	require.NoError(t, err)
	ra, err := g.EnsureResource("a")
	require.NoError(t, err)
	rb, err := g.EnsureResource("b")
	require.NoError(t, err)

	// P1 holds a (token 7), P1 claims b, P2 claims a.
	require.NoError(t, g.AddEdge(ra.Node, p1.Node))
	ra.SetHandle(7)
	require.NoError(t, g.AddEdge(p1.Node, rb.Node))
	require.NoError(t, g.AddEdge(p2.Node, ra.Node))

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	snap := g.TakeSnapshot(func() time.Time { return now })

	require.Len(t, snap.Processes, 2)
	require.Len(t, snap.Resources, 2)
	assert.Equal(t, now, snap.TakenAt)

	byPid := map[uint32]ProcessSnapshot{}
	for _, ps := range snap.Processes {
		byPid[ps.Pid] = ps
	}
	assert.Equal(t, []string{"b"}, byPid[100].Claims)
	assert.Equal(t, []string{"a"}, byPid[100].Holds)
	assert.Equal(t, []string{"a"}, byPid[200].Claims)
	assert.Empty(t, byPid[200].Holds)

	byName := map[string]ResourceSnapshot{}
	for _, rs := range snap.Resources {
		byName[rs.Name] = rs
	}
	assert.True(t, byName["a"].Granted)
	assert.Equal(t, uint32(100), byName["a"].HolderPid)
	assert.Equal(t, uint64(7), byName["a"].Handle)
	assert.False(t, byName["b"].Granted)

	assert.Equal(t, snap.Arena.Allocated-snap.Arena.FreeList, snap.Arena.Live)
	assert.Equal(t, 7, snap.Arena.Live) // 2 procs + 2 resources + 3 edges
}
