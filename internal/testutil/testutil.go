// Package testutil provides shared helpers for testing against scratch
// coordination regions.
package testutil

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sfs-coordinator/internal/graph"
	"github.com/sfs-coordinator/internal/region"
)

var keySeq atomic.Int64

// NextRegionKey returns a process-unique region key, so parallel tests
// never share lock registries or regions by accident.
func NextRegionKey() int {
	return int(keySeq.Add(1)) + 70000
}

// NewRegion attaches a fresh, initialised in-memory region.
func NewRegion(t *testing.T) *region.Region {
	t.Helper()

	p := region.NewMemoryProvider()
	r, err := p.Attach(NextRegionKey(), region.DefaultSize)
	require.NoError(t, err)
	require.NoError(t, r.InitFresh())
	return r
}

// NewGraph builds a graph over a fresh region.
func NewGraph(t *testing.T) *graph.Graph {
	t.Helper()
	return graph.New(NewRegion(t))
}

// BuildClaims installs a process with claim edges on each named resource,
// creating resources as needed.
func BuildClaims(t *testing.T, g *graph.Graph, pid uint32, names ...string) {
	t.Helper()

	p, err := g.AddProcess(pid)
	require.NoError(t, err)
	for _, name := range names {
		res, err := g.EnsureResource(name)
		require.NoError(t, err)
		require.NoError(t, g.AddEdge(p.Node, res.Node))
	}
}

// Grant converts pid's claim on name into an assignment with the given
// handle token, bypassing the coordinator. For graph-level tests only.
func Grant(t *testing.T, g *graph.Graph, pid uint32, name string, handle uint64) {
	t.Helper()

	p := g.FindProcess(pid)
	require.False(t, p.IsNil(), "process %d not in graph", pid)
	res := g.FindResourceByName(name)
	require.False(t, res.IsNil(), "resource %s not in graph", name)

	g.DeleteEdge(p.Node, res.Node)
	require.NoError(t, g.AddEdge(res.Node, p.Node))
	res.SetHandle(handle)
}
