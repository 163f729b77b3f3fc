package graph

import (
	"time"

	"github.com/sfs-coordinator/internal/arena"
	"github.com/sfs-coordinator/internal/region"
)

// Snapshot is a consistent copy of the graph taken under the global lock.
// It feeds the status command, the monitor service and the invariant checks
// in tests; nothing in it references region memory.
type Snapshot struct {
	TakenAt   time.Time          `json:"taken_at"`
	Processes []ProcessSnapshot  `json:"processes"`
	Resources []ResourceSnapshot `json:"resources"`
	Arena     ArenaSnapshot      `json:"arena"`
}

// ProcessSnapshot describes one participant.
type ProcessSnapshot struct {
	Pid    uint32   `json:"pid"`
	Claims []string `json:"claims"`
	Holds  []string `json:"holds"`
}

// ResourceSnapshot describes one resource.
type ResourceSnapshot struct {
	Name      string `json:"name"`
	Granted   bool   `json:"granted"`
	HolderPid uint32 `json:"holder_pid,omitempty"`
	Handle    uint64 `json:"handle,omitempty"`
}

// ArenaSnapshot describes slot usage.
type ArenaSnapshot struct {
	Capacity  int `json:"capacity"`
	Allocated int `json:"allocated"`
	FreeList  int `json:"free_list"`
	Live      int `json:"live"`
}

// TakeSnapshot copies the graph. Must be called with the global lock held;
// the timestamp is stamped by the given now function.
func (g *Graph) TakeSnapshot(now func() time.Time) *Snapshot {
	snap := &Snapshot{
		TakenAt: now(),
		Arena: ArenaSnapshot{
			Capacity:  g.a.Capacity(),
			Allocated: g.a.Allocated(),
			FreeList:  g.a.FreeCount(),
			Live:      g.a.Live(),
		},
	}

	holders := make(map[uint32]uint32) // resource offset -> holder pid

	g.eachResource(func(res arena.Resource) bool {
		rs := ResourceSnapshot{
			Name:    res.Name(),
			Granted: res.OutEdges() != region.NilOffset,
			Handle:  res.Handle(),
		}
		if rs.Granted {
			holder := g.a.Node(g.FirstEdgeTarget(res.Node))
			if holder.Kind() == arena.KindProcess {
				rs.HolderPid = holder.AsProcess().Pid()
				holders[res.Offset()] = rs.HolderPid
			}
		}
		snap.Resources = append(snap.Resources, rs)
		return true
	})

	g.eachProcess(func(p arena.Process) bool {
		ps := ProcessSnapshot{Pid: p.Pid()}
		for off := p.OutEdges(); off != region.NilOffset; {
			cell := g.a.Node(off).AsEdgeCell()
			target := g.a.Node(cell.Target())
			if target.Kind() == arena.KindResource {
				ps.Claims = append(ps.Claims, target.AsResource().Name())
			}
			off = cell.Next()
		}
		g.eachResource(func(res arena.Resource) bool {
			if holders[res.Offset()] == p.Pid() && res.OutEdges() != region.NilOffset {
				ps.Holds = append(ps.Holds, res.Name())
			}
			return true
		})
		snap.Processes = append(snap.Processes, ps)
		return true
	})

	return snap
}
