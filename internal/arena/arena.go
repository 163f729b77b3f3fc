// Package arena produces and recycles the fixed-size node slots that every
// graph structure is built from.
//
// Slots come out of the shared region's bytes after the header: a bump
// pointer hands out fresh slots, a LIFO free list threaded through the
// region header recycles released ones. All slots are the same size, so
// external fragmentation cannot occur and offsets stay stable for the
// region's lifetime. There is no compaction.
package arena

import (
	"fmt"

	"github.com/sfs-coordinator/internal/region"
	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// Arena allocates node slots out of one attached region. All methods must be
// called with the region's global lock held.
type Arena struct {
	r *region.Region
}

// New creates an Arena over an initialised region.
func New(r *region.Region) *Arena {
	return &Arena{r: r}
}

// Region returns the underlying region.
func (a *Arena) Region() *region.Region { return a.r }

func (a *Arena) buf() []byte { return a.r.Bytes() }

// Node returns a handle to the slot at off. Offset 0 is the nil node.
func (a *Arena) Node(off uint32) Node {
	return Node{a: a, off: off}
}

// Alloc returns a zeroed slot tagged with kind. Recycled slots are reused in
// LIFO order before the bump pointer advances. Exceeding the region bound
// fails with CodeOutOfArena and leaves the arena unchanged.
func (a *Arena) Alloc(kind uint32) (Node, error) {
	var off uint32

	if head := a.r.OpenNodes(); head != region.NilOffset {
		off = head
		a.r.SetOpenNodes(a.Node(head).Next())
	} else {
		off = a.r.NextFree()
		if off+NodeSize > a.r.Size() {
			return Node{}, apperrors.Wrap(apperrors.CodeOutOfArena, "arena exhausted",
				fmt.Errorf("next slot at %d exceeds region of %d bytes", off, a.r.Size()))
		}
		a.r.SetNextFree(off + NodeSize)
	}

	n := a.Node(off)
	a.zero(off)
	n.put32(fldKind, kind)
	return n, nil
}

// Free zeroes a slot and pushes it on the free list. The slot stays part of
// the region; it is never returned to the OS.
func (a *Arena) Free(n Node) {
	a.zero(n.off)
	n.SetNext(a.r.OpenNodes())
	a.r.SetOpenNodes(n.off)
}

func (a *Arena) zero(off uint32) {
	b := a.buf()[off : off+NodeSize]
	for i := range b {
		b[i] = 0
	}
}

// Capacity returns how many slots the region can ever hold.
func (a *Arena) Capacity() int {
	return int((a.r.Size() - region.HeaderSize) / NodeSize)
}

// Allocated returns how many slots the bump pointer has handed out, live or
// recycled.
func (a *Arena) Allocated() int {
	return int((a.r.NextFree() - region.HeaderSize) / NodeSize)
}

// FreeCount walks the free list and returns its length.
func (a *Arena) FreeCount() int {
	n := 0
	for off := a.r.OpenNodes(); off != region.NilOffset; off = a.Node(off).Next() {
		n++
	}
	return n
}

// Live returns the number of slots currently in use.
func (a *Arena) Live() int {
	return a.Allocated() - a.FreeCount()
}
