package arena

import (
	"bytes"
	"encoding/binary"
	"fmt"

	apperrors "github.com/sfs-coordinator/pkg/errors"
)

// Node kinds. One slot size serves every kind; the kind tag plus the typed
// wrappers below keep the roles from bleeding into each other.
const (
	// KindFree marks an unallocated or recycled slot.
	KindFree uint32 = iota
	// KindProcess is a participant vertex.
	KindProcess
	// KindResource is a file vertex.
	KindResource
	// KindEdgeCell is one cell of an outgoing-edge list.
	KindEdgeCell
)

// DFS colours stored in the state field of process and resource nodes.
const (
	// StateUnvisited means the node has not been reached yet.
	StateUnvisited uint32 = iota
	// StateVisited means the node is on the current DFS path.
	StateVisited
	// StateProcessed means the node and all its descendants are done.
	StateProcessed
)

// Node field offsets within a slot.
const (
	fldKind     = 0
	fldState    = 4
	fldNext     = 8
	fldOutEdges = 12
	fldData     = 16
	fldPid      = 20
	fldHandle   = 24
	fldNameLen  = 32
	fldName     = 36
)

const (
	// MaxNameLength bounds resource names, including the terminator the
	// on-disk layout reserves for it.
	MaxNameLength = 150

	// MaxNameBytes is the longest name payload that fits.
	MaxNameBytes = MaxNameLength - 1

	// NodeSize is the fixed slot size. Name field ends at 36+150=186,
	// padded up so consecutive slots stay 8-aligned.
	NodeSize = 192
)

// Node is a handle to one allocated slot. The zero Node (offset 0) is nil.
type Node struct {
	a   *Arena
	off uint32
}

// IsNil reports whether this is the nil node.
func (n Node) IsNil() bool { return n.off == 0 }

// Offset returns the node's region offset.
func (n Node) Offset() uint32 { return n.off }

// Kind returns the node's kind tag.
func (n Node) Kind() uint32 { return n.get32(fldKind) }

// State returns the DFS colour.
func (n Node) State() uint32 { return n.get32(fldState) }

// SetState updates the DFS colour.
func (n Node) SetState(s uint32) { n.put32(fldState, s) }

// Next returns the same-kind chain link (or free-list link).
func (n Node) Next() uint32 { return n.get32(fldNext) }

// SetNext updates the chain link.
func (n Node) SetNext(off uint32) { n.put32(fldNext, off) }

// OutEdges returns the head of the outgoing-edge list.
func (n Node) OutEdges() uint32 { return n.get32(fldOutEdges) }

// SetOutEdges updates the outgoing-edge list head.
func (n Node) SetOutEdges(off uint32) { n.put32(fldOutEdges, off) }

func (n Node) get32(fld uint32) uint32 {
	return binary.LittleEndian.Uint32(n.a.buf()[n.off+fld:])
}

func (n Node) put32(fld uint32, v uint32) {
	binary.LittleEndian.PutUint32(n.a.buf()[n.off+fld:], v)
}

func (n Node) get64(fld uint32) uint64 {
	return binary.LittleEndian.Uint64(n.a.buf()[n.off+fld:])
}

func (n Node) put64(fld uint32, v uint64) {
	binary.LittleEndian.PutUint64(n.a.buf()[n.off+fld:], v)
}

// AsProcess narrows the node. Panics on kind mismatch: a wrong narrow is a
// corrupted region or a bug, not a recoverable condition.
func (n Node) AsProcess() Process {
	n.mustKind(KindProcess)
	return Process{n}
}

// AsResource narrows the node.
func (n Node) AsResource() Resource {
	n.mustKind(KindResource)
	return Resource{n}
}

// AsEdgeCell narrows the node.
func (n Node) AsEdgeCell() EdgeCell {
	n.mustKind(KindEdgeCell)
	return EdgeCell{n}
}

func (n Node) mustKind(want uint32) {
	if got := n.Kind(); got != want {
		panic(fmt.Sprintf("arena: node %d has kind %d, want %d", n.off, got, want))
	}
}

// Process is a participant vertex.
type Process struct{ Node }

// Pid returns the participant identifier.
func (p Process) Pid() uint32 { return p.get32(fldPid) }

// SetPid records the participant identifier.
func (p Process) SetPid(pid uint32) { p.put32(fldPid, pid) }

// Resource is a file vertex.
type Resource struct{ Node }

// Handle returns the opaque grant token, zero when not granted.
func (r Resource) Handle() uint64 { return r.get64(fldHandle) }

// SetHandle records the grant token.
func (r Resource) SetHandle(h uint64) { r.put64(fldHandle, h) }

// Name returns the resource name.
func (r Resource) Name() string {
	n := r.get32(fldNameLen)
	if n > MaxNameBytes {
		n = MaxNameBytes
	}
	start := r.off + fldName
	return string(r.a.buf()[start : start+n])
}

// NameEquals compares the stored name byte-exactly without allocating.
func (r Resource) NameEquals(name string) bool {
	n := r.get32(fldNameLen)
	if n != uint32(len(name)) {
		return false
	}
	start := r.off + fldName
	return bytes.Equal(r.a.buf()[start:start+n], []byte(name))
}

// SetName records the resource name. Names longer than the slot's capacity
// are rejected.
func (r Resource) SetName(name string) error {
	if len(name) > MaxNameBytes {
		return apperrors.Wrap(apperrors.CodeNameTooLong, "resource name too long",
			fmt.Errorf("%d bytes, limit %d", len(name), MaxNameBytes))
	}
	start := r.off + fldName
	copy(r.a.buf()[start:], name)
	r.put32(fldNameLen, uint32(len(name)))
	return nil
}

// EdgeCell is one outgoing-edge list cell. Its next field threads the list,
// its target is the node the edge points at.
type EdgeCell struct{ Node }

// Target returns the edge target offset.
func (c EdgeCell) Target() uint32 { return c.get32(fldData) }

// SetTarget records the edge target offset.
func (c EdgeCell) SetTarget(off uint32) { c.put32(fldData, off) }
