// Package region manages the fixed-size process-shared memory window that
// holds all graph state for the coordination service.
//
// Every link field stored inside a region is an offset relative to the region
// base, never an absolute pointer, so cooperating processes may map the same
// region at different addresses. Offset 0 addresses the header and doubles as
// the nil offset.
package region

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	apperrors "github.com/sfs-coordinator/pkg/errors"
)

const (
	// Magic identifies an initialised region ("SFSR").
	Magic uint32 = 0x52534653

	// Version is the current header layout version.
	Version uint32 = 1

	// HeaderSize is the number of bytes reserved for the header at offset 0.
	HeaderSize = 64

	// MinSize is the smallest allowed region.
	MinSize = 32 * 1024

	// DefaultSize is the default region size.
	DefaultSize = 32 * 1024
)

// Header field offsets. The mutex and condition words are exported so the
// ipc package can address them directly.
const (
	offMagic     = 0
	offVersion   = 4
	offSize      = 8
	offNextFree  = 12
	offOpenNodes = 16
	offProcesses = 20
	offResources = 24
	offHandleSeq = 32

	// OffMutexWord is the futex word backing the cross-process mutex.
	OffMutexWord = 40
	// OffCondSeq is the futex sequence word backing the condition variable.
	OffCondSeq = 44
	// OffCondWaiters counts blocked waiters on the condition variable.
	OffCondWaiters = 48
)

// NilOffset is the null link value.
const NilOffset uint32 = 0

// Region is one attached shared memory window.
type Region struct {
	buf    []byte
	detach func() error
}

// newRegion wraps an attached byte window.
func newRegion(buf []byte, detach func() error) *Region {
	return &Region{buf: buf, detach: detach}
}

// Bytes returns the raw region bytes.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Size returns the total region size in bytes.
func (r *Region) Size() uint32 {
	return uint32(len(r.buf))
}

// Detach releases this participant's mapping. The region contents survive
// until the owning provider unlinks the key.
func (r *Region) Detach() error {
	if r.detach != nil {
		return r.detach()
	}
	return nil
}

// InitFresh zeroes the header, stamps magic, version and size, and points the
// bump pointer at the first arena byte. Destructive; callers must ensure it
// runs exactly once across the cooperating set before any declare.
func (r *Region) InitFresh() error {
	if len(r.buf) < MinSize {
		return apperrors.Wrap(apperrors.CodeRegionError, "region too small",
			fmt.Errorf("%d bytes, need at least %d", len(r.buf), MinSize))
	}

	for i := 0; i < HeaderSize; i++ {
		r.buf[i] = 0
	}

	r.putUint32(offMagic, Magic)
	r.putUint32(offVersion, Version)
	r.putUint32(offSize, r.Size())
	r.putUint32(offNextFree, HeaderSize)
	return nil
}

// Validate checks that the region has been initialised with a compatible
// layout.
func (r *Region) Validate() error {
	if got := r.getUint32(offMagic); got != Magic {
		return apperrors.Wrap(apperrors.CodeRegionError, "bad region magic",
			fmt.Errorf("got %#x", got))
	}
	if got := r.getUint32(offVersion); got != Version {
		return apperrors.Wrap(apperrors.CodeRegionError, "unsupported region version",
			fmt.Errorf("got %d, want %d", got, Version))
	}
	if got := r.getUint32(offSize); got != r.Size() {
		return apperrors.Wrap(apperrors.CodeRegionError, "region size mismatch",
			fmt.Errorf("header says %d, mapped %d", got, r.Size()))
	}
	return nil
}

// NextFree returns the bump pointer.
func (r *Region) NextFree() uint32 { return r.getUint32(offNextFree) }

// SetNextFree updates the bump pointer.
func (r *Region) SetNextFree(v uint32) { r.putUint32(offNextFree, v) }

// OpenNodes returns the free-list head offset.
func (r *Region) OpenNodes() uint32 { return r.getUint32(offOpenNodes) }

// SetOpenNodes updates the free-list head offset.
func (r *Region) SetOpenNodes(v uint32) { r.putUint32(offOpenNodes, v) }

// Processes returns the process chain head offset.
func (r *Region) Processes() uint32 { return r.getUint32(offProcesses) }

// SetProcesses updates the process chain head offset.
func (r *Region) SetProcesses(v uint32) { r.putUint32(offProcesses, v) }

// Resources returns the resource chain head offset.
func (r *Region) Resources() uint32 { return r.getUint32(offResources) }

// SetResources updates the resource chain head offset.
func (r *Region) SetResources(v uint32) { r.putUint32(offResources, v) }

// NextHandle increments the handle sequence and returns the new value.
// Tokens are never zero. Called with the global lock held.
func (r *Region) NextHandle() uint64 {
	seq := binary.LittleEndian.Uint64(r.buf[offHandleSeq:]) + 1
	binary.LittleEndian.PutUint64(r.buf[offHandleSeq:], seq)
	return seq
}

// WordPtr returns the address of a 4-byte header word for atomic and futex
// operations. The offset must be one of the exported Off* constants.
func (r *Region) WordPtr(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.buf[off]))
}

func (r *Region) getUint32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(r.buf[off:])
}

func (r *Region) putUint32(off uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.buf[off:], v)
}

// Provider attaches regions by key. Implementations supply the actual
// process-shared bytes; the graph layers never care which one is in use.
type Provider interface {
	// Attach maps the region for key into this participant's address space,
	// creating it with the given size if it does not exist yet.
	Attach(key int, size int) (*Region, error)

	// Unlink destroys the region backing so the key becomes invalid.
	// Existing attachments keep their mapping until they detach.
	Unlink(key int) error
}
