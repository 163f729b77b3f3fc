//go:build linux

package ipc

import (
	"math"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sfs-coordinator/internal/region"
)

// Mutex word states.
const (
	mutexFree      uint32 = 0
	mutexLocked    uint32 = 1
	mutexContended uint32 = 2
)

// FutexLock implements Lock over three words in the region header, so
// independent OS processes mapping the same region contend on the same
// physical futexes. The mutex follows the free/locked/contended protocol;
// the condition variable is a sequence counter with a waiter count.
type FutexLock struct {
	mu      *uint32
	seq     *uint32
	waiters *uint32
}

// NewFutexLock builds a FutexLock over the region's header words. The words
// are zero after InitFresh, which is the unlocked state.
func NewFutexLock(r *region.Region) *FutexLock {
	return &FutexLock{
		mu:      r.WordPtr(region.OffMutexWord),
		seq:     r.WordPtr(region.OffCondSeq),
		waiters: r.WordPtr(region.OffCondWaiters),
	}
}

// Lock acquires the mutex, parking the thread in the kernel under contention.
func (l *FutexLock) Lock() {
	if atomic.CompareAndSwapUint32(l.mu, mutexFree, mutexLocked) {
		return
	}
	for {
		if atomic.SwapUint32(l.mu, mutexContended) == mutexFree {
			return
		}
		futexWait(l.mu, mutexContended)
	}
}

// Unlock releases the mutex and wakes one parked locker if any.
func (l *FutexLock) Unlock() {
	if atomic.SwapUint32(l.mu, mutexFree) == mutexContended {
		futexWake(l.mu, 1)
	}
}

// Wait atomically releases the mutex and blocks until the sequence word
// moves, then re-acquires the mutex. Must be called with the mutex held.
func (l *FutexLock) Wait() {
	seq := atomic.LoadUint32(l.seq)
	atomic.AddUint32(l.waiters, 1)

	l.Unlock()
	futexWait(l.seq, seq)
	atomic.AddUint32(l.waiters, ^uint32(0))

	l.Lock()
}

// Broadcast bumps the sequence word and wakes every waiter.
func (l *FutexLock) Broadcast() {
	atomic.AddUint32(l.seq, 1)
	if atomic.LoadUint32(l.waiters) != 0 {
		futexWake(l.seq, math.MaxInt32)
	}
}

// futexWait parks until *addr != val or a wake arrives. EAGAIN means the
// word already moved; EINTR means a signal cut the sleep. Both are fine,
// callers re-test in a loop.
func futexWait(addr *uint32, val uint32) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAIT),
		uintptr(val),
		0, 0, 0)
}

// futexWake wakes up to n threads parked on addr.
func futexWake(addr *uint32, n int) {
	_, _, _ = unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(unix.FUTEX_WAKE),
		uintptr(n),
		0, 0, 0)
}
