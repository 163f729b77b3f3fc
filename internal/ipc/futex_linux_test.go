//go:build linux

package ipc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfs-coordinator/internal/region"
)

// Futexes synchronise threads of one process just as well as threads of
// many, so the protocol is exercised here with goroutines over a memory
// region. The multi-process path differs only in who mapped the words.
func newFutexLock(t *testing.T) *FutexLock {
	t.Helper()
	p := region.NewMemoryProvider()
	r, err := p.Attach(1, region.DefaultSize)
	require.NoError(t, err)
	require.NoError(t, r.InitFresh())
	return NewFutexLock(r)
}

func TestFutexLock_MutualExclusion(t *testing.T) {
	l := newFutexLock(t)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4000, counter)
}

func TestFutexLock_WaitBroadcast(t *testing.T) {
	l := newFutexLock(t)

	var flag atomic.Bool
	var woken atomic.Int32
	ready := make(chan struct{})

	const waiters = 3
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			ready <- struct{}{}
			for !flag.Load() {
				l.Wait()
			}
			woken.Add(1)
			l.Unlock()
		}()
	}

	for i := 0; i < waiters; i++ {
		<-ready
	}

	l.Lock()
	flag.Store(true)
	l.Broadcast()
	l.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("broadcast did not wake all futex waiters")
	}
	assert.Equal(t, int32(waiters), woken.Load())
}
