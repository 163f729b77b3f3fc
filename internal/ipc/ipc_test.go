package ipc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLock_MutualExclusion(t *testing.T) {
	l := NewLocalLock()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				l.Lock()
				counter++
				l.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
}

func TestLocalLock_WaitBroadcast(t *testing.T) {
	l := NewLocalLock()

	ready := make(chan struct{})
	var woken atomic.Int32
	flag := false

	const waiters = 4
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Lock()
			ready <- struct{}{}
			for !flag {
				l.Wait()
			}
			woken.Add(1)
			l.Unlock()
		}()
	}

	// Wait for every goroutine to reach its Wait loop.
	for i := 0; i < waiters; i++ {
		<-ready
	}

	l.Lock()
	flag = true
	l.Broadcast()
	l.Unlock()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast did not wake all waiters")
	}
	assert.Equal(t, int32(waiters), woken.Load())
}

func TestLocalLock_BroadcastWithoutWaiters(t *testing.T) {
	l := NewLocalLock()

	// Must not panic or block.
	l.Broadcast()

	l.Lock()
	l.Broadcast()
	l.Unlock()
}

func TestLocalForKey(t *testing.T) {
	a := LocalForKey(900)
	b := LocalForKey(900)
	c := LocalForKey(901)

	require.NotNil(t, a)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)

	DropLocal(900)
	d := LocalForKey(900)
	assert.NotSame(t, a, d)

	DropLocal(900)
	DropLocal(901)
}
