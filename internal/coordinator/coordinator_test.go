package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfs-coordinator/internal/ipc"
	"github.com/sfs-coordinator/internal/mock"
	"github.com/sfs-coordinator/internal/region"
	apperrors "github.com/sfs-coordinator/pkg/errors"
)

var testKeySeq atomic.Int64

// fixture is one region shared by any number of in-process participants.
type fixture struct {
	t        *testing.T
	key      int
	provider *region.MemoryProvider
	admin    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		key:      int(testKeySeq.Add(1)) + 50000,
		provider: region.NewMemoryProvider(),
	}
	f.admin = f.participant(1)
	require.NoError(t, f.admin.Init(f.key))

	t.Cleanup(func() { ipc.DropLocal(f.key) })
	return f
}

// participant builds a coordinator sharing the fixture's region under its
// own pid, with a no-op file opener.
func (f *fixture) participant(pid uint32) *Coordinator {
	opts := append(LocalSetup(f.provider),
		WithPid(pid),
		WithFileOpener(NewNullFileOpener()),
	)
	return New(opts...)
}

func (f *fixture) snapshot() *graphSnapshot {
	snap, err := f.admin.Snapshot(f.key)
	require.NoError(f.t, err)
	return &graphSnapshot{Snapshot: snap}
}

func TestDeclare_InstallsClaims(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"f1.txt", "f2.txt"}))

	snap := f.snapshot()
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, uint32(100), snap.Processes[0].Pid)
	assert.ElementsMatch(t, []string{"f1.txt", "f2.txt"}, snap.Processes[0].Claims)
	assert.Empty(t, snap.Processes[0].Holds)
	assert.Len(t, snap.Resources, 2)

	require.NoError(t, p.Leave(f.key))
}

func TestDeclare_SharedResourceNodes(t *testing.T) {
	f := newFixture(t)
	p1 := f.participant(100)
	p2 := f.participant(200)

	require.NoError(t, p1.Declare(f.key, []string{"a", "b"}))
	require.NoError(t, p2.Declare(f.key, []string{"b", "a"}))

	// Both participants claim the same two resource nodes.
	snap := f.snapshot()
	assert.Len(t, snap.Resources, 2)
	assert.Len(t, snap.Processes, 2)

	require.NoError(t, p1.Leave(f.key))
	require.NoError(t, p2.Leave(f.key))
}

func TestDeclare_Twice(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"a"}))
	err := p.Declare(f.key, []string{"b"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeAlreadyDeclared, apperrors.GetCode(err))

	require.NoError(t, p.Leave(f.key))
}

func TestAcquire_WithoutDeclare(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	_, err := p.Acquire(context.Background(), "a", "r")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotDeclared, apperrors.GetCode(err))
}

func TestAcquire_UndeclaredPath(t *testing.T) {
	f := newFixture(t)
	p1 := f.participant(100)
	p2 := f.participant(200)

	require.NoError(t, p1.Declare(f.key, []string{"a"}))
	require.NoError(t, p2.Declare(f.key, []string{"b"}))

	// Never declared by anyone: no resource node exists.
	_, err := p1.Acquire(context.Background(), "zzz", "r")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownResource, apperrors.GetCode(err))

	// Declared by another participant only: no claim edge for p1.
	// Must refuse without blocking.
	_, err = p1.Acquire(context.Background(), "b", "r")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotDeclared, apperrors.GetCode(err))

	require.NoError(t, p1.Leave(f.key))
	require.NoError(t, p2.Leave(f.key))
}

func TestAcquireRelease_RoundTrip(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"a"}))

	h, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)
	require.NotZero(t, h)

	snap := f.snapshot()
	assert.Equal(t, []string{"a"}, snap.Processes[0].Holds)
	assert.Empty(t, snap.Processes[0].Claims)
	assert.True(t, snap.resource("a").Granted)
	assert.Equal(t, uint64(h), snap.resource("a").Handle)

	require.NoError(t, p.Release(h))

	// Claim preservation across release: the claim edge is back.
	snap = f.snapshot()
	assert.Equal(t, []string{"a"}, snap.Processes[0].Claims)
	assert.Empty(t, snap.Processes[0].Holds)
	assert.False(t, snap.resource("a").Granted)
	assert.Zero(t, snap.resource("a").Handle)

	require.NoError(t, p.Leave(f.key))
}

func TestAcquire_NotReentrant(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"a"}))

	h, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)

	// The claim edge is consumed while holding, so a second acquire is
	// refused rather than granted twice.
	_, err = p.Acquire(context.Background(), "a", "r")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotDeclared, apperrors.GetCode(err))

	require.NoError(t, p.Release(h))
	require.NoError(t, p.Leave(f.key))
}

func TestRelease_UnknownHandle(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"a"}))

	err := p.Release(Handle(9999))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownHandle, apperrors.GetCode(err))

	require.NoError(t, p.Leave(f.key))
}

func TestRelease_ForeignHandle(t *testing.T) {
	f := newFixture(t)
	p1 := f.participant(100)
	p2 := f.participant(200)

	require.NoError(t, p1.Declare(f.key, []string{"a"}))
	require.NoError(t, p2.Declare(f.key, []string{"b"}))

	h, err := p1.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)

	// p2 cannot release p1's grant.
	err = p2.Release(h)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnknownHandle, apperrors.GetCode(err))

	require.NoError(t, p1.Release(h))
	require.NoError(t, p1.Leave(f.key))
	require.NoError(t, p2.Leave(f.key))
}

func TestRelease_CloseErrorPropagates(t *testing.T) {
	f := newFixture(t)

	files := &mock.MockFileOpener{}
	files.ExpectOpen("a", nil)
	files.ExpectClose(apperrors.Wrap(apperrors.CodeIOError, "close failed", nil))

	opts := append(LocalSetup(f.provider), WithPid(100), WithFileOpener(files))
	p := New(opts...)

	require.NoError(t, p.Declare(f.key, []string{"a"}))
	h, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)

	// The close error surfaces, but the graph is already rebalanced: the
	// claim edge is back and waiters were woken.
	err = p.Release(h)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeIOError, apperrors.GetCode(err))

	snap := f.snapshot()
	assert.Equal(t, []string{"a"}, snap.Processes[0].Claims)
	assert.False(t, snap.resource("a").Granted)

	files.AssertExpectations(t)
	require.NoError(t, p.Leave(f.key))
}

func TestAcquire_OpenFailureRollsBack(t *testing.T) {
	f := newFixture(t)

	failing := &failingOpener{}
	opts := append(LocalSetup(f.provider), WithPid(100), WithFileOpener(failing))
	p := New(opts...)

	require.NoError(t, p.Declare(f.key, []string{"a"}))

	_, err := p.Acquire(context.Background(), "a", "r")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeIOError, apperrors.GetCode(err))

	// The tentative assignment was rolled back to a claim.
	snap := f.snapshot()
	assert.Equal(t, []string{"a"}, snap.Processes[0].Claims)
	assert.False(t, snap.resource("a").Granted)
	assert.Equal(t, int64(1), p.Stats().OpenFailures)

	// A later retry with a healthy opener path succeeds.
	failing.healthy = true
	h, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)
	require.NoError(t, p.Release(h))

	require.NoError(t, p.Leave(f.key))
}

func TestAcquire_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	p1 := f.participant(100)
	p2 := f.participant(200)

	require.NoError(t, p1.Declare(f.key, []string{"a"}))
	require.NoError(t, p2.Declare(f.key, []string{"a"}))

	h, err := p1.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// p2 waits on the held resource until its context expires.
	_, err = p2.Acquire(ctx, "a", "r")
	require.Error(t, err)

	// The wait left the graph balanced: p2 still claims a.
	snap := f.snapshot()
	assert.Equal(t, []string{"a"}, snap.process(200).Claims)

	require.NoError(t, p1.Release(h))
	require.NoError(t, p1.Leave(f.key))
	require.NoError(t, p2.Leave(f.key))
}

func TestLeave_Cleanup(t *testing.T) {
	f := newFixture(t)
	p1 := f.participant(100)
	p2 := f.participant(200)

	require.NoError(t, p1.Declare(f.key, []string{"a", "b"}))
	require.NoError(t, p2.Declare(f.key, []string{"b"}))

	h, err := p1.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)
	_ = h

	// Leaving while holding a closes it and reclaims what nobody else
	// references: a goes away, b survives through p2's claim.
	require.NoError(t, p1.Leave(f.key))

	snap := f.snapshot()
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, uint32(200), snap.Processes[0].Pid)
	require.Len(t, snap.Resources, 1)
	assert.Equal(t, "b", snap.Resources[0].Name)

	require.NoError(t, p2.Leave(f.key))
	snap = f.snapshot()
	assert.Empty(t, snap.Processes)
	assert.Empty(t, snap.Resources)
	assert.Equal(t, 0, snap.Arena.Live)
}

func TestLeave_NotAttached(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	err := p.Leave(f.key)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotDeclared, apperrors.GetCode(err))
}

func TestArenaConservation(t *testing.T) {
	f := newFixture(t)

	// Property: after a full declare/acquire/release/leave round trip the
	// arena's live count returns to baseline and every allocated slot sits
	// on the free list.
	for round := 0; round < 3; round++ {
		p := f.participant(uint32(100 + round))
		require.NoError(t, p.Declare(f.key, []string{"a", "b", "c"}))

		h, err := p.Acquire(context.Background(), "b", "r")
		require.NoError(t, err)
		require.NoError(t, p.Release(h))
		require.NoError(t, p.Leave(f.key))

		snap := f.snapshot()
		assert.Equal(t, 0, snap.Arena.Live, "round %d", round)
		assert.Equal(t, snap.Arena.Allocated, snap.Arena.FreeList, "round %d", round)
	}
}

func TestDeclare_ArenaExhaustion(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	// One process node plus two slots per name (resource + claim cell)
	// overruns a 32 KiB region well before 100 names.
	names := make([]string, 100)
	for i := range names {
		names[i] = fmt.Sprintf("file-%03d.txt", i)
	}

	err := p.Declare(f.key, names)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeOutOfArena, apperrors.GetCode(err))

	// The lock was released and the region stays usable: the partial
	// declaration can be withdrawn.
	require.NoError(t, p.Leave(f.key))

	snap := f.snapshot()
	assert.Equal(t, 0, snap.Arena.Live)
}

func TestDestroy_RegionGone(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"y"}))
	_, err := p.Acquire(context.Background(), "y", "r")
	require.NoError(t, err)

	// The participant "crashes": no Release, no Leave. The designated
	// coordinator destroys the region, closing the stranded grant.
	require.NoError(t, f.admin.Destroy(f.key))

	_, err = f.admin.Snapshot(f.key)
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	p := f.participant(100)

	require.NoError(t, p.Declare(f.key, []string{"a"}))
	h, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)
	require.NoError(t, p.Release(h))
	require.NoError(t, p.Leave(f.key))

	s := p.Stats()
	assert.Equal(t, int64(1), s.Declares)
	assert.Equal(t, int64(1), s.Acquires)
	assert.Equal(t, int64(1), s.Grants)
	assert.Equal(t, int64(1), s.Releases)
	assert.Equal(t, int64(1), s.Leaves)
	assert.Zero(t, s.Blocks)
}

// failingOpener refuses opens until flipped healthy.
type failingOpener struct {
	healthy bool
}

func (o *failingOpener) Open(path, mode string, token uint64) error {
	if !o.healthy {
		return apperrors.Wrap(apperrors.CodeIOError, "disk on fire", nil)
	}
	return nil
}

func (o *failingOpener) Close(token uint64) error { return nil }
