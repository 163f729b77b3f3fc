package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/internal/ipc"
	"github.com/sfs-coordinator/internal/journal"
	"github.com/sfs-coordinator/internal/mock"
	"github.com/sfs-coordinator/internal/region"
	"github.com/sfs-coordinator/internal/testutil"
	"github.com/sfs-coordinator/pkg/config"
	"github.com/sfs-coordinator/pkg/utils"
)

func testConfig(key int) *config.Config {
	cfg, _ := config.LoadFromReader("yaml", []byte(""))
	cfg.Region.Key = key
	cfg.Region.Provider = "memory"
	cfg.IPC.Locker = "local"
	cfg.Monitor.ListenAddr = "127.0.0.1:0"
	return cfg
}

// monitorFixture builds an initialised service over an in-memory region
// with one participant already holding a file.
func monitorFixture(t *testing.T) (*Service, *config.Config) {
	t.Helper()

	key := testutil.NextRegionKey()
	cfg := testConfig(key)

	provider := region.NewMemoryProvider()
	opts := append(coordinator.LocalSetup(provider),
		coordinator.WithPid(1),
		coordinator.WithFileOpener(coordinator.NewNullFileOpener()),
	)
	admin := coordinator.New(opts...)
	require.NoError(t, admin.Init(key))
	t.Cleanup(func() { ipc.DropLocal(key) })

	popts := append(coordinator.LocalSetup(provider),
		coordinator.WithPid(100),
		coordinator.WithFileOpener(coordinator.NewNullFileOpener()),
	)
	p := coordinator.New(popts...)
	require.NoError(t, p.Declare(key, []string{"a", "b"}))
	_, err := p.Acquire(context.Background(), "a", "r")
	require.NoError(t, err)

	svc, err := New(cfg, &utils.NullLogger{})
	require.NoError(t, err)
	svc.SetCoordinator(admin)
	require.NoError(t, svc.Initialize(context.Background()))

	return svc, cfg
}

func TestService_New(t *testing.T) {
	cfg := testConfig(1)

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, svc)
	assert.False(t, svc.Running())

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestService_Tick_RecordsEverything(t *testing.T) {
	svc, cfg := monitorFixture(t)

	events := &mock.MockEventRepository{}
	events.ExpectRecordEvent(nil)
	svc.SetEventRepository(events)

	archive := &mock.MockArchive{}
	archive.ExpectSave(nil)
	svc.SetArchive(archive)

	svc.Tick(context.Background())

	events.AssertCalled(t, "RecordEvent", tmock.Anything, tmock.MatchedBy(func(ev *journal.LockEvent) bool {
		return ev.Event == journal.EventSnapshot && ev.RegionKey == cfg.Region.Key
	}))
	archive.AssertNumberOfCalls(t, "Save", 1)
}

func TestService_Tick_SurvivesCollaboratorFailures(t *testing.T) {
	svc, _ := monitorFixture(t)

	events := &mock.MockEventRepository{}
	events.ExpectRecordEvent(errors.New("db down"))
	svc.SetEventRepository(events)

	archive := &mock.MockArchive{}
	archive.ExpectSave(errors.New("bucket gone"))
	svc.SetArchive(archive)

	// Failures are logged, not fatal.
	svc.Tick(context.Background())
	svc.Tick(context.Background())

	archive.AssertNumberOfCalls(t, "Save", 2)
}

func TestService_Initialize_BadLocker(t *testing.T) {
	cfg := testConfig(1)
	cfg.IPC.Locker = "spinlock"

	svc, err := New(cfg, &utils.NullLogger{})
	require.NoError(t, err)
	assert.Error(t, svc.Initialize(context.Background()))
}
