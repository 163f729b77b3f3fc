// Package service provides the monitor: a long-running supervisor that
// watches a coordination region, exports its state over HTTP and
// Prometheus, journals events and archives snapshots.
//
// The monitor is an observer. It never declares or acquires; the region's
// correctness does not depend on it running.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/internal/graph"
	"github.com/sfs-coordinator/internal/journal"
	"github.com/sfs-coordinator/internal/region"
	"github.com/sfs-coordinator/internal/storage"
	"github.com/sfs-coordinator/pkg/config"
	"github.com/sfs-coordinator/pkg/utils"
)

// Service is the monitor service.
type Service struct {
	config  *config.Config
	logger  utils.Logger
	clock   utils.Clock
	coord   *coordinator.Coordinator
	events  journal.EventRepository
	archive storage.Archive
	metrics *Metrics
	server  *statusServer

	registry *prometheus.Registry
	seq      int
	running  bool
}

// New creates a Service.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	return &Service{
		config: cfg,
		logger: logger,
		clock:  utils.NewRealClock(),
	}, nil
}

// SetClock overrides the clock, for tests.
func (s *Service) SetClock(clk utils.Clock) { s.clock = clk }

// SetEventRepository injects a journal repository, overriding configuration.
func (s *Service) SetEventRepository(repo journal.EventRepository) { s.events = repo }

// SetArchive injects a snapshot archive, overriding configuration.
func (s *Service) SetArchive(a storage.Archive) { s.archive = a }

// SetCoordinator injects the region coordinator, overriding configuration.
func (s *Service) SetCoordinator(c *coordinator.Coordinator) { s.coord = c }

// Initialize builds all components the configuration asks for.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("initialising monitor components...")

	if s.coord == nil {
		provider, err := region.NewProvider(s.config.Region.Provider)
		if err != nil {
			return fmt.Errorf("failed to build region provider: %w", err)
		}
		lockFactory, err := coordinator.LockFactoryFor(s.config.IPC.Locker)
		if err != nil {
			return fmt.Errorf("failed to build lock factory: %w", err)
		}
		s.coord = coordinator.New(
			coordinator.WithProvider(provider),
			coordinator.WithLockFactory(lockFactory),
			coordinator.WithRegionSize(s.config.Region.Size),
			coordinator.WithLogger(s.logger),
			coordinator.WithClock(s.clock),
		)
	}

	if s.events == nil && s.config.Journal.Enabled {
		db, err := journal.NewGormDB(&s.config.Journal)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		repo := journal.NewGormEventRepository(db)
		if err := repo.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate journal: %w", err)
		}
		s.events = repo
	}

	if s.archive == nil && s.config.Monitor.ArchiveSnapshots {
		archive, err := storage.NewArchive(&s.config.Archive)
		if err != nil {
			return fmt.Errorf("failed to build archive: %w", err)
		}
		s.archive = archive
	}

	s.registry = prometheus.NewRegistry()
	s.metrics = NewMetrics(s.registry)

	s.server = newStatusServer(s.config.Monitor.ListenAddr, s.logger, s.registry,
		func(ctx context.Context) (*graph.Snapshot, error) {
			return s.coord.Snapshot(s.config.Region.Key)
		})

	return nil
}

// Run starts the status server and the snapshot loop, blocking until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.server == nil {
		return fmt.Errorf("service not initialised")
	}
	s.running = true
	defer func() { s.running = false }()

	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Start() }()

	interval := time.Duration(s.config.Monitor.Interval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("monitoring region key=%d every %s", s.config.Region.Key, interval)

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.server.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one observation round: snapshot, metrics, journal, archive.
func (s *Service) Tick(ctx context.Context) {
	key := s.config.Region.Key

	snap, err := s.coord.Snapshot(key)
	if err != nil {
		s.metrics.ObserveSnapshotError()
		s.logger.Warn("snapshot of region %d failed: %v", key, err)
		return
	}

	s.metrics.ObserveSnapshot(snap)
	s.metrics.ObserveStats(s.coord.Stats())
	s.seq++

	if s.events != nil {
		detail, _ := json.Marshal(map[string]int{
			"processes": len(snap.Processes),
			"resources": len(snap.Resources),
			"live":      snap.Arena.Live,
		})
		ev := &journal.LockEvent{
			RegionKey: key,
			Event:     journal.EventSnapshot,
			Detail:    string(detail),
			CreatedAt: s.clock.Now(),
		}
		if err := s.events.RecordEvent(ctx, ev); err != nil {
			s.logger.Warn("failed to journal snapshot: %v", err)
		}
	}

	if s.archive != nil {
		archiveKey := fmt.Sprintf("region-%d/%06d", key, s.seq)
		if err := s.archive.Save(ctx, archiveKey, snap); err != nil {
			s.logger.Warn("failed to archive snapshot: %v", err)
		}
	}
}

// Running reports whether Run is active.
func (s *Service) Running() bool { return s.running }
