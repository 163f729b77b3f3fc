package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sfs-coordinator/internal/coordinator"
	"github.com/sfs-coordinator/internal/graph"
)

// Metrics exports graph and coordinator state to Prometheus.
type Metrics struct {
	processes     prometheus.Gauge
	resources     prometheus.Gauge
	granted       prometheus.Gauge
	arenaLive     prometheus.Gauge
	arenaCapacity prometheus.Gauge
	arenaFreeList prometheus.Gauge

	acquires     prometheus.Gauge
	grants       prometheus.Gauge
	blocks       prometheus.Gauge
	releases     prometheus.Gauge
	openFailures prometheus.Gauge

	snapshots      prometheus.Counter
	snapshotErrors prometheus.Counter
}

// NewMetrics registers the monitor's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		processes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_graph_processes",
			Help: "Number of participant nodes in the region.",
		}),
		resources: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_graph_resources",
			Help: "Number of resource nodes in the region.",
		}),
		granted: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_graph_granted",
			Help: "Number of resources currently granted.",
		}),
		arenaLive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_arena_live_nodes",
			Help: "Arena slots currently in use.",
		}),
		arenaCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_arena_capacity_nodes",
			Help: "Total arena slot capacity.",
		}),
		arenaFreeList: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_arena_free_list_nodes",
			Help: "Recycled arena slots awaiting reuse.",
		}),
		acquires: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_coordinator_acquires",
			Help: "Acquire calls observed by this monitor's coordinator.",
		}),
		grants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_coordinator_grants",
			Help: "Successful grants observed by this monitor's coordinator.",
		}),
		blocks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_coordinator_blocks",
			Help: "Acquires that had to wait at least once.",
		}),
		releases: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_coordinator_releases",
			Help: "Release calls observed by this monitor's coordinator.",
		}),
		openFailures: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sfs_coordinator_open_failures",
			Help: "Grants rolled back because the file open failed.",
		}),
		snapshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "sfs_monitor_snapshots_total",
			Help: "Snapshots taken by the monitor.",
		}),
		snapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sfs_monitor_snapshot_errors_total",
			Help: "Snapshot attempts that failed.",
		}),
	}
}

// ObserveSnapshot updates graph gauges from a snapshot.
func (m *Metrics) ObserveSnapshot(snap *graph.Snapshot) {
	m.snapshots.Inc()
	m.processes.Set(float64(len(snap.Processes)))
	m.resources.Set(float64(len(snap.Resources)))

	granted := 0
	for _, rs := range snap.Resources {
		if rs.Granted {
			granted++
		}
	}
	m.granted.Set(float64(granted))

	m.arenaLive.Set(float64(snap.Arena.Live))
	m.arenaCapacity.Set(float64(snap.Arena.Capacity))
	m.arenaFreeList.Set(float64(snap.Arena.FreeList))
}

// ObserveStats updates coordinator counters.
func (m *Metrics) ObserveStats(s coordinator.StatsSnapshot) {
	m.acquires.Set(float64(s.Acquires))
	m.grants.Set(float64(s.Grants))
	m.blocks.Set(float64(s.Blocks))
	m.releases.Set(float64(s.Releases))
	m.openFailures.Set(float64(s.OpenFailures))
}

// ObserveSnapshotError counts a failed snapshot attempt.
func (m *Metrics) ObserveSnapshotError() {
	m.snapshotErrors.Inc()
}
