package coordinator

import "sync/atomic"

// Stats counts one participant's coordination events. The monitor service
// exports its own coordinator's counters as Prometheus metrics.
type Stats struct {
	declares     atomic.Int64
	acquires     atomic.Int64
	grants       atomic.Int64
	blocks       atomic.Int64
	releases     atomic.Int64
	leaves       atomic.Int64
	openFailures atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Declares     int64 `json:"declares"`
	Acquires     int64 `json:"acquires"`
	Grants       int64 `json:"grants"`
	Blocks       int64 `json:"blocks"`
	Releases     int64 `json:"releases"`
	Leaves       int64 `json:"leaves"`
	OpenFailures int64 `json:"open_failures"`
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Declares:     s.declares.Load(),
		Acquires:     s.acquires.Load(),
		Grants:       s.grants.Load(),
		Blocks:       s.blocks.Load(),
		Releases:     s.releases.Load(),
		Leaves:       s.leaves.Load(),
		OpenFailures: s.openFailures.Load(),
	}
}
