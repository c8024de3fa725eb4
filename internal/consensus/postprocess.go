package consensus

import (
	"fmt"

	"github.com/quorumforge/raftd/internal/snapshotstore"
	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/metrics"
)

// postProcessLogsLocked runs after any mutation to the log in the leader or
// follower append path: it trims the oldest entries once the log has grown
// well past its capture capacity and the trimmed prefix is safely captured
// in a fresh snapshot. Must be called with n.mu held.
func (n *Node) postProcessLogsLocked() {
	lastLogID := n.logs.Last()
	var expectedOldest uint64
	if lastLogID > uint64(n.maxLogCapacity) {
		expectedOldest = lastLogID - uint64(n.maxLogCapacity)
	}

	if n.logs.Len() > 2*n.maxLogCapacity && n.lastApplied > expectedOldest {
		n.logs.TrimOldestTo(n.maxLogCapacity)
		if err := n.logs.Persist(); err != nil {
			n.log.Error().Err(err).Msg("log persist after trim failed")
		}

		if n.snapshots != nil {
			entity := snapshotstore.Entity{
				Term:        n.term,
				CommitIndex: n.commitIndex,
				LastApplied: n.lastApplied,
				Snapshot:    n.sm.Snapshot(),
			}
			if err := n.snapshots.Save(entity); err != nil {
				// Disk I/O failures during post-processing are logged but do
				// not roll back in-memory state; the next successful write
				// supersedes.
				n.log.Error().Err(err).Msg("snapshot save failed")
			} else {
				n.publish(events.EventSnapshotSaved, fmt.Sprintf("node %d saved a snapshot at index %d", n.selfID, n.lastApplied))
			}
		}
		metrics.LogTrimsTotal.Inc()
		n.log.Info().Int("kept", n.maxLogCapacity).Msg("trimmed log store")
	}
	n.refreshMetricsLocked()
}
