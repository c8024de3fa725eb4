package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/metrics"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"
)

// sendFollowersHeartbeat is send_followers_heartbeat. When
// logID is nil it fires replication to every follower and returns true
// once dispatched (fire-and-track); when logID is set, it returns true as
// soon as the number of followers reporting match_index >= *logID reaches
// half (integer division) of the followers dispatched to, and false if the
// responses run out first.
func (n *Node) sendFollowersHeartbeat(logID *uint64, noDelay bool) bool {
	n.mu.Lock()
	now := n.nowFn()
	if n.lastCheckedMs+HeartbeatMs > now && !noDelay {
		n.mu.Unlock()
		return false
	}
	if n.role != RoleLeader || n.leader == nil {
		n.mu.Unlock()
		return false
	}
	n.lastCheckedMs = now
	term := n.term
	leaderID := n.leaderID
	commitIndex := n.commitIndex
	lm := n.leader
	members := n.config.AllMembers()
	n.mu.Unlock()

	type result struct {
		matchIndex uint64
	}
	resultsCh := make(chan result, len(members))
	var wg sync.WaitGroup
	count := 0
	for _, member := range members {
		if member.ID == n.selfID {
			continue
		}
		lm.mu.RLock()
		_, tracked := lm.followers[member.ID]
		lm.mu.RUnlock()
		if !tracked {
			continue
		}
		count++
		memberID := member.ID
		wg.Add(1)
		n.acquireWorkerSlot()
		go func() {
			defer wg.Done()
			defer n.releaseWorkerSlot()
			match := n.sendFollowerHeartbeat(memberID, term, leaderID, commitIndex, lm)
			resultsCh <- result{matchIndex: match}
		}()
	}
	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	if count == 0 {
		return true
	}
	if logID == nil {
		go func() {
			for range resultsCh {
			}
		}()
		return true
	}

	target := *logID
	updated := 0
	for r := range resultsCh {
		if r.matchIndex >= target {
			updated++
			if updated >= count/2 {
				return true
			}
		}
	}
	return false
}

// sendFollowerHeartbeat is send_follower_heartbeat: the
// per-follower replication loop, serialized by that follower's own lock so
// at most one stream is ever in flight toward it.
func (n *Node) sendFollowerHeartbeat(memberID, term, leaderID, commitIndex uint64, lm *leaderMeta) uint64 {
	lock := n.followerLock(memberID)
	lock.Lock()
	defer lock.Unlock()

	retrying := false
	for {
		lm.mu.RLock()
		progress, ok := lm.followers[memberID]
		lm.mu.RUnlock()
		if !ok {
			return 0
		}

		entries := n.logs.RangeFrom(progress.NextIndex)
		if retrying && len(entries) == 0 {
			return progress.MatchIndex
		}

		var prevLogID uint64
		if progress.NextIndex > 0 {
			prevLogID = progress.NextIndex - 1
		}
		if prevLogID > 0 && prevLogID < n.logs.First() {
			if !n.installSnapshotTo(memberID, term, leaderID) {
				return progress.MatchIndex
			}
			retrying = true
			continue
		}
		prevLogTerm := n.logs.TermAt(prevLogID)

		client, err := n.config.PeerHandle(memberID)
		if err != nil {
			return progress.MatchIndex
		}
		wire := make([]transport.LogEntryWire, len(entries))
		for i, e := range entries {
			wire[i] = transport.LogEntryWire{ID: e.ID, Term: e.Term, SMID: e.SMID, FnID: e.FnID, Data: e.Data}
		}

		timer := metrics.NewTimer()
		reply, err := n.callAppendEntriesWithTimeout(client, transport.AppendEntriesArgs{
			Term:         term,
			LeaderID:     leaderID,
			PrevLogID:    prevLogID,
			PrevLogTerm:  prevLogTerm,
			Entries:      wire,
			LeaderCommit: commitIndex,
		})
		timer.ObserveDuration(metrics.HeartbeatDuration)
		if err != nil {
			return progress.MatchIndex
		}

		switch reply.Outcome {
		case transport.AppendOk:
			lastSent := prevLogID
			if len(entries) > 0 {
				lastSent = entries[len(entries)-1].ID
			}
			lm.mu.Lock()
			progress.NextIndex = lastSent + 1
			progress.MatchIndex = lastSent
			lm.mu.Unlock()
			return lastSent
		case transport.AppendLogMismatch:
			lm.mu.Lock()
			if progress.NextIndex > 0 {
				progress.NextIndex--
			}
			lm.mu.Unlock()
			retrying = true
			continue
		default: // AppendTermOut or anything else: stale leader, let the next response's term drive step-down
			return progress.MatchIndex
		}
	}
}

func (n *Node) callAppendEntriesWithTimeout(client transport.PeerClient, args transport.AppendEntriesArgs) (transport.AppendEntriesReply, error) {
	type result struct {
		reply transport.AppendEntriesReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := client.AppendEntries(args)
		done <- result{reply: reply, err: err}
	}()
	select {
	case r := <-done:
		return r.reply, r.err
	case <-time.After(ReplicationTimeoutMs * time.Millisecond):
		return transport.AppendEntriesReply{}, errTimedOut
	}
}

func (n *Node) installSnapshotTo(memberID, term, leaderID uint64) bool {
	n.mu.RLock()
	lastApplied := n.lastApplied
	n.mu.RUnlock()

	client, err := n.config.PeerHandle(memberID)
	if err != nil {
		return false
	}
	image := n.sm.Snapshot()
	_, err = client.InstallSnapshot(transport.InstallSnapshotArgs{
		Term:              term,
		LeaderID:          leaderID,
		LastIncludedIndex: lastApplied,
		LastIncludedTerm:  term,
		Data:              image,
	})
	if err != nil {
		return false
	}
	metrics.SnapshotsTotal.WithLabelValues("produced").Inc()
	return true
}

// AppendEntries is the append_entries RPC receiver. Satisfies
// transport.PeerReceiver.
func (n *Node) AppendEntries(args transport.AppendEntriesArgs) (transport.AppendEntriesReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastCheckedMs = n.nowFn()

	if args.Term < n.term {
		return transport.AppendEntriesReply{Term: n.term, Outcome: transport.AppendTermOut, LeaderID: n.leaderID}, nil
	}
	if args.Term > n.term {
		n.becomeFollowerLocked(args.Term, args.LeaderID)
	} else if n.role == RoleCandidate {
		n.becomeFollowerLocked(n.term, args.LeaderID)
	}
	n.leaderID = args.LeaderID

	if args.PrevLogID > 0 {
		n.drainPendingCommitsLocked()
		entry, ok := n.logs.Get(args.PrevLogID)
		if !ok {
			return transport.AppendEntriesReply{Term: n.term, Outcome: transport.AppendLogMismatch, LeaderID: n.leaderID}, nil
		}
		if entry.Term != args.PrevLogTerm {
			n.logs.TruncateFrom(args.PrevLogID)
			return transport.AppendEntriesReply{Term: n.term, Outcome: transport.AppendLogMismatch, LeaderID: n.leaderID}, nil
		}
	}

	lastNewEntry := n.logs.Last()
	for _, w := range args.Entries {
		entry := types.LogEntry{ID: w.ID, Term: w.Term, SMID: w.SMID, FnID: w.FnID, Data: w.Data}
		n.logs.Append(entry)
		if entry.ID > lastNewEntry {
			lastNewEntry = entry.ID
		}
	}
	n.postProcessLogsLocked()

	if args.LeaderCommit > n.commitIndex {
		if args.LeaderCommit < lastNewEntry {
			n.commitIndex = args.LeaderCommit
		} else {
			n.commitIndex = lastNewEntry
		}
		n.drainPendingCommitsLocked()
	}
	n.lastCheckedMs = n.nowFn()
	return transport.AppendEntriesReply{Term: n.term, Outcome: transport.AppendOk}, nil
}

// InstallSnapshot is the install_snapshot RPC receiver. Satisfies
// transport.PeerReceiver. A stale leader's snapshot is rejected (term
// returned unchanged, no mutation) rather than silently accepted.
func (n *Node) InstallSnapshot(args transport.InstallSnapshotArgs) (transport.InstallSnapshotReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term < n.term {
		return transport.InstallSnapshotReply{Term: n.term}, nil
	}
	if args.Term > n.term {
		n.becomeFollowerLocked(args.Term, args.LeaderID)
	}
	n.drainPendingCommitsLocked()

	if err := n.sm.Recover(args.Data); err != nil {
		n.log.Error().Err(err).Msg("install_snapshot: recover failed")
		return transport.InstallSnapshotReply{Term: n.term}, nil
	}
	n.term = args.LastIncludedTerm
	n.commitIndex = args.LastIncludedIndex
	n.lastApplied = args.LastIncludedIndex
	n.lastCheckedMs = n.nowFn()
	metrics.SnapshotsTotal.WithLabelValues("installed").Inc()
	n.refreshMetricsLocked()
	n.publish(events.EventSnapshotInstalled, fmt.Sprintf("node %d installed a snapshot through index %d", n.selfID, args.LastIncludedIndex))
	return transport.InstallSnapshotReply{Term: n.term}, nil
}
