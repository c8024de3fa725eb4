package consensus

import (
	"fmt"

	"github.com/quorumforge/raftd/internal/statemachine/configsm"
	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/metrics"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"
)

// CCommand is c_command. Satisfies transport.ClientReceiver.
func (n *Node) CCommand(args transport.CCommandArgs) (transport.CCommandReply, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommandDuration)

	n.mu.Lock()
	if n.role != RoleLeader {
		leaderID := n.leaderID
		n.mu.Unlock()
		return transport.CCommandReply{Outcome: transport.CommandNotLeader, LeaderID: leaderID}, nil
	}

	newID := n.logs.Last() + 1
	entry := types.LogEntry{ID: newID, Term: n.term, SMID: args.SMID, FnID: args.FnID, Data: args.Data}
	if err := n.logs.Append(entry); err != nil {
		n.mu.Unlock()
		return transport.CCommandReply{}, err
	}
	n.postProcessLogsLocked()
	term := n.term
	n.mu.Unlock()

	if args.SMID == types.ConfigSMID {
		// Membership changes always succeed once appended locally: they are
		// applied immediately and the leader's follower table is reloaded
		// from the new member set before heartbeats go out.
		n.mu.Lock()
		if newID > n.commitIndex {
			n.commitIndex = newID
		}
		result, err := n.applyAndCaptureLocked(newID)
		n.reloadLeaderMetaLocked(newID)
		n.mu.Unlock()
		n.sendFollowersHeartbeat(nil, true)
		if err != nil {
			return transport.CCommandReply{}, err
		}
		eventType := events.EventMemberJoined
		if args.FnID == configsm.FnDelMember {
			eventType = events.EventMemberLeft
		}
		n.publish(eventType, fmt.Sprintf("membership command %d committed at term %d", newID, term))
		return transport.CCommandReply{Outcome: transport.CommandSuccess, Data: result.Data, ID: newID, Term: term}, nil
	}

	if !n.sendFollowersHeartbeat(&newID, true) {
		return transport.CCommandReply{Outcome: transport.CommandNotCommitted}, nil
	}

	n.mu.Lock()
	if newID > n.commitIndex {
		n.commitIndex = newID
	}
	result, err := n.applyAndCaptureLocked(newID)
	n.mu.Unlock()
	if err != nil {
		return transport.CCommandReply{}, err
	}
	n.publish(events.EventCommandCommitted, fmt.Sprintf("command %d committed at term %d", newID, term))
	return transport.CCommandReply{Outcome: transport.CommandSuccess, Data: result.Data, ID: newID, Term: term}, nil
}

// applyAndCaptureLocked drains every committed-but-unapplied entry in
// order, the same way drainPendingCommitsLocked does, but also returns the
// ExecResult/error produced at targetID specifically. Must be called with
// n.mu held.
func (n *Node) applyAndCaptureLocked(targetID uint64) (types.ExecResult, error) {
	var result types.ExecResult
	var resultErr error
	for n.commitIndex > n.lastApplied {
		n.lastApplied++
		entry, ok := n.logs.Get(n.lastApplied)
		if !ok {
			n.log.Error().Uint64("id", n.lastApplied).Msg("commit index advanced past a missing log entry")
			continue
		}
		res, err := n.sm.CommitCmd(entry)
		if n.lastApplied == targetID {
			result, resultErr = res, err
		} else if err != nil {
			n.log.Error().Err(err).Uint64("id", entry.ID).Msg("commit_cmd dispatch failed")
		}
	}
	metrics.LastApplied.Set(float64(n.lastApplied))
	metrics.CommitIndex.Set(float64(n.commitIndex))
	return result, resultErr
}

// reloadLeaderMetaLocked adds a follower entry for every member not yet
// tracked and drops entries for members that left, reloading the leader's
// follower table on every membership commit. Must be
// called with n.mu held.
func (n *Node) reloadLeaderMetaLocked(lastLogID uint64) {
	if n.leader == nil {
		return
	}
	current := make(map[uint64]bool)
	for _, member := range n.config.AllMembers() {
		if member.ID == n.selfID {
			continue
		}
		current[member.ID] = true
		n.leader.mu.Lock()
		if _, ok := n.leader.followers[member.ID]; !ok {
			n.leader.followers[member.ID] = &FollowerProgress{NextIndex: lastLogID + 1, MatchIndex: 0}
		}
		n.leader.mu.Unlock()
	}
	n.leader.mu.Lock()
	for id := range n.leader.followers {
		if !current[id] {
			delete(n.leader.followers, id)
		}
	}
	n.leader.mu.Unlock()
}

// CQuery is c_query. Satisfies transport.ClientReceiver.
func (n *Node) CQuery(args transport.CQueryArgs) (transport.CQueryReply, error) {
	n.mu.RLock()
	lastLogID := n.logs.Last()
	lastLogTerm := n.logs.TermAt(lastLogID)
	if args.Term > lastLogTerm || args.ID > lastLogID {
		n.mu.RUnlock()
		return transport.CQueryReply{Outcome: transport.QueryLeftBehind}, nil
	}
	result, err := n.sm.ExecQry(types.LogEntry{SMID: args.SMID, FnID: args.FnID, Data: args.Data})
	n.mu.RUnlock()
	if err != nil {
		return transport.CQueryReply{}, err
	}
	return transport.CQueryReply{Outcome: transport.QuerySuccess, Data: result.Data, ID: lastLogID, Term: lastLogTerm}, nil
}

// CServerClusterInfo is c_server_cluster_info. Satisfies transport.ClientReceiver.
func (n *Node) CServerClusterInfo(args transport.CServerClusterInfoArgs) (transport.CServerClusterInfoReply, error) {
	members := n.config.AllMembers()
	infos := make([]transport.MemberInfo, len(members))
	for i, m := range members {
		infos[i] = transport.MemberInfo{ID: m.ID, Address: m.Address}
	}
	n.mu.RLock()
	leaderID := n.leaderID
	n.mu.RUnlock()
	return transport.CServerClusterInfoReply{Members: infos, LeaderID: leaderID}, nil
}

// CPutOffline is c_put_offline: a graceful, always-successful step-down to
// Offline regardless of current role. Satisfies transport.ClientReceiver.
func (n *Node) CPutOffline(args transport.CPutOfflineArgs) (transport.CPutOfflineReply, error) {
	n.mu.RLock()
	leading := n.role == RoleLeader
	n.mu.RUnlock()
	if leading {
		n.sendFollowersHeartbeat(nil, true)
	}
	n.Shutdown()
	return transport.CPutOfflineReply{Ok: true}, nil
}

// CHaveStateMachine is c_have_state_machine. Satisfies transport.ClientReceiver.
func (n *Node) CHaveStateMachine(args transport.CHaveStateMachineArgs) (transport.CHaveStateMachineReply, error) {
	return transport.CHaveStateMachineReply{Have: n.sm.HasSub(args.SMID)}, nil
}

// CPing is c_ping: records a liveness pulse for args.MemberID. Satisfies
// transport.ClientReceiver.
func (n *Node) CPing(args transport.CPingArgs) (transport.CPingReply, error) {
	if n.hb != nil {
		n.hb.Ping(args.MemberID)
	}
	return transport.CPingReply{Ok: true}, nil
}

// SubmitCommand runs smID/fnID/data through the same leader-append-then-
// replicate path as CCommand. Satisfies heartbeat.CommandSubmitter; the
// liveness ticker only calls this while IsLeader() is true.
func (n *Node) SubmitCommand(smID, fnID uint64, data []byte) error {
	reply, err := n.CCommand(transport.CCommandArgs{SMID: smID, FnID: fnID, Data: data})
	if err != nil {
		return err
	}
	if reply.Outcome != transport.CommandSuccess {
		return types.ErrNotCommitted
	}
	return nil
}
