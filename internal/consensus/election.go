package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/metrics"
	"github.com/quorumforge/raftd/pkg/transport"
)

// becomeCandidateLocked increments the term, votes for self and resets the
// election timer. Must be called with n.mu held; returns
// the (term, last_log_id, last_log_term) snapshot runElection needs, since
// runElection itself must not hold n.mu across RPC awaits.
func (n *Node) becomeCandidateLocked() (term, lastLogID, lastLogTerm uint64) {
	n.term++
	self := n.selfID
	n.voteFor = &self
	n.role = RoleCandidate
	n.lastCheckedMs = n.nowFn()
	n.electionTimeoutMs = n.randomElectionTimeout()
	n.log = n.log.With().Str("role", n.role.String()).Uint64("term", n.term).Logger()

	lastLogID = n.logs.Last()
	lastLogTerm = n.logs.TermAt(lastLogID)
	n.refreshMetricsLocked()
	return n.term, lastLogID, lastLogTerm
}

type voteOutcome struct {
	memberID uint64
	reply    transport.RequestVoteReply
	err      error
}

// runElection dispatches request_vote to every member but self, in
// parallel, bounded by the node's worker pool, with a 2000ms timeout per
// RPC. It must be called without n.mu held.
func (n *Node) runElection(term, lastLogID, lastLogTerm uint64) {
	members := n.config.AllMembers()
	granted := 1 // self-vote, per the pinned majority predicate decision
	total := len(members)

	if granted >= total/2 {
		n.mu.Lock()
		if n.term == term && n.role == RoleCandidate {
			n.becomeLeaderLocked(lastLogID)
			metrics.ElectionsTotal.WithLabelValues("won").Inc()
		}
		n.mu.Unlock()
		return
	}

	var wg sync.WaitGroup
	results := make(chan voteOutcome, total)
	for _, member := range members {
		if member.ID == n.selfID {
			continue
		}
		member := member
		wg.Add(1)
		n.acquireWorkerSlot()
		go func() {
			defer wg.Done()
			defer n.releaseWorkerSlot()
			results <- n.requestVoteFrom(member.ID, term, lastLogID, lastLogTerm)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for outcome := range results {
		if outcome.err != nil {
			continue
		}
		if outcome.reply.Term > term {
			n.mu.Lock()
			if n.term == term && n.role == RoleCandidate {
				n.becomeFollowerLocked(outcome.reply.Term, outcome.reply.LeaderID)
			}
			n.mu.Unlock()
			metrics.ElectionsTotal.WithLabelValues("stepped_down").Inc()
			return
		}
		if outcome.reply.Granted {
			granted++
			if granted >= total/2 {
				n.mu.Lock()
				if n.term == term && n.role == RoleCandidate {
					n.becomeLeaderLocked(lastLogID)
					metrics.ElectionsTotal.WithLabelValues("won").Inc()
				}
				n.mu.Unlock()
				return
			}
		}
	}
	metrics.ElectionsTotal.WithLabelValues("lost").Inc()
}

func (n *Node) requestVoteFrom(memberID, term, lastLogID, lastLogTerm uint64) voteOutcome {
	client, err := n.config.PeerHandle(memberID)
	if err != nil {
		return voteOutcome{memberID: memberID, err: err}
	}
	type result struct {
		reply transport.RequestVoteReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := client.RequestVote(transport.RequestVoteArgs{
			Term:        term,
			CandidateID: n.selfID,
			LastLogID:   lastLogID,
			LastLogTerm: lastLogTerm,
		})
		done <- result{reply: reply, err: err}
	}()
	select {
	case r := <-done:
		return voteOutcome{memberID: memberID, reply: r.reply, err: r.err}
	case <-time.After(VoteTimeoutMs * time.Millisecond):
		return voteOutcome{memberID: memberID, err: errTimedOut}
	}
}

// becomeLeaderLocked builds Leader Meta with one follower entry per member
// except self. Must be called with n.mu held.
func (n *Node) becomeLeaderLocked(lastLogID uint64) {
	lm := &leaderMeta{
		lastUpdated: n.nowFn(),
		followers:   make(map[uint64]*FollowerProgress),
	}
	for _, member := range n.config.AllMembers() {
		if member.ID == n.selfID {
			continue
		}
		lm.followers[member.ID] = &FollowerProgress{NextIndex: lastLogID + 1, MatchIndex: 0}
	}
	n.leader = lm
	n.leaderID = n.selfID
	n.role = RoleLeader
	n.lastCheckedMs = n.nowFn()
	n.log = n.log.With().Str("role", n.role.String()).Uint64("term", n.term).Logger()
	n.log.Info().Msg("became leader")
	n.refreshMetricsLocked()
	n.publish(events.EventLeaderChanged, fmt.Sprintf("node %d became leader for term %d", n.selfID, n.term))
}

// becomeFollowerLocked adopts term (clearing vote_for if it actually
// changes) and records leaderID. Must be called with
// n.mu held.
func (n *Node) becomeFollowerLocked(term, leaderID uint64) {
	if term != 0 && term != n.term {
		n.term = term
		n.voteFor = nil
		n.publish(events.EventTermChanged, fmt.Sprintf("node %d adopted term %d", n.selfID, term))
	}
	if leaderID != 0 && leaderID != n.leaderID {
		n.publish(events.EventLeaderChanged, fmt.Sprintf("node %d now follows leader %d", n.selfID, leaderID))
	}
	n.leaderID = leaderID
	n.role = RoleFollower
	n.leader = nil
	n.lastCheckedMs = n.nowFn()
	n.log = n.log.With().Str("role", n.role.String()).Uint64("term", n.term).Logger()
	n.refreshMetricsLocked()
}

// RequestVote is the request_vote RPC receiver. Satisfies
// transport.PeerReceiver.
func (n *Node) RequestVote(args transport.RequestVoteArgs) (transport.RequestVoteReply, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term <= n.term {
		return transport.RequestVoteReply{Term: n.term, LeaderID: n.leaderID, Granted: false}, nil
	}

	n.drainPendingCommitsLocked()
	candidateValid := n.config.MemberExisted(args.CandidateID)
	granted := false
	if candidateValid && (n.voteFor == nil || *n.voteFor == args.CandidateID) {
		lastLogID := n.logs.Last()
		lastLogTerm := n.logs.TermAt(lastLogID)
		if args.LastLogID >= lastLogID && args.LastLogTerm >= lastLogTerm {
			granted = true
		}
	}
	if granted {
		candidateID := args.CandidateID
		n.voteFor = &candidateID
	}
	return transport.RequestVoteReply{Term: n.term, LeaderID: n.leaderID, Granted: granted}, nil
}
