// Package transport abstracts how one node reaches a peer: the append,
// vote and snapshot RPCs a consensus node issues against the rest of the
// cluster. Adapted from the orchestrator's pkg/client, which abstracted how
// a CLI reached a manager, re-pointed at node-to-node calls instead of
// client-to-manager calls and built on net/rpc instead of gRPC so that no
// generated stub code is required.
package transport

import "time"

// AppendOutcome mirrors the three-way append_entries result: an entry was
// accepted, the leader's term is stale, or the follower's log diverges at
// prev_log_id/prev_log_term.
type AppendOutcome int

const (
	AppendOk AppendOutcome = iota
	AppendTermOut
	AppendLogMismatch
)

// AppendEntriesArgs carries a leader's replication request to one follower.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     uint64
	PrevLogID    uint64
	PrevLogTerm  uint64
	Entries      []LogEntryWire
	LeaderCommit uint64
}

// LogEntryWire is the wire form of a log entry, kept separate from
// pkg/types.LogEntry so the transport package never needs to import the
// consensus core.
type LogEntryWire struct {
	ID   uint64
	Term uint64
	SMID uint64
	FnID uint64
	Data []byte
}

// AppendEntriesReply is (term, outcome), with LeaderID set on TermOut and
// LogMismatch replies.
type AppendEntriesReply struct {
	Term     uint64
	Outcome  AppendOutcome
	LeaderID uint64
}

// RequestVoteArgs carries a candidate's solicitation to one member.
type RequestVoteArgs struct {
	Term        uint64
	CandidateID uint64
	LastLogID   uint64
	LastLogTerm uint64
}

// RequestVoteReply is ((term, leader_id), granted).
type RequestVoteReply struct {
	Term     uint64
	LeaderID uint64
	Granted  bool
}

// InstallSnapshotArgs carries a leader's state machine checkpoint to a
// follower whose log has been trimmed past its next_index.
type InstallSnapshotArgs struct {
	Term              uint64
	LeaderID          uint64
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

// InstallSnapshotReply carries only the responder's term.
type InstallSnapshotReply struct {
	Term uint64
}

// PeerClient is the abstract handle a consensus node holds for one peer.
// Cluster members store these as value-like tokens reconstructible from an
// address rather than back-pointers into a live transport.
type PeerClient interface {
	AppendEntries(args AppendEntriesArgs) (AppendEntriesReply, error)
	RequestVote(args RequestVoteArgs) (RequestVoteReply, error)
	InstallSnapshot(args InstallSnapshotArgs) (InstallSnapshotReply, error)
	Close() error
}

// Dialer constructs a PeerClient for an address, lazily, on first use.
type Dialer interface {
	Dial(address string) (PeerClient, error)
}

// DefaultRPCTimeout bounds a single peer RPC round trip when a call-site
// doesn't override it (request_vote uses 2000ms, heartbeat tasks 1000ms, per
// the calling package's own timers; this is only the dial/transport floor).
const DefaultRPCTimeout = 2000 * time.Millisecond
