// Package consensus implements the Consensus Node: the role state machine
// (Leader/Follower/Candidate/Offline/Undefined), term and vote bookkeeping,
// leader election, log replication and commit advancement that the rest of
// the runtime is built around. Grounded in the orchestrator's sentinel-loop
// shape but rebuilt around a different lock-ownership model: the Raft Meta
// write lock is only ever held briefly, and RPC fan-out happens in
// goroutines that take their own read snapshots instead of holding it
// across network awaits.
package consensus

import (
	"math/rand"
	"sync"
	"time"

	"github.com/quorumforge/raftd/internal/heartbeat"
	"github.com/quorumforge/raftd/internal/logstore"
	"github.com/quorumforge/raftd/internal/snapshotstore"
	"github.com/quorumforge/raftd/internal/statemachine"
	"github.com/quorumforge/raftd/internal/statemachine/configsm"
	"github.com/quorumforge/raftd/pkg/events"
	"github.com/quorumforge/raftd/pkg/logging"
	"github.com/quorumforge/raftd/pkg/metrics"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/rs/zerolog"
)

// Role is one of the five Raft Meta memberships.
type Role int

const (
	RoleUndefined Role = iota
	RoleFollower
	RoleCandidate
	RoleLeader
	RoleOffline
)

func (r Role) String() string {
	switch r {
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	case RoleOffline:
		return "offline"
	default:
		return "undefined"
	}
}

// Tunables for election timing, heartbeat cadence and log retention.
const (
	CheckerMs             = 100
	HeartbeatMs           = 500
	ElectionMinMs         = 10000
	ElectionMaxMs         = 15000
	ReplicationTimeoutMs  = 1000
	VoteTimeoutMs         = 2000
	DefaultMaxLogCapacity = 10
	workerPoolSlots       = 10
)

// FollowerProgress is the Leader Meta bookkeeping for one follower.
type FollowerProgress struct {
	NextIndex  uint64
	MatchIndex uint64
}

// leaderMeta exists only while Node.role == RoleLeader.
type leaderMeta struct {
	mu          sync.RWMutex
	lastUpdated int64
	followers   map[uint64]*FollowerProgress
}

// Node is the Raft Meta: the single authoritative record for one consensus
// participant. The mutex below is the Raft Meta lock: it is never
// reentered, and is released before any RPC is issued.
type Node struct {
	mu sync.RWMutex

	selfID      uint64
	selfAddress string

	term              uint64
	voteFor           *uint64
	electionTimeoutMs int64
	lastCheckedMs     int64
	role              Role
	commitIndex       uint64
	lastApplied       uint64
	leaderID          uint64

	leader *leaderMeta

	logs      *logstore.Store
	sm        *statemachine.Registry
	config    *configsm.ConfigSM
	snapshots *snapshotstore.Store
	hb        *heartbeat.Heartbeat
	events    *events.Broker

	dialer transport.Dialer

	maxLogCapacity int

	nowFn   func() int64
	rngMu   sync.Mutex
	rng     *rand.Rand

	followerLocks sync.Map // uint64 -> *sync.Mutex

	workerSem chan struct{}

	stopCh  chan struct{}
	stopped bool

	log zerolog.Logger
}

// Options configures a new Node.
type Options struct {
	SelfID         uint64
	SelfAddress    string
	Logs           *logstore.Store
	Registry       *statemachine.Registry
	Config         *configsm.ConfigSM
	Snapshots      *snapshotstore.Store
	Heartbeat      *heartbeat.Heartbeat
	Events         *events.Broker
	Dialer         transport.Dialer
	MaxLogCapacity int
}

// NewNode builds an Undefined node. Callers transition it to Follower (via
// JoinAsFollower) or Leader (via Bootstrap) before calling Start.
func NewNode(opts Options) *Node {
	maxCap := opts.MaxLogCapacity
	if maxCap <= 0 {
		maxCap = DefaultMaxLogCapacity
	}
	n := &Node{
		selfID:         opts.SelfID,
		selfAddress:    opts.SelfAddress,
		role:           RoleUndefined,
		logs:           opts.Logs,
		sm:             opts.Registry,
		config:         opts.Config,
		snapshots:      opts.Snapshots,
		hb:             opts.Heartbeat,
		events:         opts.Events,
		dialer:         opts.Dialer,
		maxLogCapacity: maxCap,
		nowFn:          func() int64 { return time.Now().UnixMilli() },
		rng:            rand.New(rand.NewSource(time.Now().UnixNano() + int64(opts.SelfID))),
		workerSem:      make(chan struct{}, workerPoolSlots),
		stopCh:         make(chan struct{}),
		log:            logging.WithNode(opts.SelfID, "undefined"),
	}
	n.electionTimeoutMs = n.randomElectionTimeout()
	return n
}

func (n *Node) randomElectionTimeout() int64 {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return ElectionMinMs + n.rng.Int63n(ElectionMaxMs-ElectionMinMs+1)
}

func (n *Node) acquireWorkerSlot() {
	n.workerSem <- struct{}{}
}

func (n *Node) releaseWorkerSlot() {
	<-n.workerSem
}

func (n *Node) followerLock(id uint64) *sync.Mutex {
	lock, _ := n.followerLocks.LoadOrStore(id, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// publish is a no-op when the node was built without an events.Broker.
func (n *Node) publish(eventType events.EventType, message string) {
	if n.events == nil {
		return
	}
	n.events.Publish(&events.Event{Type: eventType, Message: message})
}

// SelfID returns the node's own member id.
func (n *Node) SelfID() uint64 { return n.selfID }

// IsLeader reports whether this node currently believes itself the leader.
// Satisfies heartbeat.LeaderChecker.
func (n *Node) IsLeader() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role == RoleLeader
}

// LeaderID returns the last known leader id, 0 if none. Satisfies
// heartbeat.LeaderChecker.
func (n *Node) LeaderID() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.leaderID
}

// Term returns the node's current term.
func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.term
}

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.role
}

// CommitIndex returns the node's commit index.
func (n *Node) CommitIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.commitIndex
}

// LastApplied returns the node's last applied id.
func (n *Node) LastApplied() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastApplied
}

// Bootstrap transitions a brand-new Undefined node directly to Leader of a
// single-member cluster, per the "no live node in the server list" path of
// probe_and_join. The term advances by one, so a brand-new node leads term 1.
func (n *Node) Bootstrap() {
	n.config.NewMember(n.selfAddress)
	n.mu.Lock()
	n.term++
	lastLogID := n.logs.Last()
	n.becomeLeaderLocked(lastLogID)
	n.mu.Unlock()
	n.log.Info().Msg("bootstrapped as sole member")
}

// JoinAsFollower seeds the local Config SM with the known member set
// (learned from a peer during cmd/raftd's probeAndJoin) and
// transitions to Follower of leaderID. It does not itself submit a
// new_member command; the caller submits that through the discovered
// leader first.
func (n *Node) JoinAsFollower(members []configsm.Member, leaderID uint64) {
	for _, m := range members {
		n.config.NewMember(m.Address)
	}
	n.mu.Lock()
	n.becomeFollowerLocked(0, leaderID)
	n.mu.Unlock()
}

// RecoverFrom restores term, commit and apply watermarks plus the Master
// SM's image from a previously persisted snapshot entity, before Start is
// called on a process that is resuming rather than bootstrapping fresh.
func (n *Node) RecoverFrom(entity snapshotstore.Entity) error {
	if err := n.sm.Recover(entity.Snapshot); err != nil {
		return err
	}
	n.mu.Lock()
	n.term = entity.Term
	n.commitIndex = entity.CommitIndex
	n.lastApplied = entity.LastApplied
	n.mu.Unlock()
	n.log.Info().Uint64("term", entity.Term).Uint64("commit_index", entity.CommitIndex).Msg("recovered from snapshot")
	return nil
}

// AttachHeartbeat wires the Heartbeat/Liveness SM in after construction.
// Heartbeat's CommandSubmitter/LeaderChecker are satisfied by this same
// Node, so callers build the Node first (with a nil Heartbeat) and only
// then construct heartbeat.New(node, node) and attach it, rather than
// threading a not-yet-existent pointer through Options.
func (n *Node) AttachHeartbeat(hb *heartbeat.Heartbeat) {
	n.hb = hb
}

// Start seeds the election timer and launches the sentinel loop, along
// with the heartbeat liveness ticker it owns.
func (n *Node) Start() {
	n.mu.Lock()
	if n.role == RoleUndefined {
		n.role = RoleFollower
	}
	n.lastCheckedMs = n.nowFn()
	n.mu.Unlock()

	if n.hb != nil {
		n.hb.Start()
	}
	go n.sentinelLoop()
}

// Shutdown transitions the node to Offline, which the sentinel loop and
// liveness ticker observe cooperatively and exit on.
func (n *Node) Shutdown() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	n.role = RoleOffline
	n.leader = nil
	n.mu.Unlock()

	if n.hb != nil {
		n.hb.Shutdown()
	}
	close(n.stopCh)
	n.sm.ClearSubs()
}

func (n *Node) sentinelLoop() {
	ticker := time.NewTicker(CheckerMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.tick() {
				return
			}
		}
	}
}

// tick performs one sentinel pass and returns true if the loop should
// exit. Mutating decisions are made under the write lock; any resulting
// RPC fan-out is dispatched afterward.
func (n *Node) tick() bool {
	n.mu.Lock()
	now := n.nowFn()

	switch n.role {
	case RoleLeader:
		if now-n.lastCheckedMs >= HeartbeatMs {
			n.lastCheckedMs = now
			n.mu.Unlock()
			go n.sendFollowersHeartbeat(nil, true)
			return false
		}
	case RoleFollower, RoleCandidate:
		if n.voteFor == nil && n.lastCheckedMs+n.electionTimeoutMs < now {
			term, lastLogID, lastLogTerm := n.becomeCandidateLocked()
			n.mu.Unlock()
			go n.runElection(term, lastLogID, lastLogTerm)
			return false
		}
	case RoleOffline:
		n.mu.Unlock()
		return true
	case RoleUndefined:
		// no action
	}
	n.mu.Unlock()
	return false
}

// drainPendingCommitsLocked applies every committed-but-unapplied entry in
// strictly increasing id order. Must be called with n.mu held.
func (n *Node) drainPendingCommitsLocked() {
	for n.commitIndex > n.lastApplied {
		n.lastApplied++
		entry, ok := n.logs.Get(n.lastApplied)
		if !ok {
			n.log.Error().Uint64("id", n.lastApplied).Msg("commit index advanced past a missing log entry")
			continue
		}
		if _, err := n.sm.CommitCmd(entry); err != nil {
			n.log.Error().Err(err).Uint64("id", entry.ID).Msg("commit_cmd dispatch failed")
		}
	}
	metrics.LastApplied.Set(float64(n.lastApplied))
	metrics.CommitIndex.Set(float64(n.commitIndex))
}

func (n *Node) refreshMetricsLocked() {
	metrics.Term.Set(float64(n.term))
	if n.role == RoleLeader {
		metrics.IsLeader.Set(1)
	} else {
		metrics.IsLeader.Set(0)
	}
	metrics.MembersTotal.Set(float64(n.config.Size()))
	metrics.LogLength.Set(float64(n.logs.Len()))
}
