package consensus

import (
	"testing"
	"time"

	"github.com/quorumforge/raftd/internal/logstore"
	"github.com/quorumforge/raftd/internal/snapshotstore"
	"github.com/quorumforge/raftd/internal/statemachine"
	"github.com/quorumforge/raftd/internal/statemachine/configsm"
	"github.com/quorumforge/raftd/pkg/hashid"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEchoSM is a trivial sub state machine registered at HeartbeatSMID in
// test clusters that need some non-membership sm_id to commit commands
// against, without pulling in the real liveness tracker's dependencies.
type testEchoSM struct{}

func (testEchoSM) CommitCmd(fnID uint64, data []byte) ([]byte, error) { return data, nil }
func (testEchoSM) ExecQry(fnID uint64, data []byte) ([]byte, error)   { return data, nil }
func (testEchoSM) Snapshot() []byte                                   { return nil }
func (testEchoSM) Recover(data []byte) error                          { return nil }

// testCluster wires up n independent Nodes on a shared loopback registry,
// addressed "node-0".."node-(n-1)", all starting Undefined.
type testCluster struct {
	registry *transport.LoopbackRegistry
	nodes    []*Node
}

func addrFor(i int) string {
	return "node-" + string(rune('0'+i))
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()
	registry := transport.NewLoopbackRegistry()
	tc := &testCluster{registry: registry}

	for i := 0; i < n; i++ {
		addr := addrFor(i)
		config := configsm.New(registry.Dialer())
		registryS := statemachine.NewRegistry()
		registryS.Register(types.ConfigSMID, config)
		registryS.Register(types.HeartbeatSMID, testEchoSM{})

		node := NewNode(Options{
			SelfID:      hashid.Of(addr),
			SelfAddress: addr,
			Logs:        logstore.New(),
			Registry:    registryS,
			Config:      config,
			Snapshots:   snapshotstore.New(),
			Dialer:      registry.Dialer(),
		})
		registry.Register(addr, node)
		tc.nodes = append(tc.nodes, node)
	}
	return tc
}

func TestBootstrapBecomesLeaderOfOne(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	assert.Equal(t, RoleLeader, n.Role())
	assert.Equal(t, n.SelfID(), n.LeaderID())
	assert.Equal(t, uint64(1), n.Term())
}

func TestJoinAsFollowerSeedsMembersAndRole(t *testing.T) {
	tc := newTestCluster(t, 2)
	leader, follower := tc.nodes[0], tc.nodes[1]
	leader.Bootstrap()

	follower.JoinAsFollower([]configsm.Member{
		{ID: leader.SelfID(), Address: leader.selfAddress},
		{ID: follower.SelfID(), Address: follower.selfAddress},
	}, leader.SelfID())

	assert.Equal(t, RoleFollower, follower.Role())
	assert.Equal(t, leader.SelfID(), follower.LeaderID())
}

func TestRequestVoteRejectsStaleTerm(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap() // term becomes 1

	reply, err := n.RequestVote(transport.RequestVoteArgs{Term: 0, CandidateID: 999})
	require.NoError(t, err)
	assert.False(t, reply.Granted)
	assert.Equal(t, uint64(1), reply.Term)
}

func TestRequestVoteRejectsUnknownCandidate(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	reply, err := n.RequestVote(transport.RequestVoteArgs{Term: 5, CandidateID: 999})
	require.NoError(t, err)
	assert.False(t, reply.Granted)
}

func TestRequestVoteGrantsKnownCandidateWithUpToDateLog(t *testing.T) {
	tc := newTestCluster(t, 2)
	leader, follower := tc.nodes[0], tc.nodes[1]
	leader.Bootstrap()
	follower.JoinAsFollower([]configsm.Member{
		{ID: leader.SelfID(), Address: leader.selfAddress},
		{ID: follower.SelfID(), Address: follower.selfAddress},
	}, leader.SelfID())
	leader.config.NewMember(follower.selfAddress)

	reply, err := follower.RequestVote(transport.RequestVoteArgs{
		Term:        follower.Term() + 1,
		CandidateID: leader.SelfID(),
	})
	require.NoError(t, err)
	assert.True(t, reply.Granted)
}

func TestAppendEntriesRejectsOlderTerm(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap() // term 1

	reply, err := n.AppendEntries(transport.AppendEntriesArgs{Term: 0, LeaderID: 42})
	require.NoError(t, err)
	assert.Equal(t, transport.AppendTermOut, reply.Outcome)
}

func TestAppendEntriesStepsDownCandidateOnHigherTerm(t *testing.T) {
	tc := newTestCluster(t, 2)
	leader, follower := tc.nodes[0], tc.nodes[1]
	leader.Bootstrap()
	follower.JoinAsFollower(nil, leader.SelfID())

	follower.mu.Lock()
	follower.becomeCandidateLocked()
	follower.mu.Unlock()
	require.Equal(t, RoleCandidate, follower.Role())

	reply, err := follower.AppendEntries(transport.AppendEntriesArgs{Term: follower.Term() + 1, LeaderID: leader.SelfID()})
	require.NoError(t, err)
	assert.Equal(t, transport.AppendOk, reply.Outcome)
	assert.Equal(t, RoleFollower, follower.Role())
}

func TestAppendEntriesDetectsLogMismatchAndTruncates(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()
	require.NoError(t, n.logs.Append(types.LogEntry{ID: 1, Term: 1}))

	reply, err := n.AppendEntries(transport.AppendEntriesArgs{
		Term:        n.Term(),
		LeaderID:    n.SelfID(),
		PrevLogID:   1,
		PrevLogTerm: 99, // mismatched term at id 1
	})
	require.NoError(t, err)
	assert.Equal(t, transport.AppendLogMismatch, reply.Outcome)
	_, ok := n.logs.Get(1)
	assert.False(t, ok)
}

func TestInstallSnapshotRejectsStaleTerm(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap() // term 1

	reply, err := n.InstallSnapshot(transport.InstallSnapshotArgs{Term: 0})
	require.NoError(t, err)
	assert.Equal(t, n.Term(), reply.Term)
	assert.Equal(t, uint64(0), n.LastApplied())
}

func TestInstallSnapshotAdoptsWatermarks(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	image := n.sm.Snapshot()
	newTerm := n.Term() + 5
	reply, err := n.InstallSnapshot(transport.InstallSnapshotArgs{
		Term:              newTerm,
		LeaderID:          999,
		LastIncludedIndex: 42,
		LastIncludedTerm:  newTerm,
		Data:              image,
	})
	require.NoError(t, err)
	assert.Equal(t, newTerm, reply.Term)
	assert.Equal(t, uint64(42), n.CommitIndex())
	assert.Equal(t, uint64(42), n.LastApplied())
}

func TestRecoverFromRestoresWatermarksAndSubState(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	entity := snapshotstore.Entity{Term: 9, CommitIndex: 3, LastApplied: 3, Snapshot: n.sm.Snapshot()}
	require.NoError(t, n.RecoverFrom(entity))

	assert.Equal(t, uint64(9), n.Term())
	assert.Equal(t, uint64(3), n.CommitIndex())
	assert.Equal(t, uint64(3), n.LastApplied())
}

func TestThreeNodeClusterLeaderReplicatesCommand(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.nodes[0]
	leader.Bootstrap()
	for _, follower := range tc.nodes[1:] {
		leader.config.NewMember(follower.selfAddress)
		follower.JoinAsFollower(leader.config.AllMembers(), leader.SelfID())
		follower.config.NewMember(leader.selfAddress)
		for _, peer := range tc.nodes[1:] {
			follower.config.NewMember(peer.selfAddress)
		}
	}
	leader.mu.Lock()
	leader.becomeLeaderLocked(leader.logs.Last())
	leader.mu.Unlock()

	reply, err := leader.CCommand(transport.CCommandArgs{SMID: types.HeartbeatSMID, FnID: 0, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, transport.CommandSuccess, reply.Outcome)

	// CCommand returns once a majority has the entry; replication to the
	// remaining follower may still be in flight.
	for _, follower := range tc.nodes[1:] {
		follower := follower
		require.Eventually(t, func() bool {
			_, ok := follower.logs.Get(reply.ID)
			return ok
		}, time.Second, 10*time.Millisecond)
		entry, ok := follower.logs.Get(reply.ID)
		assert.True(t, ok)
		assert.Equal(t, []byte("x"), entry.Data)
	}
}

func TestCCommandRejectsWhenNotLeader(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	// role stays RoleUndefined; never bootstrapped or joined.
	reply, err := n.CCommand(transport.CCommandArgs{SMID: types.HeartbeatSMID, FnID: 0, Data: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, transport.CommandNotLeader, reply.Outcome)
}

func TestCQueryReportsLeftBehindOnStaleView(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	reply, err := n.CQuery(transport.CQueryArgs{SMID: types.ConfigSMID, FnID: configsm.FnMemberAddresses, ID: n.logs.Last() + 10})
	require.NoError(t, err)
	assert.Equal(t, transport.QueryLeftBehind, reply.Outcome)
}

func TestCHaveStateMachine(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]

	reply, err := n.CHaveStateMachine(transport.CHaveStateMachineArgs{SMID: types.ConfigSMID})
	require.NoError(t, err)
	assert.True(t, reply.Have)

	reply, err = n.CHaveStateMachine(transport.CHaveStateMachineArgs{SMID: 777})
	require.NoError(t, err)
	assert.False(t, reply.Have)
}

func TestCPutOfflineTransitionsToOffline(t *testing.T) {
	tc := newTestCluster(t, 1)
	n := tc.nodes[0]
	n.Bootstrap()

	reply, err := n.CPutOffline(transport.CPutOfflineArgs{})
	require.NoError(t, err)
	assert.True(t, reply.Ok)
	assert.Equal(t, RoleOffline, n.Role())
}

func TestSentinelLoopElectsLeaderAfterTimeout(t *testing.T) {
	tc := newTestCluster(t, 3)
	leader := tc.nodes[0]
	leader.Bootstrap()
	for _, follower := range tc.nodes[1:] {
		leader.config.NewMember(follower.selfAddress)
	}
	for _, follower := range tc.nodes[1:] {
		follower.JoinAsFollower(leader.config.AllMembers(), leader.SelfID())
	}

	candidate := tc.nodes[1]
	candidate.mu.Lock()
	candidate.lastCheckedMs = candidate.nowFn() - ElectionMaxMs - 1
	candidate.mu.Unlock()

	done := candidate.tick()
	assert.False(t, done)
	// tick() dispatches the election asynchronously; give it a moment.
	require.Eventually(t, func() bool {
		return candidate.Role() == RoleCandidate || candidate.Role() == RoleLeader
	}, time.Second, 10*time.Millisecond)
}
