package raftclient

import (
	"net"
	"testing"
	"time"

	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct{}

func (stubPeer) AppendEntries(transport.AppendEntriesArgs) (transport.AppendEntriesReply, error) {
	return transport.AppendEntriesReply{}, nil
}
func (stubPeer) RequestVote(transport.RequestVoteArgs) (transport.RequestVoteReply, error) {
	return transport.RequestVoteReply{}, nil
}
func (stubPeer) InstallSnapshot(transport.InstallSnapshotArgs) (transport.InstallSnapshotReply, error) {
	return transport.InstallSnapshotReply{}, nil
}

type stubClient struct {
	leaderID uint64
	members  []transport.MemberInfo
}

func (s *stubClient) CCommand(args transport.CCommandArgs) (transport.CCommandReply, error) {
	return transport.CCommandReply{Outcome: transport.CommandSuccess, Data: args.Data, ID: 1, Term: 1}, nil
}
func (s *stubClient) CQuery(args transport.CQueryArgs) (transport.CQueryReply, error) {
	return transport.CQueryReply{Outcome: transport.QuerySuccess, Data: args.Data}, nil
}
func (s *stubClient) CServerClusterInfo(transport.CServerClusterInfoArgs) (transport.CServerClusterInfoReply, error) {
	return transport.CServerClusterInfoReply{Members: s.members, LeaderID: s.leaderID}, nil
}
func (s *stubClient) CPutOffline(transport.CPutOfflineArgs) (transport.CPutOfflineReply, error) {
	return transport.CPutOfflineReply{Ok: true}, nil
}
func (s *stubClient) CHaveStateMachine(transport.CHaveStateMachineArgs) (transport.CHaveStateMachineReply, error) {
	return transport.CHaveStateMachineReply{Have: true}, nil
}
func (s *stubClient) CPing(transport.CPingArgs) (transport.CPingReply, error) {
	return transport.CPingReply{Ok: true}, nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestNewConnectsAndLearnsLeader(t *testing.T) {
	addr := freeAddr(t)
	recv := &stubClient{leaderID: 1, members: []transport.MemberInfo{{ID: 1, Address: addr}}}
	srv, err := transport.ServeNode(addr, stubPeer{}, recv)
	require.NoError(t, err)
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	c, err := New([]string{addr}, 500*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, uint64(1), c.LeaderID())
}

func TestExecuteReturnsSuccess(t *testing.T) {
	addr := freeAddr(t)
	recv := &stubClient{leaderID: 1, members: []transport.MemberInfo{{ID: 1, Address: addr}}}
	srv, err := transport.ServeNode(addr, stubPeer{}, recv)
	require.NoError(t, err)
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	c, err := New([]string{addr}, 500*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	result, id, term, err := c.Execute(0, 0, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), result.Data)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, uint64(1), term)
}

func TestProbeServersFindsLiveAddress(t *testing.T) {
	addr := freeAddr(t)
	recv := &stubClient{leaderID: 1}
	srv, err := transport.ServeNode(addr, stubPeer{}, recv)
	require.NoError(t, err)
	defer srv.Close()
	time.Sleep(20 * time.Millisecond)

	assert.True(t, ProbeServers([]string{addr}, "self-addr", 500*time.Millisecond))
}

func TestProbeServersSkipsSelf(t *testing.T) {
	assert.False(t, ProbeServers([]string{"127.0.0.1:1"}, "127.0.0.1:1", 200*time.Millisecond))
}
