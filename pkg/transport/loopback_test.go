package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReceiver struct {
	appendReply  AppendEntriesReply
	voteReply    RequestVoteReply
	installReply InstallSnapshotReply
}

func (s *stubReceiver) AppendEntries(args AppendEntriesArgs) (AppendEntriesReply, error) {
	return s.appendReply, nil
}

func (s *stubReceiver) RequestVote(args RequestVoteArgs) (RequestVoteReply, error) {
	return s.voteReply, nil
}

func (s *stubReceiver) InstallSnapshot(args InstallSnapshotArgs) (InstallSnapshotReply, error) {
	return s.installReply, nil
}

func TestLoopbackDialUnknownAddressFails(t *testing.T) {
	reg := NewLoopbackRegistry()
	_, err := reg.Dialer().Dial("127.0.0.1:9999")
	assert.Error(t, err)
}

func TestLoopbackRoundTrip(t *testing.T) {
	reg := NewLoopbackRegistry()
	recv := &stubReceiver{voteReply: RequestVoteReply{Term: 3, Granted: true}}
	reg.Register("node-a", recv)

	client, err := reg.Dialer().Dial("node-a")
	require.NoError(t, err)

	reply, err := client.RequestVote(RequestVoteArgs{Term: 3, CandidateID: 1})
	require.NoError(t, err)
	assert.True(t, reply.Granted)
	assert.Equal(t, uint64(3), reply.Term)
}

func TestLoopbackUnregisterRemovesNode(t *testing.T) {
	reg := NewLoopbackRegistry()
	reg.Register("node-a", &stubReceiver{})
	reg.Unregister("node-a")

	_, err := reg.Dialer().Dial("node-a")
	assert.Error(t, err)
}
