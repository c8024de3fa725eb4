package logstore

import (
	"testing"

	"github.com/quorumforge/raftd/pkg/storage"
	"github.com/quorumforge/raftd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendNeverOverwrites(t *testing.T) {
	s := New()
	require.NoError(t, s.Append(types.LogEntry{ID: 1, Term: 1, Data: []byte("a")}))
	require.NoError(t, s.Append(types.LogEntry{ID: 1, Term: 2, Data: []byte("b")}))

	entry, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint64(1), entry.Term)
	assert.Equal(t, []byte("a"), entry.Data)
}

func TestFirstLastLen(t *testing.T) {
	s := New()
	assert.Equal(t, uint64(0), s.First())
	assert.Equal(t, uint64(0), s.Last())
	assert.Equal(t, 0, s.Len())

	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, s.Append(types.LogEntry{ID: id, Term: 1}))
	}
	assert.Equal(t, uint64(1), s.First())
	assert.Equal(t, uint64(5), s.Last())
	assert.Equal(t, 5, s.Len())
}

func TestRangeFromOrdersAscending(t *testing.T) {
	s := New()
	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, s.Append(types.LogEntry{ID: id, Term: 1}))
	}
	entries := s.RangeFrom(2)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(2), entries[0].ID)
	assert.Equal(t, uint64(3), entries[1].ID)
}

func TestTruncateFromRemovesIDAndGreater(t *testing.T) {
	s := New()
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, s.Append(types.LogEntry{ID: id, Term: 1}))
	}
	require.NoError(t, s.TruncateFrom(3))
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(2), s.Last())
	_, ok := s.Get(3)
	assert.False(t, ok)
}

func TestTermAtZeroMeansNoLog(t *testing.T) {
	s := New()
	assert.Equal(t, uint64(0), s.TermAt(0))
	require.NoError(t, s.Append(types.LogEntry{ID: 1, Term: 7}))
	assert.Equal(t, uint64(7), s.TermAt(1))
	assert.Equal(t, uint64(0), s.TermAt(99))
}

func TestTrimOldestTo(t *testing.T) {
	s := New()
	for id := uint64(1); id <= 10; id++ {
		require.NoError(t, s.Append(types.LogEntry{ID: id, Term: 1}))
	}
	s.TrimOldestTo(4)
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, uint64(7), s.First())
	assert.Equal(t, uint64(10), s.Last())
}

func TestOpenReplaysBackingStore(t *testing.T) {
	dir := t.TempDir()
	backing, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	s, err := Open(backing)
	require.NoError(t, err)
	require.NoError(t, s.Append(types.LogEntry{ID: 1, Term: 1, Data: []byte("x")}))
	require.NoError(t, s.Append(types.LogEntry{ID: 2, Term: 1, Data: []byte("y")}))
	require.NoError(t, backing.Close())

	backing2, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer backing2.Close()

	reopened, err := Open(backing2)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, uint64(2), reopened.Last())
}
