package snapshotstore

import (
	"testing"

	"github.com/quorumforge/raftd/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBeforeSaveReportsAbsent(t *testing.T) {
	s := New()
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.Save(Entity{Term: 3, CommitIndex: 9, LastApplied: 9, Snapshot: []byte("img")}))

	entity, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, uint64(3), entity.Term)
	assert.Equal(t, []byte("img"), entity.Snapshot)
}

func TestOpenReplaysBackingStore(t *testing.T) {
	dir := t.TempDir()
	backing, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	s, err := Open(backing)
	require.NoError(t, err)
	require.NoError(t, s.Save(Entity{Term: 5, CommitIndex: 1, LastApplied: 1, Snapshot: []byte("z")}))
	require.NoError(t, backing.Close())

	backing2, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer backing2.Close()

	reopened, err := Open(backing2)
	require.NoError(t, err)
	entity, ok := reopened.Load()
	require.True(t, ok)
	assert.Equal(t, uint64(5), entity.Term)
	assert.Equal(t, []byte("z"), entity.Snapshot)
}
