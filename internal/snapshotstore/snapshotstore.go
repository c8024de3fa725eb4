// Package snapshotstore implements the Snapshot Store: the durable
// checkpoint of term, commit and apply watermarks alongside the Master
// SM's deterministic byte image, backed by pkg/storage the same way
// internal/logstore is.
package snapshotstore

import (
	"sync"

	"github.com/quorumforge/raftd/pkg/storage"
)

// Entity is the Snapshot Entity: {term, commit_index, last_applied,
// snapshot: bytes}.
type Entity struct {
	Term        uint64
	CommitIndex uint64
	LastApplied uint64
	Snapshot    []byte
}

// Store holds the single most recent Snapshot Entity, persisted through an
// optional storage.Store backing.
type Store struct {
	mu      sync.RWMutex
	current Entity
	have    bool
	backing storage.Store
}

// New returns an empty, in-memory-only Snapshot Store.
func New() *Store {
	return &Store{}
}

// Open returns a Snapshot Store backed by backing, loading any persisted
// entity before returning.
func Open(backing storage.Store) (*Store, error) {
	s := &Store{backing: backing}
	if backing == nil {
		return s, nil
	}
	rec, ok, err := backing.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if ok {
		s.current = Entity{Term: rec.Term, CommitIndex: rec.CommitIndex, LastApplied: rec.LastApplied, Snapshot: rec.Image}
		s.have = true
	}
	return s, nil
}

// Save replaces the persisted Snapshot Entity and fsyncs it through the
// backing store, if configured.
func (s *Store) Save(entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = entity
	s.have = true
	if s.backing == nil {
		return nil
	}
	return s.backing.PutSnapshot(storage.SnapshotRecord{
		Term:        entity.Term,
		CommitIndex: entity.CommitIndex,
		LastApplied: entity.LastApplied,
		Image:       entity.Snapshot,
	})
}

// Load returns the current Snapshot Entity, or ok=false if none exists yet.
func (s *Store) Load() (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.have
}
