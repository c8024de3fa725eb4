// Package logstore implements the Log Store: a dense, monotonic id -> entry
// map with insert-if-absent append semantics and bbolt-backed durability.
// Grounded in the orchestrator's BoltStore usage pattern (pkg/storage),
// generalized from per-entity CRUD to an ordered log map.
package logstore

import (
	"sort"
	"sync"

	"github.com/quorumforge/raftd/pkg/storage"
	"github.com/quorumforge/raftd/pkg/types"
)

// Store is the Log Store: an ordered id -> entry map, dense and monotonic
// after the earliest retained id.
type Store struct {
	mu      sync.RWMutex
	entries map[uint64]types.LogEntry
	first   uint64
	last    uint64
	backing storage.Store
}

// New returns an empty, in-memory-only Log Store.
func New() *Store {
	return &Store{entries: make(map[uint64]types.LogEntry)}
}

// Open returns a Log Store backed by backing, replaying any persisted
// records before returning.
func Open(backing storage.Store) (*Store, error) {
	s := &Store{entries: make(map[uint64]types.LogEntry), backing: backing}
	if backing == nil {
		return s, nil
	}

	recs, err := backing.LoadLogs()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		entry := types.LogEntry{ID: rec.ID, Term: rec.Term, SMID: rec.SMID, FnID: rec.FnID, Data: rec.Data}
		s.entries[entry.ID] = entry
		if entry.ID > s.last {
			s.last = entry.ID
		}
	}
	s.recomputeFirstLocked()
	return s, nil
}

func (s *Store) recomputeFirstLocked() {
	if len(s.entries) == 0 {
		s.first = 0
		return
	}
	ids := make([]uint64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.first = ids[0]
}

// Append inserts entry if its id is not already present; an existing entry
// at that id is never overwritten, matching follower-replication semantics.
func (s *Store) Append(entry types.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return nil
	}
	s.entries[entry.ID] = entry
	if entry.ID > s.last {
		s.last = entry.ID
	}
	if s.first == 0 || entry.ID < s.first {
		s.first = entry.ID
	}

	if s.backing != nil {
		return s.backing.PutLog(storage.LogRecord{ID: entry.ID, Term: entry.Term, SMID: entry.SMID, FnID: entry.FnID, Data: entry.Data})
	}
	return nil
}

// TruncateFrom removes id and every entry with a greater id.
func (s *Store) TruncateFrom(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for existing := range s.entries {
		if existing >= id {
			delete(s.entries, existing)
		}
	}
	s.recomputeFirstLocked()
	if id > 0 {
		s.last = id - 1
	} else {
		s.last = 0
	}
	if len(s.entries) == 0 {
		s.first, s.last = 0, 0
	}

	if s.backing != nil {
		return s.backing.DeleteLogFrom(id)
	}
	return nil
}

// Get returns the entry at id, if present.
func (s *Store) Get(id uint64) (types.LogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// RangeFrom returns every entry with id >= from, in ascending id order.
func (s *Store) RangeFrom(from uint64) []types.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint64, 0, len(s.entries))
	for id := range s.entries {
		if id >= from {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]types.LogEntry, len(ids))
	for i, id := range ids {
		out[i] = s.entries[id]
	}
	return out
}

// First returns the lowest retained id, or 0 if the store is empty.
func (s *Store) First() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.first
}

// Last returns the highest appended id, or 0 if the store is empty.
func (s *Store) Last() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Len returns the number of entries currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TrimOldestTo deletes the lowest-id entries until only keep entries
// remain, used by log post-processing once their effects are captured in a
// fresh snapshot.
func (s *Store) TrimOldestTo(keep int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) <= keep {
		return
	}
	ids := make([]uint64, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	toRemove := len(ids) - keep
	for i := 0; i < toRemove; i++ {
		delete(s.entries, ids[i])
	}
	s.recomputeFirstLocked()
	// Persist rewrites the backing store wholesale; DeleteLogFrom only
	// expresses "drop a contiguous tail", not "drop a prefix".
}

// Persist rewrites every retained entry to the backing store, used after
// trimming since DeleteLogFrom only expresses "remove a contiguous tail".
func (s *Store) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backing == nil {
		return nil
	}
	if err := s.backing.DeleteLogFrom(0); err != nil {
		return err
	}
	for _, entry := range s.entries {
		if err := s.backing.PutLog(storage.LogRecord{ID: entry.ID, Term: entry.Term, SMID: entry.SMID, FnID: entry.FnID, Data: entry.Data}); err != nil {
			return err
		}
	}
	return nil
}

// TermAt returns the term of the entry at id, or 0 if id is 0 or absent
// (id=0 denotes "no log" per the data model).
func (s *Store) TermAt(id uint64) uint64 {
	if id == 0 {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.entries[id]; ok {
		return entry.Term
	}
	return 0
}
