// Package statemachine implements the Master SM: a registry that dispatches
// committed log entries to sub state machines by id, and folds their images
// into one deterministic snapshot. Grounded in the orchestrator's manager
// FSM Apply-dispatch-by-Op switch (pkg/manager/fsm.go), generalized from a
// single fixed FSM to a sm_id/fn_id-addressed registry of many sub-SMs.
package statemachine

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/quorumforge/raftd/pkg/types"
)

// StateMachine is a single sub state machine owned by the registry. Command
// dispatch must be deterministic: identical ordered inputs must produce
// identical outputs and state across every replica.
type StateMachine interface {
	CommitCmd(fnID uint64, data []byte) ([]byte, error)
	ExecQry(fnID uint64, data []byte) ([]byte, error)
	Snapshot() []byte
	Recover(data []byte) error
}

// MemberLister is implemented by the Config SM so Registry.Members() can
// offer a direct shortcut without the registry importing the configsm type.
type MemberLister interface {
	MemberAddresses() []string
}

// Registry is the Master SM: sm_id -> sub state machine.
type Registry struct {
	mu   sync.RWMutex
	subs map[uint64]StateMachine
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]StateMachine)}
}

// Register attaches sm under id, replacing whatever was there before.
func (r *Registry) Register(id uint64, sm StateMachine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = sm
}

// HasSub reports whether id is registered.
func (r *Registry) HasSub(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.subs[id]
	return ok
}

// ClearSubs removes every registered sub state machine.
func (r *Registry) ClearSubs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[uint64]StateMachine)
}

// Members shortcuts to the Config SM's member_addresses(), if registered.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sm, ok := r.subs[types.ConfigSMID]
	if !ok {
		return nil
	}
	lister, ok := sm.(MemberLister)
	if !ok {
		return nil
	}
	return lister.MemberAddresses()
}

// CommitCmd dispatches a committed entry to its sub state machine's command
// path. An unknown sm_id is rejected before any sub state machine runs;
// fn_id and argument decoding are checked by the sub state machine itself,
// and its error is returned wrapped in an ExecError.
func (r *Registry) CommitCmd(entry types.LogEntry) (types.ExecResult, error) {
	r.mu.RLock()
	sm, ok := r.subs[entry.SMID]
	r.mu.RUnlock()
	if !ok {
		return types.ExecResult{}, &types.ExecError{Op: "commit_cmd", Err: types.ErrUnknownStateMachine}
	}

	data, err := sm.CommitCmd(entry.FnID, entry.Data)
	if err != nil {
		return types.ExecResult{}, &types.ExecError{Op: "commit_cmd", Err: err}
	}
	return types.ExecResult{Data: data}, nil
}

// ExecQry dispatches a read-only entry the same way CommitCmd dispatches a
// committed one, without mutating any sub state machine.
func (r *Registry) ExecQry(entry types.LogEntry) (types.ExecResult, error) {
	r.mu.RLock()
	sm, ok := r.subs[entry.SMID]
	r.mu.RUnlock()
	if !ok {
		return types.ExecResult{}, &types.ExecError{Op: "exec_qry", Err: types.ErrUnknownStateMachine}
	}

	data, err := sm.ExecQry(entry.FnID, entry.Data)
	if err != nil {
		return types.ExecResult{}, &types.ExecError{Op: "exec_qry", Err: err}
	}
	return types.ExecResult{Data: data}, nil
}

// Snapshot concatenates every sub state machine's image, ordered by sm_id
// so the result is byte-identical across replicas: for each sub, an 8-byte
// big-endian sm_id, a 4-byte big-endian length, then that many image bytes.
func (r *Registry) Snapshot() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	for _, id := range ids {
		image := r.subs[id].Snapshot()
		header := make([]byte, 12)
		binary.BigEndian.PutUint64(header[0:8], id)
		binary.BigEndian.PutUint32(header[8:12], uint32(len(image)))
		out = append(out, header...)
		out = append(out, image...)
	}
	return out
}

// Recover replays a Snapshot() image against the currently registered sub
// state machines, in the order the bytes were written.
func (r *Registry) Recover(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(data) > 0 {
		if len(data) < 12 {
			return fmt.Errorf("statemachine: truncated snapshot header")
		}
		id := binary.BigEndian.Uint64(data[0:8])
		length := binary.BigEndian.Uint32(data[8:12])
		data = data[12:]
		if uint32(len(data)) < length {
			return fmt.Errorf("statemachine: truncated snapshot body for sm %d", id)
		}
		image := data[:length]
		data = data[length:]

		sm, ok := r.subs[id]
		if !ok {
			return fmt.Errorf("statemachine: recover for unregistered sm %d", id)
		}
		if err := sm.Recover(image); err != nil {
			return fmt.Errorf("statemachine: recover sm %d: %w", id, err)
		}
	}
	return nil
}
