// Package configsm implements the Config SM: the reserved sub state
// machine that owns cluster membership. Grounded the same way as the rest
// of internal/statemachine on the orchestrator's Apply-dispatch pattern,
// with membership stored as a map and serialized deterministically for
// Master SM snapshots.
package configsm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quorumforge/raftd/pkg/hashid"
	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"
)

// Command and query fn_ids dispatched within the Config SM.
const (
	FnNewMember = uint64(iota)
	FnDelMember
)

const (
	FnMemberAddresses = uint64(iota)
	FnMemberExisted
)

// Member is a cluster member as the Config SM knows it: a stable id and
// the address it was last known to answer at. RPC handles are never stored
// on the member itself, to avoid the cyclic reference a live transport
// back-pointer would create; ConfigSM reconstructs them lazily from address.
type Member struct {
	ID      uint64
	Address string
}

// ConfigSM is the reserved sub-SM at types.ConfigSMID.
type ConfigSM struct {
	mu      sync.RWMutex
	members map[uint64]Member
	dialer  transport.Dialer
	clients map[uint64]transport.PeerClient
}

// New returns an empty Config SM. dialer may be nil; PeerHandle then always
// fails, which is fine for nodes that never need to originate peer RPCs
// (e.g. a read-only inspection tool).
func New(dialer transport.Dialer) *ConfigSM {
	return &ConfigSM{
		members: make(map[uint64]Member),
		dialer:  dialer,
		clients: make(map[uint64]transport.PeerClient),
	}
}

// NewMember idempotently adds address, returning true iff it was not
// already a member.
func (c *ConfigSM) NewMember(address string) bool {
	id := hashid.Of(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.members[id]; exists {
		return false
	}
	c.members[id] = Member{ID: id, Address: address}
	return true
}

// DelMember removes address, returning true iff it was present.
func (c *ConfigSM) DelMember(address string) bool {
	id := hashid.Of(address)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.members[id]; !exists {
		return false
	}
	delete(c.members, id)
	if client, ok := c.clients[id]; ok {
		client.Close()
		delete(c.clients, id)
	}
	return true
}

// MemberAddresses returns every member's address, in ascending id order
// for deterministic output.
func (c *ConfigSM) MemberAddresses() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedAddressesLocked()
}

func (c *ConfigSM) sortedAddressesLocked() []string {
	members := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	addrs := make([]string, len(members))
	for i, m := range members {
		addrs[i] = m.Address
	}
	return addrs
}

// MemberExisted reports whether id is currently a member.
func (c *ConfigSM) MemberExisted(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.members[id]
	return ok
}

// AllMembers returns a copy of every member, sorted by id.
func (c *ConfigSM) AllMembers() []Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// Size returns the number of members, used for majority arithmetic.
func (c *ConfigSM) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.members)
}

// PeerHandle lazily dials (and caches) a PeerClient for id's address.
func (c *ConfigSM) PeerHandle(id uint64) (transport.PeerClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[id]; ok {
		return client, nil
	}
	member, ok := c.members[id]
	if !ok {
		return nil, fmt.Errorf("configsm: no member %d", id)
	}
	if c.dialer == nil {
		return nil, fmt.Errorf("configsm: no dialer configured")
	}
	client, err := c.dialer.Dial(member.Address)
	if err != nil {
		return nil, err
	}
	c.clients[id] = client
	return client, nil
}

// --- statemachine.StateMachine ---

type newMemberArgs struct {
	Address string `json:"address"`
}

type delMemberArgs struct {
	Address string `json:"address"`
}

type memberExistedArgs struct {
	ID uint64 `json:"id"`
}

func (c *ConfigSM) CommitCmd(fnID uint64, data []byte) ([]byte, error) {
	switch fnID {
	case FnNewMember:
		var args newMemberArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(c.NewMember(args.Address))
	case FnDelMember:
		var args delMemberArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(c.DelMember(args.Address))
	default:
		return nil, types.ErrUnknownFunction
	}
}

func (c *ConfigSM) ExecQry(fnID uint64, data []byte) ([]byte, error) {
	switch fnID {
	case FnMemberAddresses:
		return json.Marshal(c.MemberAddresses())
	case FnMemberExisted:
		var args memberExistedArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(c.MemberExisted(args.ID))
	default:
		return nil, types.ErrUnknownFunction
	}
}

type wireMember struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// Snapshot serializes members sorted by id, so two replicas with the same
// membership always produce byte-identical images.
func (c *ConfigSM) Snapshot() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	members := make([]wireMember, 0, len(c.members))
	ids := make([]uint64, 0, len(c.members))
	for id := range c.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m := c.members[id]
		members = append(members, wireMember{ID: m.ID, Address: m.Address})
	}

	data, err := json.Marshal(members)
	if err != nil {
		// members only ever contains plain strings and uint64s; Marshal
		// cannot fail on this shape.
		panic(err)
	}
	return data
}

// Recover replaces the membership set from a Snapshot() image. RPC handles
// are not restored; PeerHandle reconstructs them lazily on first use.
func (c *ConfigSM) Recover(data []byte) error {
	var members []wireMember
	if err := json.Unmarshal(data, &members); err != nil {
		return fmt.Errorf("configsm: recover: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = make(map[uint64]Member, len(members))
	for _, m := range members {
		c.members[m.ID] = Member{ID: m.ID, Address: m.Address}
	}
	for id, client := range c.clients {
		client.Close()
		delete(c.clients, id)
	}
	return nil
}
