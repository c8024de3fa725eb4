// Package heartbeat implements the Heartbeat/Liveness SM: a per-member
// liveness tracker fed by ping RPCs, plus named membership groups layered
// on top of it. Grounded in the orchestrator's membership/server.rs
// heartbeat watcher, generalized from the stubbed group commands there into
// the concrete semantics this state machine exposes.
package heartbeat

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/quorumforge/raftd/pkg/types"
)

// MaxTimeoutMs is the liveness window: a member with no ping in this many
// milliseconds is considered offline.
const MaxTimeoutMs int64 = 5000

// tickInterval is how often the leader re-evaluates liveness.
const tickInterval = 1 * time.Second

// Command and query fn_ids dispatched within the Heartbeat SM.
const (
	FnHBOnlineChanged = uint64(iota)
	FnJoin
	FnLeave
)

const (
	FnMembers = uint64(iota)
	FnLeader
	FnGroupMembers
	FnAllMembers
)

// CommandSubmitter submits a command through the consensus path; the
// Heartbeat SM uses it to turn a local liveness observation into a
// replicated hb_online_changed entry. Satisfied by *consensus.Node.
type CommandSubmitter interface {
	SubmitCommand(smID, fnID uint64, data []byte) error
}

// LeaderChecker reports whether the local node currently believes itself to
// be the leader; the liveness ticker only runs on the leader. Satisfied by
// *consensus.Node.
type LeaderChecker interface {
	IsLeader() bool
	LeaderID() uint64
}

// Status is the Heartbeat Status of a single tracked member.
type Status struct {
	Alive         bool  `json:"alive"`
	LastUpdatedMs int64 `json:"last_updated_ms"`
}

// Member is a group member as reported by the membership queries.
type Member struct {
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

// Heartbeat is the reserved sub-SM at types.HeartbeatSMID.
type Heartbeat struct {
	mu        sync.Mutex
	status    map[uint64]*Status
	addresses map[uint64]string
	groups    map[string]map[uint64]bool

	submitter CommandSubmitter
	checker   LeaderChecker
	nowFn     func() int64

	stop   chan struct{}
	ticker *time.Ticker
}

// New returns an empty Heartbeat SM. submitter and checker may be nil; the
// ticker is then inert and Ping only ever records timestamps locally,
// which is fine for a read-only inspection node.
func New(submitter CommandSubmitter, checker LeaderChecker) *Heartbeat {
	return &Heartbeat{
		status:    make(map[uint64]*Status),
		addresses: make(map[uint64]string),
		groups:    make(map[string]map[uint64]bool),
		submitter: submitter,
		checker:   checker,
		nowFn:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Ping records that member id is alive as of now; the RPC only updates the
// timestamp, leaving the alive flag for the ticker to flip.
func (h *Heartbeat) Ping(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stat, ok := h.status[id]
	if !ok {
		stat = &Status{}
		h.status[id] = stat
	}
	stat.LastUpdatedMs = h.nowFn()
}

// Start launches the leader-only liveness ticker. Calling Start more than
// once without a prior Shutdown is a no-op.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	if h.ticker != nil {
		h.mu.Unlock()
		return
	}
	h.ticker = time.NewTicker(tickInterval)
	h.stop = make(chan struct{})
	ticker, stop := h.ticker, h.stop
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.tick()
			}
		}
	}()
}

// Shutdown stops the liveness ticker.
func (h *Heartbeat) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ticker == nil {
		return
	}
	h.ticker.Stop()
	close(h.stop)
	h.ticker = nil
}

func (h *Heartbeat) tick() {
	if h.checker == nil || !h.checker.IsLeader() {
		return
	}
	online, offline := h.evaluateLiveness()
	if len(online) == 0 && len(offline) == 0 {
		return
	}
	data, err := json.Marshal(hbOnlineChangedArgs{Online: online, Offline: offline})
	if err != nil {
		return
	}
	if h.submitter != nil {
		h.submitter.SubmitCommand(types.HeartbeatSMID, FnHBOnlineChanged, data)
	}
}

func (h *Heartbeat) evaluateLiveness() (online, offline []uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFn()
	ids := make([]uint64, 0, len(h.status))
	for id := range h.status {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		stat := h.status[id]
		alive := now-stat.LastUpdatedMs < MaxTimeoutMs
		if alive == stat.Alive {
			continue
		}
		if alive {
			online = append(online, id)
		} else {
			offline = append(offline, id)
		}
	}
	return online, offline
}

// applyOnlineChanged flips the alive flag for every id named in online or
// offline; this is the only place status.Alive is ever mutated, so a
// replica applies exactly what the leader observed rather than
// re-evaluating its own clock.
func (h *Heartbeat) applyOnlineChanged(online, offline []uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range online {
		stat := h.statusLocked(id)
		stat.Alive = true
	}
	for _, id := range offline {
		stat := h.statusLocked(id)
		stat.Alive = false
	}
}

func (h *Heartbeat) statusLocked(id uint64) *Status {
	stat, ok := h.status[id]
	if !ok {
		stat = &Status{}
		h.status[id] = stat
	}
	return stat
}

// Join idempotently adds address (tracked under id = hashid-style caller
// supplied identifier) to group, returning true iff it was not already a
// member of that group.
func (h *Heartbeat) Join(group string, id uint64, address string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addresses[id] = address
	members, ok := h.groups[group]
	if !ok {
		members = make(map[uint64]bool)
		h.groups[group] = members
	}
	if members[id] {
		return false
	}
	members[id] = true
	return true
}

// Leave removes id from group, returning true iff it was present.
func (h *Heartbeat) Leave(group string, id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok || !members[id] {
		return false
	}
	delete(members, id)
	return true
}

// Members returns every current member of group, alive or not, sorted by
// id.
func (h *Heartbeat) Members(group string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.membersLocked(group, false)
}

// GroupMembers returns only the currently alive members of group, sorted
// by id. Distinguished from Members so callers that care about routing
// (rather than historical membership) never address an offline member.
func (h *Heartbeat) GroupMembers(group string) []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.membersLocked(group, true)
}

func (h *Heartbeat) membersLocked(group string, aliveOnly bool) []Member {
	ids := make([]uint64, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Member, 0, len(ids))
	for _, id := range ids {
		if aliveOnly {
			stat, ok := h.status[id]
			if !ok || !stat.Alive {
				continue
			}
		}
		out = append(out, Member{ID: id, Address: h.addresses[id]})
	}
	return out
}

// Leader returns the current leader's member info if the leader belongs to
// group, and ok=false otherwise (including when there is no known leader).
func (h *Heartbeat) Leader(group string) (Member, bool) {
	if h.checker == nil {
		return Member{}, false
	}
	leaderID := h.checker.LeaderID()
	if leaderID == 0 {
		return Member{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok || !members[leaderID] {
		return Member{}, false
	}
	return Member{ID: leaderID, Address: h.addresses[leaderID]}, true
}

// AllMembers returns every id ever seen across every group, sorted by id,
// regardless of group membership.
func (h *Heartbeat) AllMembers() []Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uint64, 0, len(h.addresses))
	for id := range h.addresses {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Member, len(ids))
	for i, id := range ids {
		out[i] = Member{ID: id, Address: h.addresses[id]}
	}
	return out
}

// --- statemachine.StateMachine ---

type hbOnlineChangedArgs struct {
	Online  []uint64 `json:"online"`
	Offline []uint64 `json:"offline"`
}

type joinArgs struct {
	Group   string `json:"group"`
	ID      uint64 `json:"id"`
	Address string `json:"address"`
}

type leaveArgs struct {
	Group string `json:"group"`
	ID    uint64 `json:"id"`
}

type groupArgs struct {
	Group string `json:"group"`
}

func (h *Heartbeat) CommitCmd(fnID uint64, data []byte) ([]byte, error) {
	switch fnID {
	case FnHBOnlineChanged:
		var args hbOnlineChangedArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		h.applyOnlineChanged(args.Online, args.Offline)
		return nil, nil
	case FnJoin:
		var args joinArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(h.Join(args.Group, args.ID, args.Address))
	case FnLeave:
		var args leaveArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(h.Leave(args.Group, args.ID))
	default:
		return nil, types.ErrUnknownFunction
	}
}

func (h *Heartbeat) ExecQry(fnID uint64, data []byte) ([]byte, error) {
	switch fnID {
	case FnMembers:
		var args groupArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(h.Members(args.Group))
	case FnGroupMembers:
		var args groupArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		return json.Marshal(h.GroupMembers(args.Group))
	case FnLeader:
		var args groupArgs
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, types.ErrDecodeFailed
		}
		member, ok := h.Leader(args.Group)
		if !ok {
			return json.Marshal(Member{})
		}
		return json.Marshal(member)
	case FnAllMembers:
		return json.Marshal(h.AllMembers())
	default:
		return nil, types.ErrUnknownFunction
	}
}

type wireStatus struct {
	ID      uint64 `json:"id"`
	Alive   bool   `json:"alive"`
	LastMs  int64  `json:"last_updated_ms"`
	Address string `json:"address"`
}

type wireGroup struct {
	Name    string   `json:"name"`
	Members []uint64 `json:"members"`
}

type snapshotImage struct {
	Status []wireStatus `json:"status"`
	Groups []wireGroup  `json:"groups"`
}

// Snapshot serializes liveness status, member addresses and group
// membership sorted by id / name, so two replicas with identical state
// always produce byte-identical images. A member with an address but no
// ping yet is written as not alive with a zero timestamp.
func (h *Heartbeat) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]uint64, 0, len(h.status))
	for id := range h.status {
		ids = append(ids, id)
	}
	for id := range h.addresses {
		if _, ok := h.status[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	statuses := make([]wireStatus, 0, len(ids))
	for _, id := range ids {
		stat, ok := h.status[id]
		if !ok {
			stat = &Status{}
		}
		statuses = append(statuses, wireStatus{ID: id, Alive: stat.Alive, LastMs: stat.LastUpdatedMs, Address: h.addresses[id]})
	}

	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	groups := make([]wireGroup, 0, len(names))
	for _, name := range names {
		members := make([]uint64, 0, len(h.groups[name]))
		for id := range h.groups[name] {
			members = append(members, id)
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		groups = append(groups, wireGroup{Name: name, Members: members})
	}

	data, err := json.Marshal(snapshotImage{Status: statuses, Groups: groups})
	if err != nil {
		panic(err)
	}
	return data
}

// Recover replaces liveness status, addresses and group membership from a
// Snapshot() image.
func (h *Heartbeat) Recover(data []byte) error {
	var image snapshotImage
	if err := json.Unmarshal(data, &image); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = make(map[uint64]*Status, len(image.Status))
	h.addresses = make(map[uint64]string, len(image.Status))
	for _, s := range image.Status {
		h.status[s.ID] = &Status{Alive: s.Alive, LastUpdatedMs: s.LastMs}
		if s.Address != "" {
			h.addresses[s.ID] = s.Address
		}
	}
	h.groups = make(map[string]map[uint64]bool, len(image.Groups))
	for _, g := range image.Groups {
		members := make(map[uint64]bool, len(g.Members))
		for _, id := range g.Members {
			members[id] = true
		}
		h.groups[g.Name] = members
	}
	return nil
}
