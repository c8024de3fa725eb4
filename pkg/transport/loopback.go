package transport

import (
	"fmt"
	"sync"
)

// LoopbackRegistry is a process-wide directory mapping addresses to
// in-process receivers, so scenario tests can run a cluster without
// binding real sockets.
type LoopbackRegistry struct {
	mu    sync.RWMutex
	nodes map[string]PeerReceiver
}

// NewLoopbackRegistry returns an empty registry.
func NewLoopbackRegistry() *LoopbackRegistry {
	return &LoopbackRegistry{nodes: make(map[string]PeerReceiver)}
}

// Register makes recv reachable at address through dialers built from this registry.
func (r *LoopbackRegistry) Register(address string, recv PeerReceiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[address] = recv
}

// Unregister removes address, simulating a node going away.
func (r *LoopbackRegistry) Unregister(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, address)
}

// Dialer returns a Dialer that resolves addresses against this registry.
func (r *LoopbackRegistry) Dialer() Dialer {
	return &loopbackDialer{registry: r}
}

type loopbackDialer struct {
	registry *LoopbackRegistry
}

func (d *loopbackDialer) Dial(address string) (PeerClient, error) {
	d.registry.mu.RLock()
	recv, ok := d.registry.nodes[address]
	d.registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no loopback node registered at %s", address)
	}
	return &loopbackPeerClient{recv: recv}, nil
}

// loopbackPeerClient calls straight into the receiver, skipping serialization.
type loopbackPeerClient struct {
	recv PeerReceiver
}

func (c *loopbackPeerClient) AppendEntries(args AppendEntriesArgs) (AppendEntriesReply, error) {
	return c.recv.AppendEntries(args)
}

func (c *loopbackPeerClient) RequestVote(args RequestVoteArgs) (RequestVoteReply, error) {
	return c.recv.RequestVote(args)
}

func (c *loopbackPeerClient) InstallSnapshot(args InstallSnapshotArgs) (InstallSnapshotReply, error) {
	return c.recv.InstallSnapshot(args)
}

func (c *loopbackPeerClient) Close() error { return nil }
