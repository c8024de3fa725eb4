package transport

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"time"
)

// PeerService is the name net/rpc registers node-to-node methods under;
// ServeNode exposes a *PeerReceiver adapter as "Peer.AppendEntries" etc.
const PeerService = "Peer"

// PeerReceiver is the server-side half of PeerClient: the methods a
// consensus node must provide so ServeNode can dispatch incoming peer RPCs.
type PeerReceiver interface {
	AppendEntries(args AppendEntriesArgs) (AppendEntriesReply, error)
	RequestVote(args RequestVoteArgs) (RequestVoteReply, error)
	InstallSnapshot(args InstallSnapshotArgs) (InstallSnapshotReply, error)
}

// peerServiceAdapter adapts a PeerReceiver to the exported-method shape
// net/rpc requires: func(args, *reply) error.
type peerServiceAdapter struct {
	recv PeerReceiver
}

func (a *peerServiceAdapter) AppendEntries(args AppendEntriesArgs, reply *AppendEntriesReply) error {
	r, err := a.recv.AppendEntries(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *peerServiceAdapter) RequestVote(args RequestVoteArgs, reply *RequestVoteReply) error {
	r, err := a.recv.RequestVote(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *peerServiceAdapter) InstallSnapshot(args InstallSnapshotArgs, reply *InstallSnapshotReply) error {
	r, err := a.recv.InstallSnapshot(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

// ServeNode starts a net/rpc server over HTTP on address, registering peer
// under PeerService and client under ClientService so a single listener
// serves both the Peer RPC Facade and the Client Facade. It returns once
// the listener is bound; serving continues in a background goroutine until
// the returned server is closed.
func ServeNode(address string, peer PeerReceiver, client ClientReceiver) (*http.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(PeerService, &peerServiceAdapter{recv: peer}); err != nil {
		return nil, fmt.Errorf("register peer service: %w", err)
	}
	if err := server.RegisterName(ClientService, &clientServiceAdapter{recv: client}); err != nil {
		return nil, fmt.Errorf("register client service: %w", err)
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)
	httpServer := &http.Server{Handler: mux}
	go httpServer.Serve(listener)

	return httpServer, nil
}

// RPCDialer dials peers over net/rpc-over-HTTP. Each Dial opens a new
// connection; it keeps no per-address cache.
type RPCDialer struct {
	Timeout time.Duration
}

// NewRPCDialer returns a dialer whose calls time out after timeout, or
// DefaultRPCTimeout if timeout is zero.
func NewRPCDialer(timeout time.Duration) *RPCDialer {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &RPCDialer{Timeout: timeout}
}

func (d *RPCDialer) Dial(address string) (PeerClient, error) {
	client, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &rpcPeerClient{address: address, client: client, timeout: d.Timeout}, nil
}

type rpcPeerClient struct {
	address string
	client  *rpc.Client
	timeout time.Duration
}

func (c *rpcPeerClient) call(method string, args, reply any) error {
	call := c.client.Go(PeerService+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case res := <-call.Done:
		return res.Error
	case <-time.After(c.timeout):
		return errors.New("transport: rpc call to " + c.address + " timed out")
	}
}

func (c *rpcPeerClient) AppendEntries(args AppendEntriesArgs) (AppendEntriesReply, error) {
	var reply AppendEntriesReply
	err := c.call("AppendEntries", args, &reply)
	return reply, err
}

func (c *rpcPeerClient) RequestVote(args RequestVoteArgs) (RequestVoteReply, error) {
	var reply RequestVoteReply
	err := c.call("RequestVote", args, &reply)
	return reply, err
}

func (c *rpcPeerClient) InstallSnapshot(args InstallSnapshotArgs) (InstallSnapshotReply, error) {
	var reply InstallSnapshotReply
	err := c.call("InstallSnapshot", args, &reply)
	return reply, err
}

func (c *rpcPeerClient) Close() error {
	return c.client.Close()
}
