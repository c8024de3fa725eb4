package transport

import (
	"fmt"
	"net/rpc"
	"time"
)

// ClientConn is a thin net/rpc-over-HTTP caller for the Client Facade,
// used by raftclient instead of the peer Dialer abstraction: a CLI or
// external client talks to exactly one node at a time and has no need for
// the address-keyed, reconstructible-token model peer handles use.
type ClientConn struct {
	client  *rpc.Client
	timeout time.Duration
}

// DialClient opens a Client Facade connection to address.
func DialClient(address string, timeout time.Duration) (*ClientConn, error) {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	client, err := rpc.DialHTTP("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &ClientConn{client: client, timeout: timeout}, nil
}

func (c *ClientConn) call(method string, args, reply any) error {
	call := c.client.Go(ClientService+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case res := <-call.Done:
		return res.Error
	case <-time.After(c.timeout):
		return fmt.Errorf("transport: client rpc %s timed out", method)
	}
}

func (c *ClientConn) CCommand(args CCommandArgs) (CCommandReply, error) {
	var reply CCommandReply
	err := c.call("CCommand", args, &reply)
	return reply, err
}

func (c *ClientConn) CQuery(args CQueryArgs) (CQueryReply, error) {
	var reply CQueryReply
	err := c.call("CQuery", args, &reply)
	return reply, err
}

func (c *ClientConn) CServerClusterInfo() (CServerClusterInfoReply, error) {
	var reply CServerClusterInfoReply
	err := c.call("CServerClusterInfo", CServerClusterInfoArgs{}, &reply)
	return reply, err
}

func (c *ClientConn) CPutOffline() (CPutOfflineReply, error) {
	var reply CPutOfflineReply
	err := c.call("CPutOffline", CPutOfflineArgs{}, &reply)
	return reply, err
}

func (c *ClientConn) CHaveStateMachine(smID uint64) (CHaveStateMachineReply, error) {
	var reply CHaveStateMachineReply
	err := c.call("CHaveStateMachine", CHaveStateMachineArgs{SMID: smID}, &reply)
	return reply, err
}

func (c *ClientConn) CPing(memberID uint64) (CPingReply, error) {
	var reply CPingReply
	err := c.call("CPing", CPingArgs{MemberID: memberID}, &reply)
	return reply, err
}

func (c *ClientConn) Close() error {
	return c.client.Close()
}
