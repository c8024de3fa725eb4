// Package raftclient is the leader-discovering Client Facade caller,
// adapted from the orchestrator's pkg/client: the same
// "wrap a connection, one method per RPC, per-call timeout" shape, built on
// transport.ClientConn (net/rpc) instead of a generated gRPC stub, and with
// connection setup replaced by the leader-probing dial original_source's
// RaftClient::new performs before any call is issued.
package raftclient

import (
	"fmt"
	"time"

	"github.com/quorumforge/raftd/pkg/transport"
	"github.com/quorumforge/raftd/pkg/types"
)

const defaultDialTimeout = 2000 * time.Millisecond

// Client holds an open connection to the cluster's current leader, as last
// observed, and transparently redials when told NotLeader.
type Client struct {
	servers  []string
	timeout  time.Duration
	leaderID uint64
	conn     *transport.ClientConn
}

// New probes servers in order and settles on whichever one answers
// CServerClusterInfo, then redials onto its reported leader when that
// leader's address is known and reachable. Returns ErrCannotConstructClient if nothing in
// servers answers.
func New(servers []string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	c := &Client{servers: servers, timeout: timeout}

	for _, addr := range servers {
		conn, err := transport.DialClient(addr, timeout)
		if err != nil {
			continue
		}
		info, err := conn.CServerClusterInfo()
		if err != nil {
			conn.Close()
			continue
		}
		c.conn = conn
		c.leaderID = info.LeaderID
		c.followLeader(info)
		return c, nil
	}
	return nil, types.ErrCannotConstructClient
}

// followLeader redials onto the reported leader's address whenever it is
// listed in info.Members, even when that is the server already connected
// to; on a dial failure the existing connection is kept.
func (c *Client) followLeader(info transport.CServerClusterInfoReply) {
	for _, m := range info.Members {
		if m.ID == info.LeaderID {
			conn, err := transport.DialClient(m.Address, c.timeout)
			if err == nil {
				c.conn.Close()
				c.conn = conn
			}
			return
		}
	}
}

// LeaderID returns the leader id last observed by this client.
func (c *Client) LeaderID() uint64 {
	return c.leaderID
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Execute submits (sm_id, fn_id, data) through c_command, following at
// most one NotLeader redirect before giving up.
func (c *Client) Execute(smID, fnID uint64, data []byte) (types.ExecResult, uint64, uint64, error) {
	reply, err := c.conn.CCommand(transport.CCommandArgs{SMID: smID, FnID: fnID, Data: data})
	if err != nil {
		return types.ExecResult{}, 0, 0, fmt.Errorf("%w: %v", types.ErrServersUnreachable, err)
	}

	switch reply.Outcome {
	case transport.CommandSuccess:
		return types.ExecResult{Data: reply.Data}, reply.ID, reply.Term, nil
	case transport.CommandNotCommitted:
		return types.ExecResult{}, 0, 0, types.ErrNotCommitted
	case transport.CommandNotLeader:
		if !c.redialLeader(reply.LeaderID) {
			return types.ExecResult{}, 0, 0, types.ErrServersUnreachable
		}
		reply, err := c.conn.CCommand(transport.CCommandArgs{SMID: smID, FnID: fnID, Data: data})
		if err != nil {
			return types.ExecResult{}, 0, 0, fmt.Errorf("%w: %v", types.ErrServersUnreachable, err)
		}
		if reply.Outcome != transport.CommandSuccess {
			return types.ExecResult{}, 0, 0, types.ErrNotCommitted
		}
		return types.ExecResult{Data: reply.Data}, reply.ID, reply.Term, nil
	default:
		return types.ExecResult{}, 0, 0, types.ErrNotCommitted
	}
}

// Query runs the read-only c_query path.
func (c *Client) Query(smID, fnID, id, term uint64, data []byte) (types.ExecResult, error) {
	reply, err := c.conn.CQuery(transport.CQueryArgs{SMID: smID, FnID: fnID, Data: data, ID: id, Term: term})
	if err != nil {
		return types.ExecResult{}, fmt.Errorf("%w: %v", types.ErrServersUnreachable, err)
	}
	if reply.Outcome == transport.QueryLeftBehind {
		return types.ExecResult{}, types.ErrLeftBehind
	}
	return types.ExecResult{Data: reply.Data}, nil
}

// ClusterInfo returns every known member and the current leader id.
func (c *Client) ClusterInfo() (transport.CServerClusterInfoReply, error) {
	return c.conn.CServerClusterInfo()
}

// Ping sends a liveness pulse for memberID through c_ping, against whichever
// server this client is currently attached to.
func (c *Client) Ping(memberID uint64) error {
	_, err := c.conn.CPing(memberID)
	return err
}

// PutOffline asks the currently attached server to step down gracefully
// through c_put_offline.
func (c *Client) PutOffline() error {
	_, err := c.conn.CPutOffline()
	return err
}

// redialLeader resolves leaderID to an address via a fresh cluster_info
// call against whatever server we're still attached to, then connects.
func (c *Client) redialLeader(leaderID uint64) bool {
	info, err := c.conn.CServerClusterInfo()
	if err != nil {
		return false
	}
	for _, m := range info.Members {
		if m.ID == leaderID {
			conn, err := transport.DialClient(m.Address, c.timeout)
			if err != nil {
				return false
			}
			c.conn.Close()
			c.conn = conn
			c.leaderID = leaderID
			return true
		}
	}
	return false
}

// ProbeServers reports whether any address in servers other than self
// answers the Client Facade, used by probe_and_join to decide between
// bootstrapping a new cluster and joining an existing one.
func ProbeServers(servers []string, self string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	for _, addr := range servers {
		if addr == self {
			continue
		}
		conn, err := transport.DialClient(addr, timeout)
		if err != nil {
			continue
		}
		_, err = conn.CServerClusterInfo()
		conn.Close()
		if err == nil {
			return true
		}
	}
	return false
}
