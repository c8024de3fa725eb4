package transport

// ClientService is the net/rpc service name the Client Facade is exposed
// under, alongside PeerService, on every node's RPC server.
const ClientService = "Client"

// CommandOutcome mirrors c_command's three-way result.
type CommandOutcome int

const (
	CommandSuccess CommandOutcome = iota
	CommandNotLeader
	CommandNotCommitted
)

// QueryOutcome mirrors c_query's two-way result.
type QueryOutcome int

const (
	QuerySuccess QueryOutcome = iota
	QueryLeftBehind
)

// CCommandArgs submits one entry for (sm_id, fn_id) dispatch through the
// leader's append-then-replicate path.
type CCommandArgs struct {
	SMID uint64
	FnID uint64
	Data []byte
}

// CCommandReply is Success{data,id,term} | NotLeader(id) | NotCommitted.
type CCommandReply struct {
	Outcome  CommandOutcome
	Data     []byte
	ID       uint64
	Term     uint64
	LeaderID uint64
}

// CQueryArgs runs a read-only dispatch against the Master SM, bounded by
// the id/term the caller last observed.
type CQueryArgs struct {
	SMID uint64
	FnID uint64
	Data []byte
	ID   uint64
	Term uint64
}

// CQueryReply is Success{data,id,term} | LeftBehind.
type CQueryReply struct {
	Outcome QueryOutcome
	Data    []byte
	ID      uint64
	Term    uint64
}

// MemberInfo is one (id, address) pair in a cluster_info response.
type MemberInfo struct {
	ID      uint64
	Address string
}

type CServerClusterInfoArgs struct{}

// CServerClusterInfoReply lists every known member and the current leader.
type CServerClusterInfoReply struct {
	Members  []MemberInfo
	LeaderID uint64
}

type CPutOfflineArgs struct{}

type CPutOfflineReply struct {
	Ok bool
}

type CHaveStateMachineArgs struct {
	SMID uint64
}

type CHaveStateMachineReply struct {
	Have bool
}

type CPingArgs struct {
	MemberID uint64
}

type CPingReply struct {
	Ok bool
}

// ClientReceiver is the server-side half of the Client Facade: the methods
// a consensus node must provide so ServeNode can dispatch incoming client
// RPCs the same way it dispatches peer RPCs.
type ClientReceiver interface {
	CCommand(args CCommandArgs) (CCommandReply, error)
	CQuery(args CQueryArgs) (CQueryReply, error)
	CServerClusterInfo(args CServerClusterInfoArgs) (CServerClusterInfoReply, error)
	CPutOffline(args CPutOfflineArgs) (CPutOfflineReply, error)
	CHaveStateMachine(args CHaveStateMachineArgs) (CHaveStateMachineReply, error)
	CPing(args CPingArgs) (CPingReply, error)
}

type clientServiceAdapter struct {
	recv ClientReceiver
}

func (a *clientServiceAdapter) CCommand(args CCommandArgs, reply *CCommandReply) error {
	r, err := a.recv.CCommand(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *clientServiceAdapter) CQuery(args CQueryArgs, reply *CQueryReply) error {
	r, err := a.recv.CQuery(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *clientServiceAdapter) CServerClusterInfo(args CServerClusterInfoArgs, reply *CServerClusterInfoReply) error {
	r, err := a.recv.CServerClusterInfo(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *clientServiceAdapter) CPutOffline(args CPutOfflineArgs, reply *CPutOfflineReply) error {
	r, err := a.recv.CPutOffline(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *clientServiceAdapter) CHaveStateMachine(args CHaveStateMachineArgs, reply *CHaveStateMachineReply) error {
	r, err := a.recv.CHaveStateMachine(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}

func (a *clientServiceAdapter) CPing(args CPingArgs, reply *CPingReply) error {
	r, err := a.recv.CPing(args)
	if err != nil {
		return err
	}
	*reply = r
	return nil
}
