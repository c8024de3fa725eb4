/*
Package transport supplies the Peer RPC Facade: the abstract client handle
append_entries/request_vote/install_snapshot describe, plus two concrete
implementations.

RPCDialer/ServeNode run node-to-node calls over net/rpc-over-HTTP, grounded
in the same rpc.NewServer/rpc.DialHTTP pattern used by the raft reference
implementations in this codebase's lineage, chosen over a generated-stub RPC
framework so nothing here depends on code generation.

LoopbackRegistry skips the network entirely: scenario tests register
every node's receiver in one registry and dial
by address, getting the same PeerClient interface without sockets.

Cluster members hold PeerClient values as address-keyed tokens, never as
long-lived back-pointers into a transport, so a cluster can be reconstructed
from persisted addresses alone.
*/
package transport
