/*
Package types defines the wire-level data model shared by every layer of
raftd: the log entry format committed to the replicated log, the result
and error shapes sub state machines return, and the small set of
client-facing errors the consensus layer is allowed to surface.

# Log entries

A LogEntry is the unit of replication. Its ID is assigned by the leader and
is strictly increasing; ID 0 denotes "no log" and is never assigned to a
real entry. Term is the leader's term at append time. SMID selects which
sub state machine a command targets, and FnID selects a command or query
within that state machine. Data is opaque and owned entirely by the
targeted state machine.

# Errors

Client-facing errors (ErrNotCommitted, ErrLeftBehind, ErrServersUnreachable,
ErrCannotConstructClient) are ordinary Go errors returned from the Client
Facade. Protocol-level outcomes such as append_entries' AppendOutcome and
request_vote's reply live in pkg/transport instead, since they are wire
shapes consumed by the consensus layer's retry machinery rather than
errors.

ExecError wraps dispatch failures from the state-machine registry
(ErrUnknownStateMachine, ErrUnknownFunction, ErrDecodeFailed) so callers can
distinguish "the command was rejected before touching state" from "the
command mutated state and then failed".
*/
package types
