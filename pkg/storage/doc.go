/*
Package storage is the durable bottom layer beneath the Log Store and
Snapshot Store, adapted from the orchestrator's BoltDB-backed state store:
same single-file-per-node BoltStore, same bucket-per-concern layout, same
JSON-per-record encoding, re-pointed at log records and the Snapshot Entity
instead of cluster inventory rows.

# Buckets

log: one entry per retained log record, keyed by big-endian uint64 id so
bbolt's cursor yields them in id order for LoadLogs.

snapshot: a single fixed-key record holding the most recent Snapshot
Entity (term, commit_index, last_applied, state machine image bytes).

# Durability

Every PutLog/PutSnapshot call commits inside its own bbolt transaction,
which fsyncs before returning. This satisfies the "rewrite the record and
fsync" requirement on the logical record rather than the whole file; a
crash between two PutLog calls can never leave a torn single record,
because bbolt's writer serializes transactions and calls fsync per commit.

# See also

internal/logstore and internal/snapshotstore hold the in-memory structures
that keep this package in sync; BoltStore itself knows nothing about Raft
semantics.
*/
package storage
