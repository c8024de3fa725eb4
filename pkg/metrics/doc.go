/*
Package metrics provides Prometheus metrics collection and exposition for
raftd, following the same registration pattern as the orchestrator this
module was adapted from: metrics are package-level variables registered at
init() time and exposed via Handler() for scraping.

# Catalog

raftd_term: current Raft term (gauge).
raftd_is_leader: 1 if this node believes it is leader, else 0 (gauge).
raftd_commit_index / raftd_last_applied: commit and apply watermarks (gauge).
raftd_log_length: entries currently retained in the log store (gauge).
raftd_members_total: size of the cluster configuration (gauge).
raftd_elections_total{outcome}: elections started, by outcome (counter).
raftd_heartbeat_duration_seconds: per-follower append_entries latency (histogram).
raftd_command_duration_seconds: c_command append-to-commit latency (histogram).
raftd_snapshots_total{direction}: snapshots produced or installed (counter).
raftd_log_trims_total: log post-processing trims performed (counter).

# Usage

	timer := metrics.NewTimer()
	// ... replicate to followers ...
	timer.ObserveDuration(metrics.CommandDuration)

# Health

HealthChecker tracks liveness of named components (sentinel loop, log
store, snapshot store) independently of the Raft role itself, surfaced via
RegisterComponent/UpdateComponent and the HTTP health handlers in this package.
*/
package metrics
