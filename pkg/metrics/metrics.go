// Package metrics exposes Prometheus instrumentation for raftd, adapted
// from the orchestrator's pkg/metrics: the same registration pattern and
// Timer helper, re-pointed at consensus-node concerns (term, role,
// replication latency, commit throughput) instead of container/service
// counts.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Term is the node's current Raft term.
	Term = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_term",
		Help: "Current Raft term observed by this node.",
	})

	// IsLeader is 1 when this node believes it is the leader, else 0.
	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_is_leader",
		Help: "Whether this node is currently the Raft leader (1) or not (0).",
	})

	// CommitIndex tracks the node's commit index.
	CommitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_commit_index",
		Help: "Highest log id known to be committed on this node.",
	})

	// LastApplied tracks the node's last applied id.
	LastApplied = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_last_applied",
		Help: "Highest log id applied to the state machine registry on this node.",
	})

	// LogLength tracks the number of entries currently retained in the log store.
	LogLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_log_length",
		Help: "Number of entries currently retained in the log store.",
	})

	// MembersTotal tracks the size of the cluster membership set.
	MembersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raftd_members_total",
		Help: "Number of members in the cluster configuration.",
	})

	// ElectionsTotal counts elections this node has started, by outcome.
	ElectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raftd_elections_total",
		Help: "Elections started by this node, labeled by outcome.",
	}, []string{"outcome"})

	// HeartbeatDuration observes the latency of a single follower heartbeat round trip.
	HeartbeatDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftd_heartbeat_duration_seconds",
		Help:    "Latency of a single append_entries round trip to one follower.",
		Buckets: prometheus.DefBuckets,
	})

	// CommandDuration observes the latency of c_command end to end.
	CommandDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raftd_command_duration_seconds",
		Help:    "Latency of c_command from leader append to majority commit.",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotsTotal counts snapshot installs/produces, by direction.
	SnapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raftd_snapshots_total",
		Help: "Snapshots taken or installed, labeled by direction (produced|installed).",
	}, []string{"direction"})

	// LogTrimsTotal counts log post-processing trims.
	LogTrimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raftd_log_trims_total",
		Help: "Number of times log post-processing trimmed the log store.",
	})
)

func init() {
	prometheus.MustRegister(
		Term,
		IsLeader,
		CommitIndex,
		LastApplied,
		LogLength,
		MembersTotal,
		ElectionsTotal,
		HeartbeatDuration,
		CommandDuration,
		SnapshotsTotal,
		LogTrimsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing operations into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into the histogram of vec
// selected by labels.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
