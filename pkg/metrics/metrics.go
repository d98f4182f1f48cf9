package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft / Consensus Bridge metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_raft_term",
			Help: "Current Raft term observed by this node",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftCommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_raft_commit_index",
			Help: "Current Raft commit index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_raft_apply_duration_seconds",
			Help:    "Time taken for the FSM to apply a committed log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	RaftCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_raft_commit_duration_seconds",
			Help:    "Time taken for a command to be committed through Raft",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transaction / concurrency-control metrics
	TxCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_tx_committed_total",
			Help: "Total number of transactions committed",
		},
	)

	TxAbortedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coral_tx_aborted_total",
			Help: "Total number of transactions aborted, by reason",
		},
		[]string{"reason"},
	)

	TxActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_tx_active",
			Help: "Number of currently active transactions",
		},
	)

	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_lock_wait_duration_seconds",
			Help:    "Time a transaction spent blocked acquiring a row lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeadlocksDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_deadlocks_detected_total",
			Help: "Total number of wait-for cycles detected by the lock manager",
		},
	)

	DeadlockVictimsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_deadlock_victims_total",
			Help: "Total number of transactions aborted as deadlock victims",
		},
	)

	// Apply-path / state-machine metrics
	ApplyBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_apply_batch_duration_seconds",
			Help:    "Time taken to apply one CommandBatch to the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	ApplyBatchThroughput = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_apply_batch_commands_total",
			Help: "Total number of replicated commands applied to the state machine",
		},
	)

	ApplyReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_apply_replayed_total",
			Help: "Total number of commands served from the idempotent-replay cache instead of re-applied",
		},
	)

	// Snapshot metrics
	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_snapshot_duration_seconds",
			Help:    "Time taken to capture or restore a snapshot",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
	)

	SnapshotsTakenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_snapshots_taken_total",
			Help: "Total number of snapshots captured",
		},
	)

	SnapshotsInstalledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_snapshots_installed_total",
			Help: "Total number of snapshots installed (restore path)",
		},
	)

	SnapshotBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_snapshot_bytes",
			Help: "Size in bytes of the most recently captured snapshot",
		},
	)

	// Admin RPC metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coral_api_requests_total",
			Help: "Total number of Admin RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coral_api_request_duration_seconds",
			Help:    "Admin RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Maintenance-loop metrics
	MaintenanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coral_maintenance_duration_seconds",
			Help:    "Time taken for one maintenance loop cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaintenanceCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_maintenance_cycles_total",
			Help: "Total number of maintenance loop cycles completed",
		},
	)

	MVCCVersions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coral_mvcc_versions",
			Help: "Live MVCC version-chain entries currently held in memory",
		},
	)

	MVCCVersionsGCedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_mvcc_versions_gced_total",
			Help: "Total number of MVCC row versions reclaimed by garbage collection",
		},
	)

	AbandonedTxReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coral_abandoned_tx_reaped_total",
			Help: "Total number of abandoned transactions aborted by the maintenance loop",
		},
	)
)

func init() {
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftTerm)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftCommitIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(RaftCommitDuration)

	prometheus.MustRegister(TxCommittedTotal)
	prometheus.MustRegister(TxAbortedTotal)
	prometheus.MustRegister(TxActive)
	prometheus.MustRegister(LockWaitDuration)
	prometheus.MustRegister(DeadlocksDetectedTotal)
	prometheus.MustRegister(DeadlockVictimsTotal)

	prometheus.MustRegister(ApplyBatchDuration)
	prometheus.MustRegister(ApplyBatchThroughput)
	prometheus.MustRegister(ApplyReplayedTotal)

	prometheus.MustRegister(SnapshotDuration)
	prometheus.MustRegister(SnapshotsTakenTotal)
	prometheus.MustRegister(SnapshotsInstalledTotal)
	prometheus.MustRegister(SnapshotBytes)

	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	prometheus.MustRegister(MaintenanceDuration)
	prometheus.MustRegister(MaintenanceCyclesTotal)
	prometheus.MustRegister(MVCCVersions)
	prometheus.MustRegister(MVCCVersionsGCedTotal)
	prometheus.MustRegister(AbandonedTxReapedTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
