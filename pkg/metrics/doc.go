/*
Package metrics provides Prometheus metrics collection and exposition for the
replicated database core.

The metrics package defines and registers every metric using the Prometheus
client library, giving observability into consensus health, transaction
throughput, lock contention, and the apply/snapshot pipeline. Metrics are
exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Raft: leader, term, commit/applied index   │          │
	│  │  Transactions: commit/abort, lock wait      │          │
	│  │  Apply path: batch duration, throughput     │          │
	│  │  Snapshot: duration, counts, size           │          │
	│  │  Admin RPC: request count, duration         │          │
	│  │  Maintenance loop: cycle duration, GC count │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Raft / Consensus Bridge Metrics:

coral_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)

coral_raft_term:
  - Type: Gauge
  - Description: Current Raft term observed by this node

coral_raft_peers_total:
  - Type: Gauge
  - Description: Total Raft peers in the cluster

coral_raft_commit_index / coral_raft_applied_index:
  - Type: Gauge
  - Description: Current commit index and last-applied index

coral_raft_apply_duration_seconds / coral_raft_commit_duration_seconds:
  - Type: Histogram
  - Description: FSM apply latency and end-to-end commit latency

Transaction Metrics:

coral_tx_committed_total / coral_tx_aborted_total{reason}:
  - Type: Counter
  - Description: Committed and aborted transaction counts, abort labeled by
    reason; the only reason recorded is apply_error, counted by pkg/manager
    when a proposed batch is applied with an error

coral_tx_active:
  - Type: Gauge
  - Description: Number of currently active transactions

coral_lock_wait_duration_seconds:
  - Type: Histogram
  - Description: Time a transaction spent blocked acquiring a row lock

coral_deadlocks_detected_total / coral_deadlock_victims_total:
  - Type: Counter
  - Description: Wait-for cycles detected and victims aborted

Apply Path Metrics:

coral_apply_batch_duration_seconds:
  - Type: Histogram
  - Description: Time to apply one CommandBatch to the state machine

coral_apply_batch_commands_total:
  - Type: Counter
  - Description: Total replicated commands applied

coral_apply_replayed_total:
  - Type: Counter
  - Description: Commands served from the idempotent-replay cache

Snapshot Metrics:

coral_snapshot_duration_seconds, coral_snapshots_taken_total,
coral_snapshots_installed_total, coral_snapshot_bytes:
  - Capture and restore timing, counts, and size of the most recent snapshot

Admin RPC Metrics:

coral_api_requests_total{method, status} / coral_api_request_duration_seconds{method}:
  - Request counts and latency for the Admin RPC surface

Maintenance Loop Metrics:

coral_maintenance_duration_seconds, coral_maintenance_cycles_total,
coral_mvcc_versions_gced_total, coral_abandoned_tx_reaped_total:
  - Cycle timing and counters for MVCC garbage collection and abandoned
    transaction reaping

# Usage

	import "github.com/coraldb/coral/pkg/metrics"

	metrics.TxCommittedTotal.Inc()
	metrics.TxAbortedTotal.WithLabelValues("deadlock").Inc()

	timer := metrics.NewTimer()
	// ... apply a batch ...
	timer.ObserveDuration(metrics.ApplyBatchDuration)

	timer2 := metrics.NewTimer()
	// ... serve an Admin RPC ...
	timer2.ObserveDurationVec(metrics.APIRequestDuration, "Bootstrap")

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/manager: commit latency, apply throughput, apply_error aborts, and
    (via its collector) Raft role/term/index/peer gauges, active
    transactions, MVCC versions and component health
  - pkg/maintenance: maintenance loop cycles, GC'd versions and reaped
    abandoned transactions
  - pkg/api: serves the /metrics and /live endpoints
  - Prometheus: scrapes /metrics endpoint

The other registered metrics (among them Raft apply latency, lock wait,
deadlocks, apply batch duration, replay, snapshot and Admin RPC request
metrics) are not updated by any package in this repository.

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate
    registration, so metrics are available before main() runs.

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (method name, abort
    reason); never label by row key, transaction ID, or timestamp.

Timer Pattern:
  - Create a timer at operation start, observe duration at the end via
    defer or an explicit call.

# Performance Characteristics

Metric update overhead is on the order of tens to a few hundred
nanoseconds per operation; negligible relative to lock acquisition or
disk I/O on the apply path. Memory usage is dominated by per-label-value
time series, so label cardinality is kept low (reason, method, status).

# Troubleshooting

Missing Metrics: verify the metric variable is registered in init() and
exported. High Cardinality: check for labels keyed by unbounded values
(row keys, transaction IDs) and remove them. Stale Metrics: confirm the
code path that should update the metric is actually reached.

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
