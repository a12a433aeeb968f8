package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveIndicesGauge tracks the number of currently live indices.
	LiveIndicesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "contextd_indexmanager",
			Subsystem: "manager",
			Name:      "live_indices",
			Help:      "Current number of live indices",
		},
	)

	// CreateIndexTotal counts createIndex outcomes.
	// Labels: result (created, resumed, error)
	CreateIndexTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contextd_indexmanager",
			Subsystem: "manager",
			Name:      "create_index_total",
			Help:      "Total createIndex calls by outcome",
		},
		[]string{"result"},
	)

	// OffloadTotal counts offload outcomes.
	// Labels: trigger (manual, inactivity), result (success, error)
	OffloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contextd_indexmanager",
			Subsystem: "manager",
			Name:      "offload_total",
			Help:      "Total offload operations by trigger and outcome",
		},
		[]string{"trigger", "result"},
	)

	// SandboxOperationDuration tracks sandbox RPC latency.
	// Labels: op (initialize, add_documents, query, remove_documents, get_documents, destroy)
	SandboxOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contextd_indexmanager",
			Subsystem: "manager",
			Name:      "sandbox_operation_duration_seconds",
			Help:      "Duration of sandbox operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)
