package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	VersionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "template_versions_created_total",
			Help: "Total number of versions appended, by origin",
		},
		[]string{"origin"}, // create, rollback, merge
	)

	VersionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "version_operations_total",
			Help: "Total number of version-engine operations by outcome",
		},
		[]string{"operation", "status"},
	)

	VersionOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "version_operation_duration_seconds",
			Help: "Duration of version-engine operations in seconds",
		},
		[]string{"operation"},
	)

	MergeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "merge_conflicts_total",
			Help: "Total number of conflicts surfaced by three-way merges",
		},
	)

	RetentionVersionsAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_versions_affected_total",
			Help: "Total number of versions archived or deleted by retention sweeps",
		},
		[]string{"action"}, // archived, deleted
	)
)
