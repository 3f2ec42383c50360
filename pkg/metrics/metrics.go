// Package metrics holds the Prometheus collectors for the workflow engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nimbus",
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Workflow operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	GatewayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nimbus",
		Subsystem: "gateway",
		Name:      "failures_total",
		Help:      "Backend gateway call failures by operation and kind.",
	}, []string{"operation", "kind"})

	// OrphanedRemoteResources counts backend resources confirmed created by
	// the gateway whose local transaction then rolled back. Each increment is
	// paired with a reconciliation log line naming the resource.
	OrphanedRemoteResources = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nimbus",
		Subsystem: "workflow",
		Name:      "orphaned_remote_resources_total",
		Help:      "Remote resources left behind by rolled-back provisioning.",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nimbus",
		Subsystem: "notify",
		Name:      "failures_total",
		Help:      "Best-effort notifications that could not be delivered.",
	})
)
