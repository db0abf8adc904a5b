/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmo_workflows_admitted_total",
		Help: "Workflows accepted through admission, by pool.",
	}, []string{"pool"})

	admissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmo_admission_rejected_total",
		Help: "Workflow submissions rejected at admission, by mode.",
	}, []string{"mode"})

	taskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmo_task_transitions_total",
		Help: "Task status transitions applied by the state machine.",
	}, []string{"to"})

	groupsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmo_groups_dispatched_total",
		Help: "Task groups dispatched to a backend, by backend.",
	}, []string{"backend"})

	dispatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "osmo_dispatch_errors_total",
		Help: "Failed group dispatch attempts, by backend.",
	}, []string{"backend"})

	poolQuotaGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "osmo_pool_gpu",
		Help: "Per-pool GPU quota accounting.",
	}, []string{"pool", "field"})
)
