/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package state owns the status lattice: pure aggregation from tasks to
// groups to workflows, CAS-gated transitions, retries, cancellation and
// timeout enforcement.
package state

import (
	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

// AggregateGroupStatus computes a group's status from its current task
// attempts. It is a pure function; recomputation from raw task states always
// returns the same value.
func AggregateGroupStatus(statuses []v1.TaskStatus) v1.GroupStatus {
	if len(statuses) == 0 {
		return v1.GroupPending
	}
	running := false
	allDone := true
	for _, status := range statuses {
		if !status.Finished() {
			allDone = false
			if status == v1.TaskRunning {
				running = true
			}
		}
	}
	if !allDone {
		if running {
			return v1.GroupRunning
		}
		return v1.GroupPending
	}

	var failures []v1.TaskStatus
	for _, status := range statuses {
		if status == v1.TaskFailedCanceled {
			return v1.GroupStatus(v1.TaskFailedCanceled)
		}
		if status.Failed() {
			failures = append(failures, status)
		}
	}
	if len(failures) == 0 {
		// COMPLETED or RESCHEDULED only
		return v1.GroupCompleted
	}
	// a uniform specific reason is copied up; FAILED_UPSTREAM and mixed
	// reasons collapse to FAILED
	uniform := failures[0]
	for _, status := range failures[1:] {
		if status != uniform {
			return v1.GroupStatus(v1.TaskFailed)
		}
	}
	if uniform == v1.TaskFailedUpstream || uniform == v1.TaskFailed {
		return v1.GroupStatus(v1.TaskFailed)
	}
	return v1.GroupStatus(uniform)
}

// statusRank orders statuses for the workflow tie-break. Higher wins.
func statusRank(status string) int {
	switch v1.TaskStatus(status) {
	case v1.TaskFailedCanceled:
		return 100
	case v1.TaskFailedServerError:
		return 90
	case v1.TaskFailedExecTimeout:
		return 80
	case v1.TaskFailedQueueTime:
		return 70
	}
	switch {
	case v1.GroupStatus(status).Failed() && status != string(v1.TaskFailed):
		return 60
	case status == string(v1.TaskFailed):
		return 50
	case status == string(v1.GroupCompleted):
		return 40
	case status == string(v1.GroupRunning):
		return 30
	default:
		return 20
	}
}

// AggregateWorkflowStatus computes the workflow status from its groups with
// the failure-precedence tie-break: FAILED_CANCELED > FAILED_SERVER_ERROR >
// FAILED_EXEC_TIMEOUT > FAILED_QUEUE_TIMEOUT > other specific failures >
// FAILED > COMPLETED > RUNNING > PENDING.
func AggregateWorkflowStatus(groups []v1.GroupStatus) v1.WorkflowStatus {
	if len(groups) == 0 {
		return v1.WorkflowPending
	}
	best := string(groups[0])
	for _, status := range groups[1:] {
		if statusRank(string(status)) > statusRank(best) {
			best = string(status)
		}
	}
	// a failed or completed aggregate only stands once every group finished;
	// a workflow with live groups is still running
	if v1.GroupStatus(best).Finished() {
		for _, status := range groups {
			if !status.Finished() {
				if best == string(v1.TaskFailedCanceled) {
					// cancellation wins immediately
					return v1.WorkflowStatus(best)
				}
				return v1.WorkflowRunning
			}
		}
	}
	return v1.WorkflowStatus(best)
}
