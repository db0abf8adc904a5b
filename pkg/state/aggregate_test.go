/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package state

import (
	"testing"

	"gotest.tools/assert"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

func TestGroupAliveWhileAnyTaskUnfinished(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{v1.TaskCompleted, v1.TaskWaiting})
	assert.Equal(t, status, v1.GroupPending)

	status = AggregateGroupStatus([]v1.TaskStatus{v1.TaskCompleted, v1.TaskRunning})
	assert.Equal(t, status, v1.GroupRunning)
}

func TestGroupCompletedIgnoresRescheduledAttempts(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{v1.TaskCompleted, v1.TaskRescheduled})
	assert.Equal(t, status, v1.GroupCompleted)
}

func TestGroupCanceledDominates(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{
		v1.TaskCompleted, v1.TaskFailedCanceled, v1.TaskFailedExecTimeout,
	})
	assert.Equal(t, status, v1.GroupStatus(v1.TaskFailedCanceled))
}

func TestGroupUniformFailureReasonCopied(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{
		v1.TaskFailedExecTimeout, v1.TaskFailedExecTimeout,
	})
	assert.Equal(t, status, v1.GroupStatus(v1.TaskFailedExecTimeout))
}

func TestGroupMixedFailuresCollapseToFailed(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{
		v1.TaskFailedExecTimeout, v1.TaskFailedImagePull,
	})
	assert.Equal(t, status, v1.GroupStatus(v1.TaskFailed))
}

func TestGroupUniformUpstreamFailureCollapses(t *testing.T) {
	status := AggregateGroupStatus([]v1.TaskStatus{
		v1.TaskFailedUpstream, v1.TaskFailedUpstream,
	})
	assert.Equal(t, status, v1.GroupStatus(v1.TaskFailed))
}

func TestGroupRunningDuringRetry(t *testing.T) {
	// a rescheduled attempt plus its live replacement keeps the group alive
	status := AggregateGroupStatus([]v1.TaskStatus{v1.TaskRescheduled, v1.TaskRunning})
	assert.Equal(t, status, v1.GroupRunning)
}

func TestWorkflowPrecedence(t *testing.T) {
	status := AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupStatus(v1.TaskFailedExecTimeout),
		v1.GroupStatus(v1.TaskFailedServerError),
		v1.GroupCompleted,
	})
	assert.Equal(t, status, v1.WorkflowStatus(v1.TaskFailedServerError))

	status = AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupStatus(v1.TaskFailedQueueTime),
		v1.GroupStatus(v1.TaskFailedCanceled),
	})
	assert.Equal(t, status, v1.WorkflowStatus(v1.TaskFailedCanceled))
}

func TestWorkflowSpecificFailureBeatsPlainFailed(t *testing.T) {
	status := AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupStatus(v1.TaskFailed),
		v1.GroupStatus(v1.TaskFailedImagePull),
	})
	assert.Equal(t, status, v1.WorkflowStatus(v1.TaskFailedImagePull))
}

func TestWorkflowAliveUntilAllGroupsFinish(t *testing.T) {
	status := AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupCompleted, v1.GroupRunning,
	})
	assert.Equal(t, status, v1.WorkflowRunning)

	// a failed group does not finalize the workflow while siblings drain
	status = AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupStatus(v1.TaskFailed), v1.GroupRunning,
	})
	assert.Equal(t, status, v1.WorkflowRunning)

	// cancellation finalizes immediately
	status = AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupStatus(v1.TaskFailedCanceled), v1.GroupRunning,
	})
	assert.Equal(t, status, v1.WorkflowStatus(v1.TaskFailedCanceled))
}

func TestWorkflowAllCompleted(t *testing.T) {
	status := AggregateWorkflowStatus([]v1.GroupStatus{
		v1.GroupCompleted, v1.GroupCompleted,
	})
	assert.Equal(t, status, v1.WorkflowCompleted)
}

func TestWorkflowEmptyIsPending(t *testing.T) {
	assert.Equal(t, AggregateWorkflowStatus(nil), v1.WorkflowPending)
}

// Recomputing the aggregate from the same raw statuses is stable.
func TestAggregateIsPure(t *testing.T) {
	tasks := []v1.TaskStatus{v1.TaskFailedEvicted, v1.TaskFailedEvicted, v1.TaskCompleted}
	first := AggregateGroupStatus(tasks)
	second := AggregateGroupStatus(tasks)
	assert.Equal(t, first, second)
	assert.Equal(t, first, v1.GroupStatus(v1.TaskFailedEvicted))
}
