/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

type (
	TaskStatus     string
	GroupStatus    string
	WorkflowStatus string
)

const (
	TaskWaiting      TaskStatus = "WAITING"
	TaskSubmitting   TaskStatus = "SUBMITTING"
	TaskProcessing   TaskStatus = "PROCESSING"
	TaskScheduling   TaskStatus = "SCHEDULING"
	TaskInitializing TaskStatus = "INITIALIZING"
	TaskRunning      TaskStatus = "RUNNING"
	// TaskRescheduled marks an attempt superseded by a retry row.
	TaskRescheduled TaskStatus = "RESCHEDULED"

	TaskCompleted         TaskStatus = "COMPLETED"
	TaskFailed            TaskStatus = "FAILED"
	TaskFailedCanceled    TaskStatus = "FAILED_CANCELED"
	TaskFailedServerError TaskStatus = "FAILED_SERVER_ERROR"
	TaskFailedExecTimeout TaskStatus = "FAILED_EXEC_TIMEOUT"
	TaskFailedQueueTime   TaskStatus = "FAILED_QUEUE_TIMEOUT"
	TaskFailedImagePull   TaskStatus = "FAILED_IMAGE_PULL"
	TaskFailedUpstream    TaskStatus = "FAILED_UPSTREAM"
	TaskFailedEvicted     TaskStatus = "FAILED_EVICTED"
	TaskFailedStartError  TaskStatus = "FAILED_START_ERROR"
	TaskFailedStartTime   TaskStatus = "FAILED_START_TIMEOUT"
	TaskFailedBackend     TaskStatus = "FAILED_BACKEND_ERROR"
	TaskFailedPreempted   TaskStatus = "FAILED_PREEMPTED"
)

var taskTerminal = map[TaskStatus]struct{}{
	TaskCompleted: {}, TaskFailed: {}, TaskFailedCanceled: {},
	TaskFailedServerError: {}, TaskFailedExecTimeout: {}, TaskFailedQueueTime: {},
	TaskFailedImagePull: {}, TaskFailedUpstream: {}, TaskFailedEvicted: {},
	TaskFailedStartError: {}, TaskFailedStartTime: {}, TaskFailedBackend: {},
	TaskFailedPreempted: {}, TaskRescheduled: {},
}

// Finished reports whether the status is terminal. RESCHEDULED is terminal
// for the attempt; the retry row carries the live state.
func (s TaskStatus) Finished() bool {
	_, ok := taskTerminal[s]
	return ok
}

// Failed reports a terminal status other than COMPLETED and RESCHEDULED.
func (s TaskStatus) Failed() bool {
	return s.Finished() && s != TaskCompleted && s != TaskRescheduled
}

// PreRunning covers the states between admission and the first RUNNING.
func (s TaskStatus) PreRunning() bool {
	return s == TaskProcessing || s == TaskScheduling || s == TaskInitializing
}

// InQueue covers the states counted against queue_timeout.
func (s TaskStatus) InQueue() bool {
	return s == TaskWaiting || s == TaskSubmitting || s == TaskProcessing || s == TaskScheduling
}

const (
	GroupPending   GroupStatus = "PENDING"
	GroupRunning   GroupStatus = "RUNNING"
	GroupCompleted GroupStatus = "COMPLETED"
)

// Any task failure status is also a legal group status; the aggregator
// copies the specific reason when all failures agree.
func (s GroupStatus) Finished() bool {
	if s == GroupPending || s == GroupRunning {
		return false
	}
	return true
}

func (s GroupStatus) Failed() bool {
	return s.Finished() && s != GroupCompleted
}

const (
	WorkflowPending   WorkflowStatus = "PENDING"
	WorkflowRunning   WorkflowStatus = "RUNNING"
	WorkflowCompleted WorkflowStatus = "COMPLETED"
)

func (s WorkflowStatus) Finished() bool {
	if s == WorkflowPending || s == WorkflowRunning {
		return false
	}
	return true
}

func (s WorkflowStatus) Failed() bool {
	return s.Finished() && s != WorkflowCompleted
}
