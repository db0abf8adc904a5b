/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package state

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
)

// EnforceTimeouts sweeps alive workflows and expires their budgets:
// queue_timeout counts from admission until the first RUNNING, exec_timeout
// from the first RUNNING until terminal. Run periodically from the server.
func (m *Machine) EnforceTimeouts(ctx context.Context, now time.Time) error {
	alive, err := m.db.SelectWorkflows(ctx, sqrl.Eq{"status": []string{
		string(v1.WorkflowPending), string(v1.WorkflowRunning),
	}}, nil, -1, 0)
	if err != nil {
		return err
	}
	for _, workflow := range alive {
		if err := m.enforceWorkflowTimeouts(ctx, workflow, now); err != nil {
			klog.ErrorS(err, "timeout enforcement failed", "workflow", workflow.WorkflowId)
		}
	}
	return nil
}

func (m *Machine) enforceWorkflowTimeouts(ctx context.Context,
	workflow *dbclient.Workflow, now time.Time) error {
	var expired v1.TaskStatus
	switch {
	case !workflow.StartTime.Valid:
		if workflow.QueueTimeout <= 0 || !workflow.SubmitTime.Valid {
			return nil
		}
		deadline := workflow.SubmitTime.Time.Add(time.Duration(workflow.QueueTimeout) * time.Second)
		if now.Before(deadline) {
			return nil
		}
		expired = v1.TaskFailedQueueTime
	default:
		if workflow.ExecTimeout <= 0 {
			return nil
		}
		deadline := workflow.StartTime.Time.Add(time.Duration(workflow.ExecTimeout) * time.Second)
		if now.Before(deadline) {
			return nil
		}
		expired = v1.TaskFailedExecTimeout
	}

	klog.Infof("workflow %s exceeded its %s budget", workflow.WorkflowId, expired)
	tasks, err := m.db.GetCurrentTasks(ctx, workflow.WorkflowId)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if v1.TaskStatus(task.Status).Finished() {
			continue
		}
		if _, err = m.MoveTask(ctx, task.TaskUuid,
			v1.TaskStatus(task.Status), expired); err != nil {
			return err
		}
	}
	_, err = m.SyncAll(ctx, workflow.WorkflowId)
	return err
}
