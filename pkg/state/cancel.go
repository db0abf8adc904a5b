/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package state

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// Cancel records cancellation intent and fails every alive task. Cancelling
// a finished workflow is rejected unless force is set; a force cancel on a
// finished workflow produces a synthetic job identifier and leaves the
// workflow's terminal state untouched.
func (m *Machine) Cancel(ctx context.Context, workflowId, user string, force bool) (string, error) {
	workflow, err := m.db.GetWorkflow(ctx, workflowId)
	if err != nil {
		return "", err
	}
	finished := v1.WorkflowStatus(workflow.Status).Finished()
	if finished && !force {
		return "", commonerrors.NewGone(fmt.Sprintf(
			"workflow %s already finished with status %s", workflowId, workflow.Status))
	}

	// cancelled_by is write-once; losing the race on a live workflow is a
	// no-op for the second caller
	recorded, err := m.db.SetWorkflowCancelled(ctx, workflowId, user)
	if err != nil {
		return "", err
	}
	if !recorded && !force {
		return "", commonerrors.NewConflict(fmt.Sprintf(
			"workflow %s is already being cancelled", workflowId))
	}

	if finished {
		jobId := fmt.Sprintf("%s-%s-force-cancel", workflow.WorkflowUuid, utils.ShortId())
		klog.Infof("force cancel of finished workflow %s recorded as %s", workflowId, jobId)
		return jobId, nil
	}

	tasks, err := m.db.GetCurrentTasks(ctx, workflowId)
	if err != nil {
		return "", err
	}
	for _, task := range tasks {
		if v1.TaskStatus(task.Status).Finished() {
			continue
		}
		if _, err = m.MoveTask(ctx, task.TaskUuid,
			v1.TaskStatus(task.Status), v1.TaskFailedCanceled); err != nil {
			return "", err
		}
	}
	if _, err = m.SyncAll(ctx, workflowId); err != nil {
		return "", err
	}
	return "", nil
}
