/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package state

import (
	"context"
	"fmt"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// RetryTask reschedules a failed task attempt. In a barrier group the whole
// group reruns instead. New attempts are fresh rows with retry_id+1; the old
// attempt moves to RESCHEDULED and keeps its history.
func (m *Machine) RetryTask(ctx context.Context, workflowId, taskName string,
	retryAllowed bool) ([]*dbclient.Task, error) {
	if !retryAllowed {
		return nil, commonerrors.NewBadRequest("retries are disabled for this pool's backend")
	}
	tasks, err := m.db.GetCurrentTasks(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	var target *dbclient.Task
	for _, task := range tasks {
		if utils.CanonicalName(task.Name) == utils.CanonicalName(taskName) {
			target = task
			break
		}
	}
	if target == nil {
		return nil, commonerrors.NewNotFound("Task", taskName)
	}
	if !v1.TaskStatus(target.Status).Failed() {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf(
			"task %s is %s, only failed tasks retry", taskName, target.Status))
	}
	group, err := m.db.GetTaskGroup(ctx, workflowId, target.GroupName)
	if err != nil {
		return nil, err
	}
	if group.Barrier {
		return m.RetryGroup(ctx, workflowId, group)
	}
	attempt, err := m.db.InsertRetryAttempt(ctx, target, utils.NewUuid())
	if err != nil {
		return nil, err
	}
	return []*dbclient.Task{attempt}, nil
}

// RetryGroup reruns every task of a barrier group. All current attempts are
// rescheduled together so the gang restarts as a unit.
func (m *Machine) RetryGroup(ctx context.Context, workflowId string,
	group *dbclient.TaskGroup) ([]*dbclient.Task, error) {
	tasks, err := m.db.GetCurrentTasksOfGroup(ctx, workflowId, group.Name)
	if err != nil {
		return nil, err
	}
	attempts := make([]*dbclient.Task, 0, len(tasks))
	for _, task := range tasks {
		if v1.TaskStatus(task.Status) == v1.TaskRescheduled {
			continue
		}
		attempt, err := m.db.InsertRetryAttempt(ctx, task, utils.NewUuid())
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, attempt)
	}
	// the group itself goes back to PENDING so aggregation restarts
	if _, err = m.db.UpdateGroupStatus(ctx, group.GroupUuid,
		v1.GroupStatus(group.Status), v1.GroupPending); err != nil {
		return nil, err
	}
	return attempts, nil
}
