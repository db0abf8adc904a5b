/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package state

import (
	"context"
	"encoding/json"
	"time"

	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification"
)

// Machine drives all status transitions through compare-and-set updates, so
// concurrent aggregators converge on the same row state.
type Machine struct {
	db dbclient.Interface
}

func NewMachine(db dbclient.Interface) *Machine {
	return &Machine{db: db}
}

// MoveTask applies one task transition. It reports whether this caller won
// the row; a lost CAS means another writer already moved it.
func (m *Machine) MoveTask(ctx context.Context, taskUuid string, from, to v1.TaskStatus) (bool, error) {
	moved, err := m.db.UpdateTaskStatus(ctx, taskUuid, from, to)
	if err != nil || !moved {
		return false, err
	}
	now := time.Now().UTC()
	if to == v1.TaskRunning {
		if err = m.db.SetTaskStartTime(ctx, taskUuid, now); err != nil {
			return true, err
		}
	}
	if to.Finished() && to != v1.TaskRescheduled {
		if err = m.db.SetTaskEndTime(ctx, taskUuid, now); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SyncGroup recomputes one group from its current task attempts and applies
// the transition. A completed group unblocks its downstream groups, which
// are returned for dispatch; a failed group cascades FAILED_UPSTREAM.
func (m *Machine) SyncGroup(ctx context.Context, workflowId string,
	group *dbclient.TaskGroup) ([]*dbclient.TaskGroup, error) {
	tasks, err := m.db.GetCurrentTasksOfGroup(ctx, workflowId, group.Name)
	if err != nil {
		return nil, err
	}
	statuses := make([]v1.TaskStatus, 0, len(tasks))
	for _, task := range tasks {
		statuses = append(statuses, v1.TaskStatus(task.Status))
	}
	next := AggregateGroupStatus(statuses)
	if string(next) == group.Status {
		return nil, nil
	}
	moved, err := m.db.UpdateGroupStatus(ctx, group.GroupUuid, v1.GroupStatus(group.Status), next)
	if err != nil || !moved {
		return nil, err
	}
	klog.Infof("group %s of workflow %s moved %s -> %s", group.Name, workflowId, group.Status, next)

	now := time.Now().UTC()
	if next == v1.GroupRunning {
		if err = m.db.SetGroupStartedAt(ctx, group.GroupUuid, now); err != nil {
			return nil, err
		}
	}
	if !next.Finished() {
		return nil, nil
	}
	if err = m.db.SetGroupFinishedAt(ctx, group.GroupUuid, now); err != nil {
		return nil, err
	}
	if next == v1.GroupCompleted {
		return m.db.RemoveUpstreamGroup(ctx, workflowId, group.Name)
	}
	return nil, m.failDownstream(ctx, workflowId, group)
}

// failDownstream marks every transitively downstream group and its pending
// tasks FAILED_UPSTREAM.
func (m *Machine) failDownstream(ctx context.Context, workflowId string, group *dbclient.TaskGroup) error {
	names := decodeNameList(group.DownstreamGroups.String)
	for len(names) > 0 {
		name := names[0]
		names = names[1:]
		downstream, err := m.db.GetTaskGroup(ctx, workflowId, name)
		if err != nil {
			return err
		}
		if v1.GroupStatus(downstream.Status).Finished() {
			continue
		}
		moved, err := m.db.UpdateGroupStatus(ctx, downstream.GroupUuid,
			v1.GroupStatus(downstream.Status), v1.GroupStatus(v1.TaskFailedUpstream))
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		tasks, err := m.db.GetCurrentTasksOfGroup(ctx, workflowId, name)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			if v1.TaskStatus(task.Status).Finished() {
				continue
			}
			if _, err = m.MoveTask(ctx, task.TaskUuid,
				v1.TaskStatus(task.Status), v1.TaskFailedUpstream); err != nil {
				return err
			}
		}
		names = append(names, decodeNameList(downstream.DownstreamGroups.String)...)
	}
	return nil
}

// SyncWorkflow recomputes the workflow from its groups, applies the CAS
// transition, maintains the write-once times and sends the terminal
// notification.
func (m *Machine) SyncWorkflow(ctx context.Context, workflowId string) error {
	workflow, err := m.db.GetWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	groups, err := m.db.GetTaskGroups(ctx, workflowId)
	if err != nil {
		return err
	}
	statuses := make([]v1.GroupStatus, 0, len(groups))
	for _, group := range groups {
		statuses = append(statuses, v1.GroupStatus(group.Status))
	}
	next := AggregateWorkflowStatus(statuses)
	if string(next) == workflow.Status {
		return nil
	}
	moved, err := m.db.UpdateWorkflowStatus(ctx, workflowId,
		v1.WorkflowStatus(workflow.Status), next, "")
	if err != nil || !moved {
		return err
	}
	klog.Infof("workflow %s moved %s -> %s", workflowId, workflow.Status, next)

	now := time.Now().UTC()
	if next == v1.WorkflowRunning {
		return m.db.SetWorkflowStartTime(ctx, workflowId, now)
	}
	if !next.Finished() {
		return nil
	}
	if err = m.db.SetWorkflowEndTime(ctx, workflowId, now); err != nil {
		return err
	}
	notification.GetNotificationManager().NotifyWorkflowFinished(
		workflowId, workflow.SubmittedBy, next, workflow.FailureMessage.String)
	return nil
}

// SyncAll recomputes every group then the workflow, returning the groups
// that became dispatchable.
func (m *Machine) SyncAll(ctx context.Context, workflowId string) ([]*dbclient.TaskGroup, error) {
	groups, err := m.db.GetTaskGroups(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	var unblocked []*dbclient.TaskGroup
	for _, group := range groups {
		ready, err := m.SyncGroup(ctx, workflowId, group)
		if err != nil {
			return nil, err
		}
		unblocked = append(unblocked, ready...)
	}
	return unblocked, m.SyncWorkflow(ctx, workflowId)
}

func decodeNameList(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(encoded), &names); err != nil {
		return nil
	}
	return names
}
