/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"context"
	"fmt"
	"strings"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// IsCrossWorkflowInput reports whether the symbol has the
// {prev_workflow_id}:{task_name} form.
func IsCrossWorkflowInput(symbol string) bool {
	return strings.Contains(symbol, ":")
}

// ResolveCrossWorkflowInputs checks that every {workflow_id}:{task} input
// points at a finished task of the referenced workflow.
func ResolveCrossWorkflowInputs(ctx context.Context, db dbclient.Interface, spec *v1.WorkflowSpec) error {
	for _, group := range spec.Groups {
		for _, input := range allInputs(&group) {
			symbol := input.Task
			if symbol == "" {
				symbol = input.Group
			}
			if symbol == "" || !IsCrossWorkflowInput(symbol) {
				continue
			}
			workflowId, taskName, err := splitCrossWorkflowInput(symbol)
			if err != nil {
				return err
			}
			if err = checkFinishedTask(ctx, db, workflowId, taskName); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitCrossWorkflowInput(symbol string) (string, string, error) {
	parts := strings.SplitN(symbol, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", commonerrors.NewBadRequest(
			fmt.Sprintf("invalid cross-workflow input %q, expected {workflow_id}:{task_name}", symbol))
	}
	return parts[0], parts[1], nil
}

func checkFinishedTask(ctx context.Context, db dbclient.Interface, workflowId, taskName string) error {
	tasks, err := db.GetCurrentTasks(ctx, workflowId)
	if err != nil {
		return err
	}
	canonical := utils.CanonicalName(taskName)
	for _, task := range tasks {
		if utils.CanonicalName(task.Name) != canonical {
			continue
		}
		status := v1.TaskStatus(task.Status)
		if !status.Finished() || status == v1.TaskRescheduled {
			return commonerrors.NewBadRequest(fmt.Sprintf(
				"input %s:%s references a task that has not finished (status %s)",
				workflowId, taskName, task.Status))
		}
		return nil
	}
	return commonerrors.NewNotFound("Task", fmt.Sprintf("%s:%s", workflowId, taskName))
}
