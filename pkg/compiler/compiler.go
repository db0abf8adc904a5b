/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package compiler turns a rendered workflow document into the admitted
// form: normalized groups, resolved resource specs, composed pods and
// clamped timeouts.
package compiler

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// CompiledTask and CompiledGroup serialize into the task_group spec column,
// so a restarted server can resume dispatching from the rows alone.
type CompiledTask struct {
	Spec     v1.TaskSpec            `json:"spec"`
	Resource *v1.ResourceSpec       `json:"resource,omitempty"`
	Platform string                 `json:"platform,omitempty"`
	Pod      map[string]interface{} `json:"pod,omitempty"`
	TaskUuid string                 `json:"task_uuid"`
	// TaskDbKey is stable across retry attempts of this task.
	TaskDbKey string `json:"task_db_key"`
}

type CompiledGroup struct {
	Spec      v1.TaskGroupSpec `json:"spec"`
	GroupUuid string           `json:"group_uuid"`
	// Upstream holds the group names this group waits on; Downstream is the
	// reverse edge set.
	Upstream   []string        `json:"upstream,omitempty"`
	Downstream []string        `json:"downstream,omitempty"`
	Tasks      []*CompiledTask `json:"tasks"`
}

type CompiledWorkflow struct {
	Doc          *v1.WorkflowDocument
	WorkflowUuid string
	PoolName     string
	ExecTimeout  time.Duration
	QueueTimeout time.Duration
	Groups       []*CompiledGroup
	TotalTasks   int
}

// Compile runs the full pipeline on an already parsed document. The caller
// resolves which pool applies (spec field or submit flag) before calling.
func Compile(ctx context.Context, doc *v1.WorkflowDocument, submitCtx *v1.SubmitContext,
	pool *v1.Pool, poolName string, workflowConfig *v1.WorkflowConfig,
	templates PodTemplateSource) (*CompiledWorkflow, error) {
	spec := &doc.Workflow

	totalTasks := 0
	for _, group := range spec.Groups {
		totalTasks += len(group.Tasks)
	}
	if workflowConfig.MaxNumTasks > 0 && totalTasks > workflowConfig.MaxNumTasks {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf(
			"workflow has %d tasks, exceeding the limit of %d",
			totalTasks, workflowConfig.MaxNumTasks))
	}

	exec, queue, err := ResolveTimeouts(spec.Timeout, PolicyFromPool(pool, workflowConfig))
	if err != nil {
		return nil, err
	}

	compiled := &CompiledWorkflow{
		Doc:          doc,
		WorkflowUuid: utils.NewUuid(),
		PoolName:     poolName,
		ExecTimeout:  exec,
		QueueTimeout: queue,
		TotalTasks:   totalTasks,
	}

	taskToGroup := map[string]string{}
	for _, group := range spec.Groups {
		for _, task := range group.Tasks {
			taskToGroup[utils.CanonicalName(task.Name)] = group.Name
		}
	}

	downstream := map[string][]string{}
	for i := range spec.Groups {
		groupSpec := &spec.Groups[i]
		group := &CompiledGroup{
			Spec:      *groupSpec,
			GroupUuid: utils.NewUuid(),
			Upstream:  upstreamGroups(groupSpec, taskToGroup),
		}
		for _, up := range group.Upstream {
			downstream[up] = append(downstream[up], groupSpec.Name)
		}
		for j := range groupSpec.Tasks {
			taskSpec := &groupSpec.Tasks[j]
			resourceSpec, platform, err := ResolveResourceSpec(taskSpec, spec, pool)
			if err != nil {
				return nil, err
			}
			pod, err := BuildTaskPod(ctx, templates, taskSpec, resourceSpec, pool, poolName, platform)
			if err != nil {
				return nil, err
			}
			group.Tasks = append(group.Tasks, &CompiledTask{
				Spec:      *taskSpec,
				Resource:  resourceSpec,
				Platform:  platform,
				Pod:       pod,
				TaskUuid:  utils.NewUuid(),
				TaskDbKey: utils.NewUuid(),
			})
		}
		compiled.Groups = append(compiled.Groups, group)
	}
	for _, group := range compiled.Groups {
		group.Downstream = downstream[group.Spec.Name]
	}
	return compiled, nil
}

// upstreamGroups maps the group's inputs onto the groups that produce them.
// Cross-workflow and url/dataset inputs add no edge.
func upstreamGroups(group *v1.TaskGroupSpec, taskToGroup map[string]string) []string {
	seen := map[string]struct{}{}
	var upstream []string
	for _, input := range allInputs(group) {
		symbol := input.Task
		if symbol == "" {
			symbol = input.Group
		}
		if symbol == "" || IsCrossWorkflowInput(symbol) {
			continue
		}
		producer := symbol
		if g, ok := taskToGroup[utils.CanonicalName(symbol)]; ok {
			producer = g
		}
		if producer == group.Name {
			continue
		}
		if _, dup := seen[producer]; dup {
			continue
		}
		seen[producer] = struct{}{}
		upstream = append(upstream, producer)
	}
	return upstream
}
