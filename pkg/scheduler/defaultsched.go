/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package scheduler

import (
	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
)

func init() {
	Register(v1.SchedulerDefault, func(settings v1.SchedulerSettings) (Bridge, error) {
		return &defaultBridge{schedulerName: settings.SchedulerName}, nil
	})
}

// defaultBridge targets the stock kube-scheduler: no gang objects, no
// queues, no topology. Priority is still tracked in state even though no
// priority annotation is emitted.
type defaultBridge struct {
	schedulerName string
}

func (b *defaultBridge) Type() v1.SchedulerType { return v1.SchedulerDefault }

func (b *defaultBridge) PlanGroup(meta *WorkflowMeta, group *compiler.CompiledGroup,
	pool *v1.Pool) (*GroupPlan, error) {
	plan := &GroupPlan{}
	for _, task := range group.Tasks {
		plan.Pods = append(plan.Pods, &PodPlan{
			Name:          PodName(meta, task),
			TaskUuid:      task.TaskUuid,
			Labels:        PodLabels(meta, group, task),
			SchedulerName: b.schedulerName,
			Spec:          task.Pod,
		})
	}
	return plan, nil
}

func (b *defaultBridge) PoolObjects(string, *v1.Pool, string) (*v1.Queue, *v1.Topology) {
	return nil, nil
}

func (b *defaultBridge) GroupCleanup(meta *WorkflowMeta, group *compiler.CompiledGroup) []v1.CleanupSpec {
	return []v1.CleanupSpec{
		{ResourceType: "pods", Labels: map[string]string{v1.GroupUuidLabel: group.GroupUuid}},
	}
}

func (b *defaultBridge) PoolCleanup(string, string) []v1.CleanupSpec { return nil }
