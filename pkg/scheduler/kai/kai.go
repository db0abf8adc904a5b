/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package kai emits KAI-scheduler gang objects: PodGroups with subgroup
// topology constraints, per-pool Queue and Topology CRDs.
package kai

import (
	"fmt"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/scheduler"
)

const DefaultSchedulerName = "kai-scheduler"

// KAI CRD endpoints used for label-selector cleanup.
var (
	podGroupAPI = v1.CustomAPIPath{Group: "scheduling.run.ai", Version: "v2alpha2", Plural: "podgroups"}
	queueAPI    = v1.CustomAPIPath{Group: "scheduling.run.ai", Version: "v2", Plural: "queues"}
	topologyAPI = v1.CustomAPIPath{Group: "kueue.x-k8s.io", Version: "v1alpha1", Plural: "topologies"}
)

func init() {
	scheduler.Register(v1.SchedulerKai, func(settings v1.SchedulerSettings) (scheduler.Bridge, error) {
		name := settings.SchedulerName
		if name == "" {
			name = DefaultSchedulerName
		}
		return &bridge{schedulerName: name}, nil
	})
}

type bridge struct {
	schedulerName string
}

func (b *bridge) Type() v1.SchedulerType { return v1.SchedulerKai }

func (b *bridge) PlanGroup(meta *scheduler.WorkflowMeta, group *compiler.CompiledGroup,
	pool *v1.Pool) (*scheduler.GroupPlan, error) {
	topologyName := v1.PoolTopologyName(meta.Namespace, meta.Pool)
	topology, err := BuildTopologyTree(group, pool, topologyName)
	if err != nil {
		return nil, err
	}
	queue := v1.PoolQueueName(meta.Namespace, meta.Pool)

	plan := &scheduler.GroupPlan{
		PodGroup: &v1.PodGroup{
			Name:               podGroupName(meta, group),
			Namespace:          meta.Namespace,
			Queue:              queue,
			PriorityClassName:  meta.Priority.PriorityClassName(),
			MinMember:          int32(len(group.Tasks)),
			TopologyConstraint: topology.Constraint,
			SubGroups:          topology.SubGroups,
		},
	}
	for _, task := range group.Tasks {
		labels := scheduler.PodLabels(meta, group, task)
		labels[v1.KaiQueueLabel] = queue
		if subGroup, ok := topology.TaskSubGroup[task.Spec.Name]; ok {
			labels[v1.KaiSubGroupNameLabel] = subGroup
		}
		plan.Pods = append(plan.Pods, &scheduler.PodPlan{
			Name:              scheduler.PodName(meta, task),
			TaskUuid:          task.TaskUuid,
			Labels:            labels,
			SchedulerName:     b.schedulerName,
			PriorityClassName: meta.Priority.PriorityClassName(),
			Spec:              task.Pod,
		})
	}
	return plan, nil
}

// PoolObjects emits the pool's Queue, and its Topology when the pool defines
// topology keys. A -1 guarantee or maximum passes through; the backend
// treats it as unlimited.
func (b *bridge) PoolObjects(poolName string, pool *v1.Pool, namespace string) (*v1.Queue, *v1.Topology) {
	queue := &v1.Queue{
		Name:            v1.PoolQueueName(namespace, poolName),
		Namespace:       namespace,
		Parent:          v1.DefaultQueueName(namespace),
		GpuQuota:        float64(pool.Resources.GPU.Guarantee),
		GpuLimit:        float64(pool.Resources.GPU.Maximum),
		OverQuotaWeight: pool.Resources.GPU.Weight,
	}
	if len(pool.TopologyKeys) == 0 {
		return queue, nil
	}
	topology := &v1.Topology{Name: v1.PoolTopologyName(namespace, poolName)}
	for _, key := range pool.TopologyKeys {
		topology.Levels = append(topology.Levels, v1.TopologyLevel{NodeLabel: key.Label})
	}
	return queue, topology
}

func (b *bridge) GroupCleanup(meta *scheduler.WorkflowMeta, group *compiler.CompiledGroup) []v1.CleanupSpec {
	groupLabels := map[string]string{v1.GroupUuidLabel: group.GroupUuid}
	return []v1.CleanupSpec{
		{ResourceType: "pods", Labels: groupLabels},
		{ResourceType: "podgroups", Labels: groupLabels, CustomAPI: &podGroupAPI},
	}
}

func (b *bridge) PoolCleanup(poolName, namespace string) []v1.CleanupSpec {
	poolLabels := map[string]string{v1.PoolLabel: poolName}
	return []v1.CleanupSpec{
		{ResourceType: "queues", Labels: poolLabels, CustomAPI: &queueAPI},
		{ResourceType: "topologies", Labels: poolLabels, CustomAPI: &topologyAPI},
	}
}

func podGroupName(meta *scheduler.WorkflowMeta, group *compiler.CompiledGroup) string {
	return fmt.Sprintf("%s-%s-%s", meta.WorkflowId, group.Spec.Name, group.GroupUuid[:8])
}
