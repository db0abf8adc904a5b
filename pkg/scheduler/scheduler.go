/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package scheduler converts compiled workflows into scheduler-native
// objects. The Bridge interface hides which gang scheduler a backend runs;
// the factory selects the implementation from the backend's settings.
package scheduler

import (
	"fmt"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
)

// WorkflowMeta is the slice of workflow state the bridge stamps onto emitted
// objects.
type WorkflowMeta struct {
	WorkflowId   string
	WorkflowUuid string
	User         string
	Pool         string
	Priority     v1.Priority
	Namespace    string
}

// PodPlan is one backend-ready pod: the composed spec fragment plus the
// metadata the backend materializes it with.
type PodPlan struct {
	Name              string
	TaskUuid          string
	Labels            map[string]string
	SchedulerName     string
	PriorityClassName string
	Spec              map[string]interface{}
}

// GroupPlan is the output for one task group. PodGroup is nil for
// schedulers without gang support.
type GroupPlan struct {
	PodGroup *v1.PodGroup
	Pods     []*PodPlan
}

// Bridge is implemented once per scheduler type.
type Bridge interface {
	Type() v1.SchedulerType
	// PlanGroup builds the gang object and pods for one compiled group.
	PlanGroup(meta *WorkflowMeta, group *compiler.CompiledGroup, pool *v1.Pool) (*GroupPlan, error)
	// PoolObjects emits the per-pool CRDs. Either may be nil.
	PoolObjects(poolName string, pool *v1.Pool, namespace string) (*v1.Queue, *v1.Topology)
	// GroupCleanup lists what to reclaim before re-dispatching a group.
	GroupCleanup(meta *WorkflowMeta, group *compiler.CompiledGroup) []v1.CleanupSpec
	// PoolCleanup lists the pool-scoped objects to reclaim when the pool is
	// deleted or moves to another scheduler.
	PoolCleanup(poolName, namespace string) []v1.CleanupSpec
}

// Factory builds a bridge from the backend's scheduler settings.
type Factory func(settings v1.SchedulerSettings) (Bridge, error)

var factories = map[v1.SchedulerType]Factory{}

// Register installs a bridge constructor for a scheduler type. Called from
// implementation packages' init.
func Register(schedulerType v1.SchedulerType, factory Factory) {
	factories[schedulerType] = factory
}

// New selects the bridge for the settings' scheduler type.
func New(settings v1.SchedulerSettings) (Bridge, error) {
	factory, ok := factories[settings.SchedulerType]
	if !ok {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf(
			"unsupported scheduler type %q", settings.SchedulerType))
	}
	return factory(settings)
}

// PodLabels returns the osmo.* labels every emitted pod carries.
func PodLabels(meta *WorkflowMeta, group *compiler.CompiledGroup, task *compiler.CompiledTask) map[string]string {
	return map[string]string{
		v1.PoolLabel:         meta.Pool,
		v1.PriorityLabel:     string(meta.Priority),
		v1.TaskNameLabel:     task.Spec.Name,
		v1.TaskUuidLabel:     task.TaskUuid,
		v1.GroupUuidLabel:    group.GroupUuid,
		v1.WorkflowUuidLabel: meta.WorkflowUuid,
		v1.UserLabel:         meta.User,
	}
}

// PodName derives the backend object name for a task attempt. The task uuid
// suffix keeps retries distinct.
func PodName(meta *WorkflowMeta, task *compiler.CompiledTask) string {
	return fmt.Sprintf("%s-%s-%s", meta.WorkflowId, task.Spec.Name, task.TaskUuid[:8])
}
