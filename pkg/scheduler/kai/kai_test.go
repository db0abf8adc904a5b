/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package kai

import (
	"testing"

	"gotest.tools/assert"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/scheduler"
)

func testMeta() *scheduler.WorkflowMeta {
	return &scheduler.WorkflowMeta{
		WorkflowId:   "train-7",
		WorkflowUuid: "wf0000000000000000000000000000aa",
		User:         "alice",
		Pool:         "pool-a",
		Priority:     v1.PriorityNormal,
		Namespace:    "osmo",
	}
}

func TestPlanGroupPodGroupAndLabels(t *testing.T) {
	bridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerKai})
	assert.NilError(t, err)

	group := topologyGroup("workers",
		topologyTask("a", req("zone", "z", true), req("rack", "r1", true)),
		topologyTask("b", req("zone", "z", true), req("rack", "r2", true)),
	)
	group.GroupUuid = "gg0000000000000000000000000000bb"
	for _, task := range group.Tasks {
		task.TaskUuid = "tt000000000000000000000000000" + task.Spec.Name + "00"
		task.Pod = map[string]interface{}{"containers": []interface{}{}}
	}

	plan, err := bridge.PlanGroup(testMeta(), group, topologyPool())
	assert.NilError(t, err)

	pg := plan.PodGroup
	assert.Equal(t, pg.Queue, "osmo-pool-osmo-pool-a")
	assert.Equal(t, pg.MinMember, int32(2))
	assert.Equal(t, pg.PriorityClassName, v1.PriorityClassNormal)
	assert.Equal(t, pg.TopologyConstraint.RequiredTopologyLevel, "topology.kubernetes.io/zone")
	assert.Equal(t, len(pg.SubGroups), 2)

	pod := plan.Pods[0]
	assert.Equal(t, pod.SchedulerName, DefaultSchedulerName)
	assert.Equal(t, pod.Labels[v1.PoolLabel], "pool-a")
	assert.Equal(t, pod.Labels[v1.UserLabel], "alice")
	assert.Equal(t, pod.Labels[v1.KaiQueueLabel], "osmo-pool-osmo-pool-a")
	assert.Equal(t, pod.Labels[v1.KaiSubGroupNameLabel], "z-r1")
}

func TestPoolObjectsQueueAndTopology(t *testing.T) {
	bridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerKai})
	assert.NilError(t, err)

	pool := topologyPool()
	pool.Resources.GPU = v1.QuotaSpec{Guarantee: 16, Maximum: -1, Weight: 2}

	queue, topology := bridge.PoolObjects("pool-a", pool, "osmo")
	assert.Equal(t, queue.Name, "osmo-pool-osmo-pool-a")
	assert.Equal(t, queue.Parent, "osmo-default-osmo")
	assert.Equal(t, queue.GpuQuota, 16.0)
	assert.Equal(t, queue.GpuLimit, -1.0)
	assert.Equal(t, topology.Name, "osmo-pool-osmo-pool-a-topology")
	assert.Equal(t, len(topology.Levels), 2)
	assert.Equal(t, topology.Levels[0].NodeLabel, "topology.kubernetes.io/zone")
}

func TestPoolObjectsNoTopologyKeys(t *testing.T) {
	bridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerKai})
	assert.NilError(t, err)

	queue, topology := bridge.PoolObjects("pool-a", &v1.Pool{}, "osmo")
	assert.Assert(t, queue != nil)
	assert.Assert(t, topology == nil)
}

func TestCleanupMergeAcrossSchedulers(t *testing.T) {
	kaiBridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerKai})
	assert.NilError(t, err)
	defaultBridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerDefault})
	assert.NilError(t, err)

	meta := testMeta()
	group := &compiler.CompiledGroup{
		Spec:      v1.TaskGroupSpec{Name: "workers"},
		GroupUuid: "gg0000000000000000000000000000bb",
	}
	merged := v1.MergeCleanupSpecs(
		kaiBridge.GroupCleanup(meta, group),
		defaultBridge.GroupCleanup(meta, group),
	)
	// the pods spec is shared between the two schedulers and appears once
	assert.Equal(t, len(merged), 2)
}
