/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"testing"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
	"github.com/NVIDIA/OSMO-sub000/pkg/scheduler"
)

type mapTemplates map[string]map[string]interface{}

func (m mapTemplates) GetPodTemplate(_ context.Context, name string) (map[string]interface{}, error) {
	return m[name], nil
}

// The compiler's pod fragment must survive the bridge and podObject end to
// end: containers, node selector and host networking all land in the emitted
// pod spec.
func TestPodObjectCarriesCompiledSpec(t *testing.T) {
	pool := &v1.Pool{
		Backend:         "cluster-a",
		DefaultPlatform: "dgx",
		Platforms: map[string]v1.Platform{
			"dgx": {Labels: map[string]string{"osmo/platform": "dgx"}},
		},
	}
	task := &v1.TaskSpec{
		Name:        "train",
		Image:       "nvcr.io/osmo/train:1.0",
		Command:     []string{"python", "train.py"},
		HostNetwork: true,
	}
	pod, err := compiler.BuildTaskPod(context.Background(), mapTemplates{},
		task, &v1.ResourceSpec{GPU: 8, Memory: "64Gi"}, pool, "pool-a", "dgx")
	assert.NilError(t, err)

	meta := &scheduler.WorkflowMeta{
		WorkflowId:   "wf-1",
		WorkflowUuid: "11112222333344445555666677778888",
		User:         "alice",
		Pool:         "pool-a",
		Priority:     v1.PriorityNormal,
		Namespace:    "osmo",
	}
	group := &compiler.CompiledGroup{
		Spec:      v1.TaskGroupSpec{Name: "g1", Tasks: []v1.TaskSpec{*task}},
		GroupUuid: "aaaabbbbccccddddeeeeffff00001111",
		Tasks: []*compiler.CompiledTask{{
			Spec:     *task,
			Resource: &v1.ResourceSpec{GPU: 8, Memory: "64Gi"},
			Platform: "dgx",
			Pod:      pod,
			TaskUuid: "abcd1234abcd1234abcd1234abcd1234",
		}},
	}
	bridge, err := scheduler.New(v1.SchedulerSettings{SchedulerType: v1.SchedulerKai})
	assert.NilError(t, err)
	plan, err := bridge.PlanGroup(meta, group, pool)
	assert.NilError(t, err)
	assert.Equal(t, len(plan.Pods), 1)

	obj := podObject(plan.Pods[0], plan.PodGroup, "osmo")

	assert.Equal(t, obj.GetKind(), "Pod")
	assert.Equal(t, obj.GetNamespace(), "osmo")
	assert.Equal(t, obj.GetLabels()[v1.TaskNameLabel], "train")
	assert.Equal(t, obj.GetAnnotations()["pod-group-name"], plan.PodGroup.Name)

	spec := obj.Object["spec"].(map[string]interface{})
	assert.Equal(t, spec["schedulerName"], "kai-scheduler")
	assert.Equal(t, spec["priorityClassName"], v1.PriorityClassNormal)
	assert.Equal(t, spec["hostNetwork"], true)
	containers := spec["containers"].([]interface{})
	assert.Equal(t, len(containers), 1)
	user := containers[0].(map[string]interface{})
	assert.Equal(t, user["image"], "nvcr.io/osmo/train:1.0")
	selector := spec["nodeSelector"].(map[string]interface{})
	assert.Equal(t, selector["osmo/platform"], "dgx")
}

func TestCrdObjectStripsIdentityFromSpec(t *testing.T) {
	queue := &v1.Queue{
		Name:      "osmo-pool-osmo-pool-a",
		Namespace: "osmo",
		Parent:    "osmo-default-osmo",
		GpuQuota:  16,
		GpuLimit:  -1,
	}
	obj, err := crdObject(queueAPIVersion, "Queue", queue.Name, "osmo",
		map[string]string{v1.PoolLabel: "pool-a"}, queue)
	assert.NilError(t, err)

	assert.Equal(t, obj.GetAPIVersion(), "scheduling.run.ai/v2")
	assert.Equal(t, obj.GetKind(), "Queue")
	assert.Equal(t, obj.GetName(), "osmo-pool-osmo-pool-a")
	assert.Equal(t, obj.GetLabels()[v1.PoolLabel], "pool-a")

	spec := obj.Object["spec"].(map[string]interface{})
	_, hasName := spec["name"]
	assert.Assert(t, !hasName)
	assert.Equal(t, spec["parent"], "osmo-default-osmo")
	assert.Equal(t, spec["gpuQuota"], float64(16))
	assert.Equal(t, spec["gpuLimit"], float64(-1))
}

func TestPlanObjectsOrdersPodGroupFirst(t *testing.T) {
	plan := &scheduler.GroupPlan{
		PodGroup: &v1.PodGroup{Name: "wf-1-g1-deadbeef", MinMember: 2},
		Pods: []*scheduler.PodPlan{
			{Name: "wf-1-a-11111111", Spec: map[string]interface{}{}},
			{Name: "wf-1-b-22222222", Spec: map[string]interface{}{}},
		},
	}
	objects, err := planObjects(plan, "osmo")
	assert.NilError(t, err)
	assert.Equal(t, len(objects), 3)
	assert.Equal(t, objects[0].GetKind(), "PodGroup")
	assert.Equal(t, objects[1].GetKind(), "Pod")
}

func TestTaskStatusForPhase(t *testing.T) {
	status, relevant := taskStatusForPhase(corev1.PodRunning, "")
	assert.Assert(t, relevant)
	assert.Equal(t, status, v1.TaskRunning)

	status, _ = taskStatusForPhase(corev1.PodSucceeded, "")
	assert.Equal(t, status, v1.TaskCompleted)

	status, _ = taskStatusForPhase(corev1.PodFailed, "Evicted")
	assert.Equal(t, status, v1.TaskFailedEvicted)

	status, _ = taskStatusForPhase(corev1.PodFailed, "Preempted")
	assert.Equal(t, status, v1.TaskFailedPreempted)

	status, _ = taskStatusForPhase(corev1.PodFailed, "OOMKilled")
	assert.Equal(t, status, v1.TaskFailed)

	_, relevant = taskStatusForPhase(corev1.PodUnknown, "")
	assert.Assert(t, !relevant)
}

// Image pull failures keep the pod in phase Pending; the waiting-container
// reason is what marks the task FAILED_IMAGE_PULL.
func TestTaskStatusForImagePullFailure(t *testing.T) {
	for _, reason := range []string{"ErrImagePull", "ImagePullBackOff", "InvalidImageName"} {
		status, relevant := taskStatusForPhase(corev1.PodPending, reason)
		assert.Assert(t, relevant)
		assert.Equal(t, status, v1.TaskFailedImagePull)
	}
	status, _ := taskStatusForPhase(corev1.PodPending, "ContainerCreating")
	assert.Equal(t, status, v1.TaskScheduling)
}
