/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backend

import (
	"context"
	"testing"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

type staticPools map[string]*v1.Pool

func (p staticPools) Pools(context.Context) (map[string]*v1.Pool, error) {
	return p, nil
}

func testSettings() *v1.Backend {
	return &v1.Backend{
		Name:         "cluster-a",
		K8sNamespace: "osmo",
		Scheduler: v1.SchedulerSettings{
			SchedulerType: v1.SchedulerKai,
			SchedulerName: "kai-scheduler",
		},
	}
}

func gpuTestNode(name string, gpus int64, nodeLabels map[string]string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: nodeLabels},
		Status: corev1.NodeStatus{
			Allocatable: corev1.ResourceList{
				gpuResource:       *resource.NewQuantity(gpus, resource.DecimalSI),
				corev1.ResourceCPU: resource.MustParse("64"),
			},
		},
	}
}

func gpuTestPod(name, node string, gpus int64, podLabels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "osmo", Labels: podLabels},
		Spec: corev1.PodSpec{
			NodeName: node,
			Containers: []corev1.Container{{
				Name: "user",
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						gpuResource: *resource.NewQuantity(gpus, resource.DecimalSI),
					},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}

func TestGetResourcesSplitsUsage(t *testing.T) {
	pools := staticPools{
		"train": {
			Backend: "cluster-a",
			Platforms: map[string]v1.Platform{
				"dgx": {Labels: map[string]string{"gpu.model": "a100"}},
			},
		},
	}
	clientset := k8sfake.NewSimpleClientset(
		gpuTestNode("node-1", 8, map[string]string{"gpu.model": "a100"}),
		gpuTestPod("wf-pod", "node-1", 2, map[string]string{
			v1.WorkflowUuidLabel: "abc", v1.PoolLabel: "train",
		}),
		gpuTestPod("other-pod", "node-1", 1, nil),
	)
	backend := newKubernetesWithClients(testSettings(), clientset, nil, pools)

	entries, err := backend.GetResources(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 1)

	entry := entries[0]
	assert.Equal(t, entry.Backend, "cluster-a")
	assert.Equal(t, entry.Hostname, "node-1")
	assert.Equal(t, entry.Usage, int64(2))
	assert.Equal(t, entry.NonWorkflowUsage, int64(1))
	assert.Equal(t, entry.ExposedFields["gpu_allocatable"], int64(8))
	assert.Equal(t, entry.ExposedFields["gpu_free"], int64(5))
	assert.Equal(t, entry.ExposedFields["cpu_allocatable"], int64(64))
	assert.Equal(t, entry.ExposedFields["cpu_free"], int64(64))

	memberships := entry.ExposedFields[v1.PoolPlatformField].([]interface{})
	assert.Equal(t, len(memberships), 1)
	assert.Equal(t, memberships[0], "train/dgx")
}

func TestPlatformMatchRequiresLabelsAndTolerations(t *testing.T) {
	tainted := gpuTestNode("node-1", 8, map[string]string{"gpu.model": "a100"})
	tainted.Spec.Taints = []corev1.Taint{{
		Key: "dedicated", Value: "infer", Effect: corev1.TaintEffectNoSchedule,
	}}

	plain := v1.Platform{Labels: map[string]string{"gpu.model": "a100"}}
	assert.Assert(t, !nodeMatchesPlatform(tainted, &plain))

	tolerant := v1.Platform{
		Labels: map[string]string{"gpu.model": "a100"},
		Tolerations: []corev1.Toleration{{
			Key: "dedicated", Operator: corev1.TolerationOpEqual,
			Value: "infer", Effect: corev1.TaintEffectNoSchedule,
		}},
	}
	assert.Assert(t, nodeMatchesPlatform(tainted, &tolerant))

	wrongLabel := v1.Platform{Labels: map[string]string{"gpu.model": "h100"}}
	untainted := gpuTestNode("node-2", 8, map[string]string{"gpu.model": "a100"})
	assert.Assert(t, !nodeMatchesPlatform(untainted, &wrongLabel))
}

func unstructuredPod(name string, podLabels map[string]string) *unstructured.Unstructured {
	labelValues := map[string]interface{}{}
	for key, value := range podLabels {
		labelValues[key] = value
	}
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": "osmo",
			"labels":    labelValues,
		},
	}}
}

func TestApplyCleanupSpecsDeletesThenCreates(t *testing.T) {
	podGVR := schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	scheme := runtime.NewScheme()
	dynamicClient := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme,
		map[schema.GroupVersionResource]string{podGVR: "PodList"})

	var deletedSelectors []string
	dynamicClient.PrependReactor("delete-collection", "pods",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			collection := action.(k8stesting.DeleteCollectionAction)
			deletedSelectors = append(deletedSelectors,
				collection.GetListRestrictions().Labels.String())
			return true, nil, nil
		})

	backend := newKubernetesWithClients(testSettings(), k8sfake.NewSimpleClientset(), dynamicClient, nil)
	err := backend.ApplyCleanupSpecs(context.Background(),
		[]v1.CleanupSpec{{
			ResourceType: "pods",
			Labels:       map[string]string{v1.GroupUuidLabel: "g1"},
		}},
		[]*unstructured.Unstructured{
			unstructuredPod("wf-train-0", map[string]string{v1.GroupUuidLabel: "g2"}),
		})
	assert.NilError(t, err)

	assert.Equal(t, len(deletedSelectors), 1)
	assert.Equal(t, deletedSelectors[0], v1.GroupUuidLabel+"=g1")

	created, err := dynamicClient.Resource(podGVR).Namespace("osmo").Get(
		context.Background(), "wf-train-0", metav1.GetOptions{})
	assert.NilError(t, err)
	assert.Equal(t, created.GetLabels()[v1.GroupUuidLabel], "g2")
}

func TestApplyObjectUpdatesOnConflict(t *testing.T) {
	podGVR := schema.GroupVersionResource{Version: "v1", Resource: "pods"}
	scheme := runtime.NewScheme()
	existing := unstructuredPod("wf-train-0", map[string]string{v1.GroupUuidLabel: "g1"})
	dynamicClient := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme,
		map[schema.GroupVersionResource]string{podGVR: "PodList"}, existing)

	backend := newKubernetesWithClients(testSettings(), k8sfake.NewSimpleClientset(), dynamicClient, nil)
	replacement := unstructuredPod("wf-train-0", map[string]string{v1.GroupUuidLabel: "g2"})
	err := backend.ApplyCleanupSpecs(context.Background(), nil,
		[]*unstructured.Unstructured{replacement})
	assert.NilError(t, err)

	updated, err := dynamicClient.Resource(podGVR).Namespace("osmo").Get(
		context.Background(), "wf-train-0", metav1.GetOptions{})
	assert.NilError(t, err)
	assert.Equal(t, updated.GetLabels()[v1.GroupUuidLabel], "g2")
}

func TestCleanupGVRCustomAPI(t *testing.T) {
	gvr, err := cleanupGVR(v1.CleanupSpec{
		ResourceType: "podgroups",
		CustomAPI: &v1.CustomAPIPath{
			Group: "scheduling.run.ai", Version: "v2alpha2", Plural: "podgroups",
		},
	})
	assert.NilError(t, err)
	assert.Equal(t, gvr.Group, "scheduling.run.ai")
	assert.Equal(t, gvr.Version, "v2alpha2")
	assert.Equal(t, gvr.Resource, "podgroups")

	gvr, err = cleanupGVR(v1.CleanupSpec{ResourceType: "pods"})
	assert.NilError(t, err)
	assert.Equal(t, gvr.Group, "")
	assert.Equal(t, gvr.Resource, "pods")
}

func TestResourceForPluralizes(t *testing.T) {
	gvr := resourceFor(schema.GroupVersionKind{
		Group: "scheduling.run.ai", Version: "v2alpha2", Kind: "PodGroup",
	})
	assert.Equal(t, gvr.Resource, "podgroups")

	gvr = resourceFor(schema.GroupVersionKind{
		Group: "kueue.x-k8s.io", Version: "v1alpha1", Kind: "Topology",
	})
	assert.Equal(t, gvr.Resource, "topologies")

	gvr = resourceFor(schema.GroupVersionKind{Version: "v1", Kind: "Pod"})
	assert.Equal(t, gvr.Group, "")
	assert.Equal(t, gvr.Resource, "pods")
}
