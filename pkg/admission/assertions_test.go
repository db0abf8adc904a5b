/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package admission

import (
	"strings"
	"testing"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
)

func assertionTokens(t *testing.T, spec *v1.ResourceSpec) compiler.TokenMap {
	t.Helper()
	tokens, err := compiler.BuildTokenMap(spec, "pool-a", "dgx", "task-a", nil)
	assert.NilError(t, err)
	return tokens
}

func TestSplitAssertions(t *testing.T) {
	static, perNode := SplitAssertions([]v1.ResourceAssertion{
		{Operator: v1.OperatorLE, LeftOperand: "{{USER_GPU}}", RightOperand: "8"},
		{Operator: v1.OperatorLE, LeftOperand: "{{USER_GPU}}", RightOperand: "{{K8_GPU_ALLOCATABLE}}"},
	})
	assert.Equal(t, len(static), 1)
	assert.Equal(t, len(perNode), 1)
}

func TestEvaluateStaticPassAndFail(t *testing.T) {
	spec := &v1.ResourceSpec{GPU: 8}
	tokens := assertionTokens(t, spec)

	err := EvaluateStatic([]v1.ResourceAssertion{
		{Operator: v1.OperatorLE, LeftOperand: "{{USER_GPU}}", RightOperand: "8"},
	}, spec, tokens)
	assert.NilError(t, err)

	err = EvaluateStatic([]v1.ResourceAssertion{
		{
			Operator:      v1.OperatorLT,
			LeftOperand:   "{{USER_GPU}}",
			RightOperand:  "8",
			AssertMessage: "gpu count must stay below 8",
		},
	}, spec, tokens)
	assert.Assert(t, commonerrors.IsBadRequest(err))
	assert.ErrorContains(t, err, "gpu count must stay below 8")
}

func TestEvaluateStaticMemoized(t *testing.T) {
	spec := &v1.ResourceSpec{GPU: 2, CPU: 4}
	tokens := assertionTokens(t, spec)
	assertions := []v1.ResourceAssertion{
		{Operator: v1.OperatorGE, LeftOperand: "{{USER_CPU}}", RightOperand: "1"},
	}
	assert.NilError(t, EvaluateStatic(assertions, spec, tokens))
	// second call hits the cache; same outcome
	assert.NilError(t, EvaluateStatic(assertions, spec, tokens))
}

func TestEvaluatePerNodeOneNodePassing(t *testing.T) {
	spec := &v1.ResourceSpec{GPU: 8}
	tokens := assertionTokens(t, spec)
	assertions := []v1.ResourceAssertion{
		{Operator: v1.OperatorLE, LeftOperand: "{{USER_GPU}}", RightOperand: "{{K8_GPU_ALLOCATABLE}}"},
	}
	err := EvaluatePerNode(assertions, tokens, []*v1.ResourceEntry{
		{Hostname: "node-small", ExposedFields: map[string]interface{}{"gpu_allocatable": 4}},
		{Hostname: "node-big", ExposedFields: map[string]interface{}{"gpu_allocatable": 8}},
	})
	assert.NilError(t, err)
}

func TestEvaluatePerNodeRejectionTable(t *testing.T) {
	spec := &v1.ResourceSpec{GPU: 16}
	tokens := assertionTokens(t, spec)
	assertions := []v1.ResourceAssertion{
		{
			Operator:      v1.OperatorLE,
			LeftOperand:   "{{USER_GPU}}",
			RightOperand:  "{{K8_GPU_ALLOCATABLE}}",
			AssertMessage: "not enough gpus",
		},
	}
	err := EvaluatePerNode(assertions, tokens, []*v1.ResourceEntry{
		{Hostname: "node-b", ExposedFields: map[string]interface{}{"gpu_allocatable": 8}},
		{Hostname: "node-a", ExposedFields: map[string]interface{}{"gpu_allocatable": 4}},
	})
	assert.Assert(t, err != nil)
	message := err.Error()
	assert.Assert(t, strings.Contains(message, "NODE\tREASON"))
	// table is sorted by hostname
	assert.Assert(t, strings.Index(message, "node-a") < strings.Index(message, "node-b"))
	assert.Assert(t, strings.Contains(message, "not enough gpus"))
}

func TestEvaluatePerNodeNoCandidates(t *testing.T) {
	spec := &v1.ResourceSpec{GPU: 1}
	tokens := assertionTokens(t, spec)
	err := EvaluatePerNode([]v1.ResourceAssertion{
		{Operator: v1.OperatorLE, LeftOperand: "{{USER_GPU}}", RightOperand: "{{K8_GPU_ALLOCATABLE}}"},
	}, tokens, nil)
	assert.Assert(t, err != nil)
}

func TestCompareOperandsNumericAndLexical(t *testing.T) {
	ok, err := compareOperands(v1.OperatorEQ, "8", "8.0")
	assert.NilError(t, err)
	assert.Equal(t, ok, true)

	ok, err = compareOperands(v1.OperatorEQ, "dgx", "dgx")
	assert.NilError(t, err)
	assert.Equal(t, ok, true)

	_, err = compareOperands(v1.OperatorLT, "dgx", "8")
	assert.Assert(t, err != nil)
}

func TestPodSecurityKeyStableUnderMountOrder(t *testing.T) {
	a := PodSecurityKey(&v1.TaskSpec{Privileged: true}, "dgx")
	b := PodSecurityKey(&v1.TaskSpec{Privileged: true}, "dgx")
	assert.Equal(t, a, b)
	c := PodSecurityKey(&v1.TaskSpec{Privileged: true}, "hgx")
	assert.Assert(t, a != c)
}

func TestFilterByCapacity(t *testing.T) {
	request, err := RequestList(&v1.ResourceSpec{CPU: 4, GPU: 8, Memory: "32Gi"})
	assert.NilError(t, err)

	small := &v1.ResourceEntry{Hostname: "node-small", Allocatable: corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse("64"),
		corev1.ResourceMemory: resource.MustParse("256Gi"),
		"nvidia.com/gpu":      resource.MustParse("4"),
	}}
	big := &v1.ResourceEntry{Hostname: "node-big", Allocatable: corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse("64"),
		corev1.ResourceMemory: resource.MustParse("256Gi"),
		"nvidia.com/gpu":      resource.MustParse("8"),
	}}
	cpuOnly := &v1.ResourceEntry{Hostname: "node-cpu", Allocatable: corev1.ResourceList{
		corev1.ResourceCPU:    resource.MustParse("64"),
		corev1.ResourceMemory: resource.MustParse("256Gi"),
	}}

	fit, rejections := FilterByCapacity(request, []*v1.ResourceEntry{small, big, cpuOnly})
	assert.Equal(t, len(fit), 1)
	assert.Equal(t, fit[0].Hostname, "node-big")
	assert.Equal(t, len(rejections), 2)
	assert.Assert(t, strings.Contains(rejections[0].Reason, "nvidia.com/gpu"))

	// an empty request filters nothing
	fit, rejections = FilterByCapacity(nil, []*v1.ResourceEntry{small})
	assert.Equal(t, len(fit), 1)
	assert.Equal(t, len(rejections), 0)

	_, err = RequestList(&v1.ResourceSpec{Memory: "not-a-quantity"})
	assert.Assert(t, commonerrors.IsBadRequest(err))
}

func TestCheckPodSecurityOptIns(t *testing.T) {
	locked := &v1.Platform{}
	open := &v1.Platform{AllowPrivileged: true, AllowHostNetwork: true}

	err := CheckPodSecurity(&v1.TaskSpec{Name: "t", Privileged: true}, "dgx", locked)
	assert.Assert(t, commonerrors.IsBadRequest(err))
	assert.ErrorContains(t, err, "privileged")

	err = CheckPodSecurity(&v1.TaskSpec{Name: "t", HostNetwork: true}, "dgx", locked)
	assert.Assert(t, commonerrors.IsBadRequest(err))
	assert.ErrorContains(t, err, "host networking")

	assert.NilError(t, CheckPodSecurity(
		&v1.TaskSpec{Name: "t", Privileged: true, HostNetwork: true}, "dgx", open))
}

func TestCheckPodSecurityMountPaths(t *testing.T) {
	platform := &v1.Platform{AllowedMountPaths: []string{"/mnt/data", "/scratch"}}

	assert.NilError(t, CheckPodSecurity(&v1.TaskSpec{
		Name:         "t",
		VolumeMounts: []corev1.VolumeMount{{Name: "data", MountPath: "/mnt/data/run1"}},
	}, "dgx", platform))

	err := CheckPodSecurity(&v1.TaskSpec{
		Name:         "t",
		VolumeMounts: []corev1.VolumeMount{{Name: "host", MountPath: "/etc/kubernetes"}},
	}, "dgx", platform)
	assert.Assert(t, commonerrors.IsBadRequest(err))
	assert.ErrorContains(t, err, "/etc/kubernetes")

	// no allow list means any mount path
	assert.NilError(t, CheckPodSecurity(&v1.TaskSpec{
		Name:         "t",
		VolumeMounts: []corev1.VolumeMount{{Name: "host", MountPath: "/etc/kubernetes"}},
	}, "dgx", &v1.Platform{}))
}
