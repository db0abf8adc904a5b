/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import (
	corev1 "k8s.io/api/core/v1"
)

// UnboundedQuota marks a guarantee/maximum with no limit.
const UnboundedQuota int64 = -1

// Pool is the policy container binding a backend, a set of platforms, a pod
// template stack, validation rules, defaults and GPU quota.
type Pool struct {
	Backend         string              `json:"backend"`
	DefaultPlatform string              `json:"default_platform"`
	Platforms       map[string]Platform `json:"platforms"`

	// CommonPodTemplate is an ordered list of PodTemplate config names,
	// merged onto every task pod before the platform overlay.
	CommonPodTemplate         []string          `json:"common_pod_template,omitempty"`
	CommonResourceValidations []string          `json:"common_resource_validations,omitempty"`
	CommonDefaultVariables    map[string]string `json:"common_default_variables,omitempty"`

	Resources PoolResources `json:"resources,omitempty"`

	// TopologyKeys are ordered coarsest first.
	TopologyKeys []TopologyKey `json:"topology_keys,omitempty"`

	MaxExecTimeout      string `json:"max_exec_timeout,omitempty"`
	DefaultExecTimeout  string `json:"default_exec_timeout,omitempty"`
	MaxQueueTimeout     string `json:"max_queue_timeout,omitempty"`
	DefaultQueueTimeout string `json:"default_queue_timeout,omitempty"`

	EnableMaintenance bool `json:"enable_maintenance,omitempty"`
}

type PoolResources struct {
	GPU QuotaSpec `json:"gpu,omitempty"`
}

// QuotaSpec: -1 means unbounded.
type QuotaSpec struct {
	Guarantee int64   `json:"guarantee"`
	Maximum   int64   `json:"maximum"`
	Weight    float64 `json:"weight"`
}

type TopologyKey struct {
	// Key is the pool-scoped alias tasks reference.
	Key string `json:"key"`
	// Label is the node label the key aliases.
	Label string `json:"label"`
}

// Platform selects an eligible node set inside a pool and carries the
// per-platform pod overlay.
type Platform struct {
	Labels              map[string]string      `json:"labels,omitempty"`
	Tolerations         []corev1.Toleration    `json:"tolerations,omitempty"`
	PodTemplate         map[string]interface{} `json:"pod_template,omitempty"`
	ResourceValidations []string               `json:"resource_validations,omitempty"`
	DefaultVariables    map[string]string      `json:"default_variables,omitempty"`

	// Privileged pods, host networking and volume mounts are denied unless
	// the platform opts in. An empty AllowedMountPaths permits any path once
	// mounts are allowed at all.
	AllowPrivileged   bool     `json:"allow_privileged,omitempty"`
	AllowHostNetwork  bool     `json:"allow_host_network,omitempty"`
	AllowedMountPaths []string `json:"allowed_mount_paths,omitempty"`
}

// PodTemplate is an opaque pod-spec fragment composed by name-based list merge.
type PodTemplate struct {
	Template map[string]interface{} `json:"template"`
}

// ResourceValidation is a named set of admission assertions.
type ResourceValidation struct {
	Assertions []ResourceAssertion `json:"assertions"`
}

type AssertOperator string

const (
	OperatorLE  AssertOperator = "LE"
	OperatorLT  AssertOperator = "LT"
	OperatorGT  AssertOperator = "GT"
	OperatorGE  AssertOperator = "GE"
	OperatorEQ  AssertOperator = "EQ"
	OperatorNEQ AssertOperator = "NEQ"
)

// ResourceAssertion compares two operands rendered from the USER_*/K8_*
// token maps. Assertions referencing K8_* tokens are evaluated per node.
type ResourceAssertion struct {
	Operator      AssertOperator `json:"operator"`
	LeftOperand   string         `json:"left_operand"`
	RightOperand  string         `json:"right_operand"`
	AssertMessage string         `json:"assert_message"`
}
