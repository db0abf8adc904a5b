/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import (
	"time"

	corev1 "k8s.io/api/core/v1"
)

type SchedulerType string

const (
	SchedulerKai     SchedulerType = "KAI"
	SchedulerDefault SchedulerType = "DEFAULT"
)

// HeartbeatTimeout is how stale a backend heartbeat may be before the
// backend is reported offline.
const HeartbeatTimeout = 2 * time.Minute

// Backend describes one compute backend (a Kubernetes-style cluster).
type Backend struct {
	Name           string            `json:"name"`
	Scheduler      SchedulerSettings `json:"scheduler"`
	K8sNamespace   string            `json:"k8s_namespace"`
	NodeConditions NodeConditions    `json:"node_conditions,omitempty"`
	Tests          []BackendTest     `json:"tests,omitempty"`
	RouterAddress  string            `json:"router_address,omitempty"`
	LastHeartbeat  time.Time         `json:"last_heartbeat,omitempty"`
}

type SchedulerSettings struct {
	SchedulerType SchedulerType `json:"scheduler_type"`
	SchedulerName string        `json:"scheduler_name"`
}

type NodeConditions struct {
	Prefix string `json:"prefix,omitempty"`
}

type BackendTest struct {
	Name string                 `json:"name"`
	Spec map[string]interface{} `json:"spec,omitempty"`
}

// Online reports whether the backend is usable. A pool under maintenance is
// treated as online so config pushes still go through.
func (b *Backend) Online(now time.Time, enableMaintenance bool) bool {
	if enableMaintenance {
		return true
	}
	return !b.LastHeartbeat.IsZero() && now.Sub(b.LastHeartbeat) <= HeartbeatTimeout
}

// ResourceEntry is one node reported by a backend's GetResources.
type ResourceEntry struct {
	Backend     string            `json:"backend"`
	Hostname    string            `json:"hostname"`
	Labels      map[string]string `json:"labels,omitempty"`
	Taints      []corev1.Taint    `json:"taints,omitempty"`
	Allocatable corev1.ResourceList `json:"allocatable,omitempty"`
	// Usage is GPU consumption by workflow pods; NonWorkflowUsage by
	// anything else running on the node.
	Usage            int64 `json:"usage"`
	NonWorkflowUsage int64 `json:"non_workflow_usage"`
	// ExposedFields are the derived per-node K8_* token values, including
	// "pool/platform" membership.
	ExposedFields map[string]interface{} `json:"exposed_fields,omitempty"`
}

// PoolPlatformField is the ExposedFields key listing the pool/platform
// pairs a node belongs to.
const PoolPlatformField = "pool/platform"
