/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import "fmt"

// Labels stamped on every pod emitted by the scheduler bridge. The backend
// event listener selects on PoolLabel to find OSMO-owned objects.
const (
	PoolLabel         = "osmo.pool"
	PriorityLabel     = "osmo.priority"
	TaskNameLabel     = "osmo.task_name"
	TaskUuidLabel     = "osmo.task_uuid"
	GroupUuidLabel    = "osmo.group_uuid"
	WorkflowUuidLabel = "osmo.workflow_uuid"
	UserLabel         = "osmo.user"
)

// KAI scheduler label keys.
const (
	KaiQueueLabel        = "kai.scheduler/queue"
	KaiSubGroupNameLabel = "kai.scheduler/subgroup-name"
)

// Priority class names registered on every backend.
const (
	PriorityClassHigh   = "osmo-high"
	PriorityClassNormal = "osmo-normal"
	PriorityClassLow    = "osmo-low"
)

// DefaultQueueName is the parent queue every pool queue attaches to,
// one per backend namespace.
func DefaultQueueName(namespace string) string {
	return fmt.Sprintf("osmo-default-%s", namespace)
}

// PoolQueueName returns the scheduler queue owned by a pool.
func PoolQueueName(namespace, pool string) string {
	return fmt.Sprintf("osmo-pool-%s-%s", namespace, pool)
}

// PoolTopologyName returns the Topology CRD name owned by a pool.
func PoolTopologyName(namespace, pool string) string {
	return PoolQueueName(namespace, pool) + "-topology"
}
