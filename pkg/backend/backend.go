/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package backend defines the narrow contract the state machine and the
// scheduler bridge have with a compute backend, plus the Kubernetes
// implementation and the redis-backed per-task action channel.
package backend

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

type EventType string

const (
	EventPodPhase       EventType = "POD_PHASE"
	EventNodeConditions EventType = "NODE_CONDITIONS"
	EventHeartbeat      EventType = "HEARTBEAT"
)

// PodPhaseEvent reports a phase change of one task pod.
type PodPhaseEvent struct {
	PodName      string
	TaskUuid     string
	WorkflowUuid string
	NodeName     string
	Phase        corev1.PodPhase
	Reason       string
	Message      string
}

type NodeConditionsEvent struct {
	Hostname   string
	Conditions []corev1.NodeCondition
}

type HeartbeatEvent struct {
	Time time.Time
}

// Event is one item of a backend's event stream. Exactly one of the
// pointers is set, matching Type.
type Event struct {
	Backend        string
	Type           EventType
	PodPhase       *PodPhaseEvent
	NodeConditions *NodeConditionsEvent
	Heartbeat      *HeartbeatEvent
}

// Interface is everything the control plane needs from a backend. Success
// of ApplyCleanupSpecs means the desired state is in effect on the cluster.
type Interface interface {
	Name() string

	// ApplyCleanupSpecs deletes everything matching the cleanup selectors,
	// then applies the given objects.
	ApplyCleanupSpecs(ctx context.Context, cleanup []v1.CleanupSpec,
		objects []*unstructured.Unstructured) error

	// ListenEvents streams pod phases, node conditions and heartbeats for
	// OSMO-owned objects until ctx is cancelled.
	ListenEvents(ctx context.Context) (<-chan *Event, error)

	// GetResources snapshots the node inventory with usage and derived
	// exposed fields.
	GetResources(ctx context.Context) ([]*v1.ResourceEntry, error)
}
