/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/backend"
)

// listenBackend consumes one backend's event stream until the server stops.
// Per-workflow order is preserved because a backend's events arrive on a
// single channel.
func (s *Server) listenBackend(ctx context.Context, cluster backend.Interface) {
	events, err := cluster.ListenEvents(ctx)
	if err != nil {
		klog.ErrorS(err, "failed to start event listener", "backend", cluster.Name())
		return
	}
	klog.Infof("listening for events from backend %s", cluster.Name())
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, event *backend.Event) {
	switch event.Type {
	case backend.EventHeartbeat:
		s.backends.MarkHeartbeat(event.Backend, event.Heartbeat.Time)
	case backend.EventPodPhase:
		if err := s.handlePodPhase(ctx, event.PodPhase); err != nil {
			klog.ErrorS(err, "failed to process pod phase event",
				"backend", event.Backend, "pod", event.PodPhase.PodName)
		}
	case backend.EventNodeConditions:
		for _, condition := range event.NodeConditions.Conditions {
			if condition.Status == corev1.ConditionTrue && condition.Type != corev1.NodeReady {
				klog.Infof("backend %s node %s condition %s: %s", event.Backend,
					event.NodeConditions.Hostname, condition.Type, condition.Message)
			}
		}
	}
}

func (s *Server) handlePodPhase(ctx context.Context, event *backend.PodPhaseEvent) error {
	if event.TaskUuid == "" {
		return nil
	}
	task, err := s.db.GetTask(ctx, event.TaskUuid)
	if err != nil {
		return err
	}
	current := v1.TaskStatus(task.Status)
	if current.Finished() {
		return nil
	}
	next, relevant := taskStatusForPhase(event.Phase, event.Reason)
	if !relevant || next == current {
		return nil
	}

	moved, err := s.machine.MoveTask(ctx, event.TaskUuid, current, next)
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}
	taskTransitions.WithLabelValues(string(next)).Inc()
	if event.NodeName != "" && next == v1.TaskRunning {
		if err = s.db.SetTaskNode(ctx, event.TaskUuid, event.NodeName); err != nil {
			klog.ErrorS(err, "failed to record task node", "task", event.TaskUuid)
		}
	}
	_ = s.db.SetTaskHeartbeat(ctx, event.TaskUuid, time.Now())

	groups, err := s.machine.SyncAll(ctx, task.WorkflowId)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		s.dispatcher.LaunchUnblocked(ctx, task.WorkflowId, groups)
	}
	if next.Finished() {
		s.reapIfFinished(ctx, task.WorkflowId)
	}
	return nil
}

// taskStatusForPhase maps a pod phase to the task transition it implies.
// A pending pod stuck on an image pull never reaches Failed; the
// waiting-container reason carries the failure instead.
func taskStatusForPhase(phase corev1.PodPhase, reason string) (v1.TaskStatus, bool) {
	switch phase {
	case corev1.PodPending:
		switch reason {
		case "ErrImagePull", "ImagePullBackOff", "InvalidImageName":
			return v1.TaskFailedImagePull, true
		}
		return v1.TaskScheduling, true
	case corev1.PodRunning:
		return v1.TaskRunning, true
	case corev1.PodSucceeded:
		return v1.TaskCompleted, true
	case corev1.PodFailed:
		switch reason {
		case "Evicted":
			return v1.TaskFailedEvicted, true
		case "Preempted", "Preempting":
			return v1.TaskFailedPreempted, true
		case "StartError":
			return v1.TaskFailedStartError, true
		default:
			return v1.TaskFailed, true
		}
	}
	return "", false
}

// reapIfFinished releases backend objects once the workflow reaches a
// terminal state.
func (s *Server) reapIfFinished(ctx context.Context, workflowId string) {
	workflow, err := s.db.GetWorkflow(ctx, workflowId)
	if err != nil {
		klog.ErrorS(err, "failed to load workflow for reaping", "workflow", workflowId)
		return
	}
	if !v1.WorkflowStatus(workflow.Status).Finished() {
		return
	}
	if err = s.dispatcher.ReleaseWorkflow(ctx, workflowId); err != nil {
		klog.ErrorS(err, "failed to release workflow objects", "workflow", workflowId)
	}
}
