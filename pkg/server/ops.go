/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/admission"
	"github.com/NVIDIA/OSMO-sub000/pkg/backend"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/poolquota"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// SubmitWorkflow runs admission and, on submit mode, dispatches the root
// groups to the pool's backend.
func (s *Server) SubmitWorkflow(ctx context.Context, req *admission.Request) (*admission.Result, error) {
	result, err := s.admitter.Admit(ctx, req)
	if err != nil {
		admissionRejected.WithLabelValues(string(req.Mode)).Inc()
		return nil, err
	}
	if req.Mode != admission.ModeSubmit {
		return result, nil
	}
	workflowsAdmitted.WithLabelValues(result.Compiled.PoolName).Inc()

	if err = s.dispatcher.Track(ctx, result.WorkflowId, result.Compiled,
		req.Submit.User, req.Submit.Priority); err != nil {
		// rows exist; the resync loop retries dispatch-level failures
		klog.ErrorS(err, "failed to dispatch admitted workflow", "workflow", result.WorkflowId)
	}
	return result, nil
}

// CancelWorkflow records cancellation and reclaims the workflow's backend
// objects. The returned job id is non-empty only for a force cancel of a
// finished workflow.
func (s *Server) CancelWorkflow(ctx context.Context, workflowId, user string, force bool) (string, error) {
	jobId, err := s.machine.Cancel(ctx, workflowId, user, force)
	if err != nil {
		return "", err
	}
	if err = s.dispatcher.ReleaseWorkflow(ctx, workflowId); err != nil {
		klog.ErrorS(err, "failed to reclaim cancelled workflow objects", "workflow", workflowId)
	}
	return jobId, nil
}

// RetryTask reruns a failed task (its whole group when the group is a
// barrier) and re-dispatches the group.
func (s *Server) RetryTask(ctx context.Context, workflowId, taskName string) ([]*dbclient.Task, error) {
	workflowConfig := &v1.WorkflowConfig{}
	if err := s.store.GetTyped(ctx, v1.ConfigWorkflow,
		admission.WorkflowConfigName, workflowConfig); err != nil && !commonerrors.IsNotFound(err) {
		return nil, err
	}
	attempts, err := s.machine.RetryTask(ctx, workflowId, taskName, workflowConfig.RetryAllowed)
	if err != nil {
		return nil, err
	}
	if len(attempts) > 0 {
		if err = s.dispatcher.LaunchGroup(ctx, workflowId, attempts[0].GroupName); err != nil {
			klog.ErrorS(err, "failed to re-dispatch retried group",
				"workflow", workflowId, "group", attempts[0].GroupName)
		}
	}
	return attempts, nil
}

// QuotaReport assembles the pool quota view and refreshes the gauges.
func (s *Server) QuotaReport(ctx context.Context) (*poolquota.Report, error) {
	pools, err := (&storePoolSource{store: s.store}).Pools(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := s.db.SelectRunningTaskSummaries(ctx)
	if err != nil {
		return nil, err
	}
	resources, err := s.backends.AllResources(ctx)
	if err != nil {
		return nil, err
	}
	report := poolquota.Compute(pools, summaries, resources)
	for pool, quota := range report.Pools {
		poolQuotaGauge.WithLabelValues(pool, "quota_limit").Set(float64(quota.QuotaLimit))
		poolQuotaGauge.WithLabelValues(pool, "quota_used").Set(float64(quota.QuotaUsed))
		poolQuotaGauge.WithLabelValues(pool, "quota_free").Set(float64(quota.QuotaFree))
		poolQuotaGauge.WithLabelValues(pool, "total_usage").Set(float64(quota.TotalUsage))
		poolQuotaGauge.WithLabelValues(pool, "total_capacity").Set(float64(quota.TotalCapacity))
		poolQuotaGauge.WithLabelValues(pool, "total_free").Set(float64(quota.TotalFree))
	}
	return report, nil
}

// PublishTaskAction queues an interactive request for a running task. The
// request's TTL is the workflow's remaining execution budget.
func (s *Server) PublishTaskAction(ctx context.Context, workflowId, taskName string,
	request *backend.ActionRequest) error {
	task, err := s.currentTask(ctx, workflowId, taskName)
	if err != nil {
		return err
	}
	status := v1.TaskStatus(task.Status)
	if status.Finished() {
		return commonerrors.NewGone(fmt.Sprintf(
			"task %s of workflow %s already finished with status %s", taskName, workflowId, status))
	}
	if status != v1.TaskRunning {
		return commonerrors.NewTooEarly(fmt.Sprintf(
			"task %s of workflow %s is %s, not RUNNING yet", taskName, workflowId, status))
	}
	workflow, err := s.db.GetWorkflow(ctx, workflowId)
	if err != nil {
		return err
	}
	ttl := time.Duration(workflow.ExecTimeout) * time.Second
	if workflow.StartTime.Valid && ttl > 0 {
		remaining := time.Until(workflow.StartTime.Time.Add(ttl))
		if remaining <= 0 {
			return commonerrors.NewGone(fmt.Sprintf(
				"workflow %s exhausted its execution budget", workflowId))
		}
		ttl = remaining
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return s.actions.Publish(ctx, task.TaskUuid, request, ttl)
}

// ReceiveTaskAction is the agent-side dequeue for a task's requests.
func (s *Server) ReceiveTaskAction(ctx context.Context, taskUuid string,
	wait time.Duration) (*backend.ActionRequest, error) {
	return s.actions.Receive(ctx, taskUuid, wait)
}

func (s *Server) currentTask(ctx context.Context, workflowId, taskName string) (*dbclient.Task, error) {
	tasks, err := s.db.GetCurrentTasks(ctx, workflowId)
	if err != nil {
		return nil, err
	}
	wanted := utils.CanonicalName(taskName)
	for _, task := range tasks {
		if utils.CanonicalName(task.Name) == wanted {
			return task, nil
		}
	}
	return nil, commonerrors.NewNotFound("Task", taskName)
}

// resyncAliveWorkflows recomputes aggregates for every alive workflow,
// dispatches groups unblocked outside the event path, and relaunches groups
// whose dispatch was lost (e.g. admitted right before a server restart).
func (s *Server) resyncAliveWorkflows() {
	alive, err := s.db.SelectWorkflows(s.ctx, sqrl.Eq{"status": []string{
		string(v1.WorkflowPending), string(v1.WorkflowRunning),
	}}, nil, -1, 0)
	if err != nil {
		klog.ErrorS(err, "failed to list alive workflows for resync")
		return
	}
	for _, workflow := range alive {
		unblocked, err := s.machine.SyncAll(s.ctx, workflow.WorkflowId)
		if err != nil {
			klog.ErrorS(err, "resync failed", "workflow", workflow.WorkflowId)
			continue
		}
		if len(unblocked) > 0 {
			s.dispatcher.LaunchUnblocked(s.ctx, workflow.WorkflowId, unblocked)
		}
		if err = s.dispatcher.RelaunchPending(s.ctx, workflow.WorkflowId); err != nil {
			klog.ErrorS(err, "relaunch sweep failed", "workflow", workflow.WorkflowId)
		}
	}
}
