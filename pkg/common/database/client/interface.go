/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

type Interface interface {
	WorkflowInterface
	TaskGroupInterface
	TaskInterface
	ConfigRevisionInterface
	CredentialInterface
}

type WorkflowInterface interface {
	// InsertWorkflow allocates the next job_id for the workflow name and
	// inserts the row, retrying unique-constraint races.
	InsertWorkflow(ctx context.Context, workflow *Workflow) error
	GetWorkflow(ctx context.Context, workflowId string) (*Workflow, error)
	GetWorkflowByUuid(ctx context.Context, workflowUuid string) (*Workflow, error)
	SelectWorkflows(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*Workflow, error)
	CountWorkflows(ctx context.Context, query sqrl.Sqlizer) (int, error)
	// UpdateWorkflowStatus is a compare-and-set; it reports whether the row
	// actually moved.
	UpdateWorkflowStatus(ctx context.Context, workflowId string, from, to v1.WorkflowStatus, failureMessage string) (bool, error)
	SetWorkflowStartTime(ctx context.Context, workflowId string, t time.Time) error
	SetWorkflowEndTime(ctx context.Context, workflowId string, t time.Time) error
	// SetWorkflowCancelled records cancelled_by exactly once.
	SetWorkflowCancelled(ctx context.Context, workflowId, cancelledBy string) (bool, error)
	CountAliveWorkflowsByUser(ctx context.Context, user string) (int, error)
}

type TaskGroupInterface interface {
	InsertTaskGroups(ctx context.Context, groups []*TaskGroup) error
	GetTaskGroups(ctx context.Context, workflowId string) ([]*TaskGroup, error)
	GetTaskGroup(ctx context.Context, workflowId, name string) (*TaskGroup, error)
	UpdateGroupStatus(ctx context.Context, groupUuid string, from, to v1.GroupStatus) (bool, error)
	// RemoveUpstreamGroup deletes a finished upstream from every group's
	// remaining set and returns the groups that became unblocked.
	RemoveUpstreamGroup(ctx context.Context, workflowId, upstreamName string) ([]*TaskGroup, error)
	SetGroupStartedAt(ctx context.Context, groupUuid string, t time.Time) error
	SetGroupFinishedAt(ctx context.Context, groupUuid string, t time.Time) error
}

type TaskInterface interface {
	InsertTasks(ctx context.Context, tasks []*Task) error
	GetTask(ctx context.Context, taskUuid string) (*Task, error)
	// GetCurrentTasks returns the maximum-retry_id attempt per task name.
	GetCurrentTasks(ctx context.Context, workflowId string) ([]*Task, error)
	GetCurrentTasksOfGroup(ctx context.Context, workflowId, groupName string) ([]*Task, error)
	SelectTasks(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, taskUuid string, from, to v1.TaskStatus) (bool, error)
	SetTaskNode(ctx context.Context, taskUuid, nodeName string) error
	SetTaskStartTime(ctx context.Context, taskUuid string, t time.Time) error
	SetTaskEndTime(ctx context.Context, taskUuid string, t time.Time) error
	SetTaskHeartbeat(ctx context.Context, taskUuid string, t time.Time) error
	// InsertRetryAttempt marks the old attempt RESCHEDULED and inserts a new
	// row with retry_id+1 under the same task_db_key, atomically.
	InsertRetryAttempt(ctx context.Context, old *Task, newTaskUuid string) (*Task, error)
	CountAliveTasksByUser(ctx context.Context, user string) (int, error)
	// SelectRunningTaskSummaries aggregates running tasks for the pool
	// quota engine.
	SelectRunningTaskSummaries(ctx context.Context) ([]*TaskSummary, error)
}

// TaskSummary joins a running task with the workflow facts the quota engine
// needs.
type TaskSummary struct {
	User         string  `db:"submitted_by"`
	Pool         string  `db:"pool"`
	Priority     string  `db:"priority"`
	Gpu          int64   `db:"gpu"`
	Cpu          float64 `db:"cpu"`
	MemoryBytes  int64   `db:"memory_bytes"`
	StorageBytes int64   `db:"storage_bytes"`
}

type ConfigRevisionInterface interface {
	// InsertConfigRevision allocates the next revision for the config type
	// inside a transaction; revisions never skip and are never reused.
	InsertConfigRevision(ctx context.Context, rev *ConfigRevision) (int64, error)
	GetLatestConfig(ctx context.Context, configType, name string) (*ConfigRevision, error)
	GetConfigRevision(ctx context.Context, configType string, revision int64) (*ConfigRevision, error)
	SelectConfigRevisions(ctx context.Context, query sqrl.Sqlizer, orderBy []string, limit, offset int) ([]*ConfigRevision, error)
	// GetConfigAtTimestamp returns the latest non-deleted revision at or
	// before ts for every name of the config type.
	GetConfigAtTimestamp(ctx context.Context, configType string, ts time.Time) ([]*ConfigRevision, error)
	SoftDeleteConfig(ctx context.Context, configType, name, deletedBy string) error
	ListConfigNames(ctx context.Context, configType string) ([]string, error)
}

type CredentialInterface interface {
	UpsertCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, username, name string) (*Credential, error)
	ListCredentials(ctx context.Context, username string) ([]*Credential, error)
	DeleteCredential(ctx context.Context, username, name string) error
}
