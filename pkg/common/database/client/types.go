/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"database/sql"

	"github.com/lib/pq"
)

const (
	DESC = "desc"
	ASC  = "asc"

	TWorkflow       = "workflow"
	TTaskGroup      = "task_group"
	TTask           = "task"
	TConfigRevision = "config_revision"
	TCredential     = "credential"
)

// Workflow rows are created on admission and never deleted. Status moves
// only through the state machine; start_time, end_time and cancelled_by are
// write-once fields gated by SQL predicates.
type Workflow struct {
	Id             int64          `db:"id" gorm:"column:id;primaryKey;autoIncrement"`
	WorkflowUuid   string         `db:"workflow_uuid" gorm:"column:workflow_uuid;uniqueIndex;size:32"`
	Name           string         `db:"name" gorm:"column:name;index:idx_workflow_name"`
	JobId          int64          `db:"job_id" gorm:"column:job_id"`
	WorkflowId     string         `db:"workflow_id" gorm:"column:workflow_id;uniqueIndex"`
	SubmittedBy    string         `db:"submitted_by" gorm:"column:submitted_by;index"`
	Backend        string         `db:"backend" gorm:"column:backend"`
	Pool           string         `db:"pool" gorm:"column:pool;index"`
	Priority       string         `db:"priority" gorm:"column:priority"`
	Status         string         `db:"status" gorm:"column:status;index"`
	SubmitTime     pq.NullTime    `db:"submit_time" gorm:"column:submit_time"`
	StartTime      pq.NullTime    `db:"start_time" gorm:"column:start_time"`
	EndTime        pq.NullTime    `db:"end_time" gorm:"column:end_time"`
	ExecTimeout    int64          `db:"exec_timeout_second" gorm:"column:exec_timeout_second"`
	QueueTimeout   int64          `db:"queue_timeout_second" gorm:"column:queue_timeout_second"`
	ParentName     sql.NullString `db:"parent_name" gorm:"column:parent_name"`
	ParentJobId    sql.NullInt64  `db:"parent_job_id" gorm:"column:parent_job_id"`
	AppUuid        sql.NullString `db:"app_uuid" gorm:"column:app_uuid"`
	AppVersion     sql.NullString `db:"app_version" gorm:"column:app_version"`
	Tags           sql.NullString `db:"tags" gorm:"column:tags"`
	Plugins        sql.NullString `db:"plugins" gorm:"column:plugins"`
	CancelledBy    sql.NullString `db:"cancelled_by" gorm:"column:cancelled_by"`
	FailureMessage sql.NullString `db:"failure_message" gorm:"column:failure_message"`
	LogsUrl        sql.NullString `db:"logs_url" gorm:"column:logs_url"`
	OutputsUrl     sql.NullString `db:"outputs_url" gorm:"column:outputs_url"`
}

func (Workflow) TableName() string { return TWorkflow }

// TaskGroup rows are created at admission. remaining_upstream_groups and
// downstream_groups are JSON string arrays.
type TaskGroup struct {
	Id                      int64          `db:"id" gorm:"column:id;primaryKey;autoIncrement"`
	GroupUuid               string         `db:"group_uuid" gorm:"column:group_uuid;uniqueIndex;size:32"`
	WorkflowId              string         `db:"workflow_id" gorm:"column:workflow_id;index:idx_group_workflow"`
	Name                    string         `db:"name" gorm:"column:name"`
	Spec                    string         `db:"spec" gorm:"column:spec;type:text"`
	Status                  string         `db:"status" gorm:"column:status"`
	Barrier                 bool           `db:"barrier" gorm:"column:barrier"`
	RemainingUpstreamGroups sql.NullString `db:"remaining_upstream_groups" gorm:"column:remaining_upstream_groups;type:text"`
	DownstreamGroups        sql.NullString `db:"downstream_groups" gorm:"column:downstream_groups;type:text"`
	CreatedAt               pq.NullTime    `db:"created_at" gorm:"column:created_at"`
	StartedAt               pq.NullTime    `db:"started_at" gorm:"column:started_at"`
	FinishedAt              pq.NullTime    `db:"finished_at" gorm:"column:finished_at"`
}

func (TaskGroup) TableName() string { return TTaskGroup }

// Task rows: task_db_key is stable across retries, task_uuid is per attempt.
// (workflow_id, name, retry_id) is unique and only the maximum retry_id row
// is the current attempt.
type Task struct {
	Id            int64          `db:"id" gorm:"column:id;primaryKey;autoIncrement"`
	TaskDbKey     string         `db:"task_db_key" gorm:"column:task_db_key;index;size:32"`
	TaskUuid      string         `db:"task_uuid" gorm:"column:task_uuid;uniqueIndex;size:32"`
	WorkflowId    string         `db:"workflow_id" gorm:"column:workflow_id;index:idx_task_workflow;uniqueIndex:idx_task_attempt,priority:1"`
	Name          string         `db:"name" gorm:"column:name;uniqueIndex:idx_task_attempt,priority:2"`
	RetryId       int            `db:"retry_id" gorm:"column:retry_id;uniqueIndex:idx_task_attempt,priority:3"`
	GroupName     string         `db:"group_name" gorm:"column:group_name"`
	Status        string         `db:"status" gorm:"column:status;index"`
	NodeName      sql.NullString `db:"node_name" gorm:"column:node_name"`
	StartTime     pq.NullTime    `db:"start_time" gorm:"column:start_time"`
	EndTime       pq.NullTime    `db:"end_time" gorm:"column:end_time"`
	LastHeartbeat pq.NullTime    `db:"last_heartbeat" gorm:"column:last_heartbeat"`
	Cpu           float64        `db:"cpu" gorm:"column:cpu"`
	MemoryBytes   int64          `db:"memory_bytes" gorm:"column:memory_bytes"`
	Gpu           int64          `db:"gpu" gorm:"column:gpu"`
	StorageBytes  int64          `db:"storage_bytes" gorm:"column:storage_bytes"`
	ExitActions   sql.NullString `db:"exit_actions" gorm:"column:exit_actions;type:text"`
	Lead          bool           `db:"lead" gorm:"column:lead"`
}

func (Task) TableName() string { return TTask }

// ConfigRevision rows are immutable; soft delete marks deleted_at/by and
// revision numbers are never reused.
type ConfigRevision struct {
	Id          int64          `db:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConfigType  string         `db:"config_type" gorm:"column:config_type;uniqueIndex:idx_config_revision,priority:1"`
	Revision    int64          `db:"revision" gorm:"column:revision;uniqueIndex:idx_config_revision,priority:2"`
	Name        string         `db:"name" gorm:"column:name;index"`
	Data        string         `db:"data" gorm:"column:data;type:text"`
	Username    string         `db:"username" gorm:"column:username"`
	Description sql.NullString `db:"description" gorm:"column:description"`
	Tags        sql.NullString `db:"tags" gorm:"column:tags"`
	CreatedAt   pq.NullTime    `db:"created_at" gorm:"column:created_at"`
	DeletedAt   pq.NullTime    `db:"deleted_at" gorm:"column:deleted_at"`
	DeletedBy   sql.NullString `db:"deleted_by" gorm:"column:deleted_by"`
}

func (ConfigRevision) TableName() string { return TConfigRevision }

// Credential rows hold only ciphertext: the secret under the user's KEK and
// the KEK wrapped under the MEK identified by mek_id.
type Credential struct {
	Id         int64       `db:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Username   string      `db:"username" gorm:"column:username;uniqueIndex:idx_credential_user_name,priority:1"`
	Name       string      `db:"name" gorm:"column:name;uniqueIndex:idx_credential_user_name,priority:2"`
	CredType   string      `db:"cred_type" gorm:"column:cred_type"`
	Ciphertext string      `db:"ciphertext" gorm:"column:ciphertext;type:text"`
	WrappedKek string      `db:"wrapped_kek" gorm:"column:wrapped_kek;type:text"`
	MekId      string      `db:"mek_id" gorm:"column:mek_id"`
	CreatedAt  pq.NullTime `db:"created_at" gorm:"column:created_at"`
}

func (Credential) TableName() string { return TCredential }
