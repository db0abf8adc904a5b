/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

const insertTaskSQL = `INSERT INTO %s
	(task_db_key, task_uuid, workflow_id, name, retry_id, group_name, status,
	 node_name, start_time, end_time, last_heartbeat,
	 cpu, memory_bytes, gpu, storage_bytes, exit_actions, lead)
	VALUES
	(:task_db_key, :task_uuid, :workflow_id, :name, :retry_id, :group_name, :status,
	 :node_name, :start_time, :end_time, :last_heartbeat,
	 :cpu, :memory_bytes, :gpu, :storage_bytes, :exit_actions, :lead)`

var aliveTaskStatuses = []string{
	string(v1.TaskWaiting), string(v1.TaskSubmitting), string(v1.TaskProcessing),
	string(v1.TaskScheduling), string(v1.TaskInitializing), string(v1.TaskRunning),
}

func (c *Client) InsertTasks(ctx context.Context, tasks []*Task) error {
	if len(tasks) == 0 {
		return nil
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTxx(ctx2, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, task := range tasks {
		if _, err = tx.NamedExecContext(ctx2, fmt.Sprintf(insertTaskSQL, TTask), task); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) GetTask(ctx context.Context, taskUuid string) (*Task, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var tasks []*Task
	if err = db.SelectContext(ctx2, &tasks,
		fmt.Sprintf(`SELECT * FROM %s WHERE task_uuid = $1 LIMIT 1`, TTask), taskUuid); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, commonerrors.NewNotFound("Task", taskUuid)
	}
	return tasks[0], nil
}

// GetCurrentTasks returns the maximum-retry_id attempt per task name.
func (c *Client) GetCurrentTasks(ctx context.Context, workflowId string) ([]*Task, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var tasks []*Task
	err = db.SelectContext(ctx2, &tasks, fmt.Sprintf(
		`SELECT DISTINCT ON (name) * FROM %s
		 WHERE workflow_id = $1 ORDER BY name, retry_id DESC`, TTask), workflowId)
	return tasks, err
}

func (c *Client) GetCurrentTasksOfGroup(ctx context.Context, workflowId, groupName string) ([]*Task, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var tasks []*Task
	err = db.SelectContext(ctx2, &tasks, fmt.Sprintf(
		`SELECT DISTINCT ON (name) * FROM %s
		 WHERE workflow_id = $1 AND group_name = $2 ORDER BY name, retry_id DESC`, TTask),
		workflowId, groupName)
	return tasks, err
}

func (c *Client) SelectTasks(ctx context.Context, query sqrl.Sqlizer,
	orderBy []string, limit, offset int) ([]*Task, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	builder := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TTask).Where(query).OrderBy(orderBy...)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	if offset > 0 {
		builder = builder.Offset(uint64(offset))
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var tasks []*Task
	err = db.SelectContext(ctx2, &tasks, sql, args...)
	return tasks, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, taskUuid string,
	from, to v1.TaskStatus) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET status = $1 WHERE task_uuid = $2 AND status = $3`, TTask),
		string(to), taskUuid, string(from))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (c *Client) SetTaskNode(ctx context.Context, taskUuid, nodeName string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET node_name = $1 WHERE task_uuid = $2`, TTask), nodeName, taskUuid)
	return err
}

func (c *Client) SetTaskStartTime(ctx context.Context, taskUuid string, t time.Time) error {
	return c.setTaskTimeOnce(ctx, taskUuid, "start_time", t)
}

func (c *Client) SetTaskEndTime(ctx context.Context, taskUuid string, t time.Time) error {
	return c.setTaskTimeOnce(ctx, taskUuid, "end_time", t)
}

func (c *Client) setTaskTimeOnce(ctx context.Context, taskUuid, column string, t time.Time) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE task_uuid = $2 AND %s IS NULL`, TTask, column, column),
		t, taskUuid)
	return err
}

// SetTaskHeartbeat only moves the timestamp forward.
func (c *Client) SetTaskHeartbeat(ctx context.Context, taskUuid string, t time.Time) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET last_heartbeat = $1
		 WHERE task_uuid = $2 AND (last_heartbeat IS NULL OR last_heartbeat < $1)`, TTask),
		t, taskUuid)
	return err
}

// InsertRetryAttempt marks the old attempt RESCHEDULED and inserts a new row
// with retry_id+1 under the same task_db_key in one transaction. The unique
// (workflow_id, name, retry_id) index rejects a second concurrent retry of
// the same attempt.
func (c *Client) InsertRetryAttempt(ctx context.Context, old *Task, newTaskUuid string) (*Task, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, err := db.BeginTxx(ctx2, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET status = $1 WHERE task_uuid = $2 AND status = $3`, TTask),
		string(v1.TaskRescheduled), old.TaskUuid, old.Status)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, commonerrors.NewConflict(
			fmt.Sprintf("task %s moved away from %s, retry lost the race", old.TaskUuid, old.Status))
	}

	next := *old
	next.Id = 0
	next.TaskUuid = newTaskUuid
	next.RetryId = old.RetryId + 1
	next.Status = string(v1.TaskWaiting)
	next.NodeName.Valid = false
	next.StartTime.Valid = false
	next.EndTime.Valid = false
	next.LastHeartbeat.Valid = false
	if _, err = tx.NamedExecContext(ctx2, fmt.Sprintf(insertTaskSQL, TTask), &next); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *Client) CountAliveTasksByUser(ctx context.Context, user string) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).
		From(TTask + " t").
		Join(TWorkflow + " w ON w.workflow_id = t.workflow_id").
		Where(sqrl.And{
			sqrl.Eq{"w.submitted_by": user},
			sqrl.Eq{"t.status": aliveTaskStatuses},
		}).ToSql()
	if err != nil {
		return 0, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var count int
	err = db.GetContext(ctx2, &count, sql, args...)
	return count, err
}

// SelectRunningTaskSummaries joins running tasks with their workflow for the
// pool quota engine.
func (c *Client) SelectRunningTaskSummaries(ctx context.Context) ([]*TaskSummary, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var summaries []*TaskSummary
	err = db.SelectContext(ctx2, &summaries, fmt.Sprintf(
		`SELECT w.submitted_by, w.pool, w.priority,
		        t.gpu, t.cpu, t.memory_bytes, t.storage_bytes
		 FROM %s t JOIN %s w ON w.workflow_id = t.workflow_id
		 WHERE t.status = $1`, TTask, TWorkflow), string(v1.TaskRunning))
	return summaries, err
}
