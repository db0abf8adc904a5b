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
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/backoff"
)

const insertWorkflowRetries = 5

var aliveWorkflowStatuses = []string{
	string(v1.WorkflowPending), string(v1.WorkflowRunning),
}

// InsertWorkflow allocates job_id = max(job_id)+1 for the workflow name and
// inserts the row in one transaction. Two concurrent submitters of the same
// name can race on the unique (workflow_id) index; the losing insert retries
// with a fresh job_id under full-jitter backoff.
func (c *Client) InsertWorkflow(ctx context.Context, workflow *Workflow) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	return backoff.RetryWithJitter(func() error {
		ctx2, cancel := c.withTimeout(ctx)
		defer cancel()

		tx, err := db.BeginTxx(ctx2, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var jobId int64
		if err = tx.GetContext(ctx2, &jobId,
			fmt.Sprintf(`SELECT COALESCE(MAX(job_id), 0) + 1 FROM %s WHERE name = $1`, TWorkflow),
			workflow.Name); err != nil {
			return err
		}
		workflow.JobId = jobId
		workflow.WorkflowId = fmt.Sprintf("%s-%d", workflow.Name, jobId)
		if _, err = tx.NamedExecContext(ctx2, fmt.Sprintf(`INSERT INTO %s
			(workflow_uuid, name, job_id, workflow_id, submitted_by, backend, pool, priority, status,
			 submit_time, start_time, end_time, exec_timeout_second, queue_timeout_second,
			 parent_name, parent_job_id, app_uuid, app_version, tags, plugins,
			 cancelled_by, failure_message, logs_url, outputs_url)
			VALUES
			(:workflow_uuid, :name, :job_id, :workflow_id, :submitted_by, :backend, :pool, :priority, :status,
			 :submit_time, :start_time, :end_time, :exec_timeout_second, :queue_timeout_second,
			 :parent_name, :parent_job_id, :app_uuid, :app_version, :tags, :plugins,
			 :cancelled_by, :failure_message, :logs_url, :outputs_url)`, TWorkflow),
			workflow); err != nil {
			return err
		}
		return tx.Commit()
	}, insertWorkflowRetries, dbutils.IsUniqueViolation)
}

func (c *Client) GetWorkflow(ctx context.Context, workflowId string) (*Workflow, error) {
	return c.getWorkflowBy(ctx, "workflow_id", workflowId)
}

func (c *Client) GetWorkflowByUuid(ctx context.Context, workflowUuid string) (*Workflow, error) {
	return c.getWorkflowBy(ctx, "workflow_uuid", workflowUuid)
}

func (c *Client) getWorkflowBy(ctx context.Context, column, value string) (*Workflow, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var workflows []*Workflow
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = $1 LIMIT 1`, TWorkflow, column)
	if err = db.SelectContext(ctx2, &workflows, query, value); err != nil {
		return nil, err
	}
	if len(workflows) == 0 {
		return nil, commonerrors.NewNotFound("Workflow", value)
	}
	return workflows[0], nil
}

func (c *Client) SelectWorkflows(ctx context.Context, query sqrl.Sqlizer,
	orderBy []string, limit, offset int) ([]*Workflow, error) {
	startTime := time.Now()
	defer func() {
		klog.V(4).Infof("select workflows cost (%v)", time.Since(startTime))
	}()

	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		if limit, err = c.CountWorkflows(ctx, query); err != nil {
			return nil, err
		}
	}
	if offset < 0 {
		offset = 0
	}
	sql, args, err := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TWorkflow).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var workflows []*Workflow
	err = db.SelectContext(ctx2, &workflows, sql, args...)
	return workflows, err
}

func (c *Client) CountWorkflows(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).
		From(TWorkflow).Where(query).ToSql()
	if err != nil {
		return 0, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var count int
	err = db.GetContext(ctx2, &count, sql, args...)
	return count, err
}

// UpdateWorkflowStatus moves a workflow between statuses only when the row
// still carries the expected value, so concurrent aggregators stay
// idempotent.
func (c *Client) UpdateWorkflowStatus(ctx context.Context, workflowId string,
	from, to v1.WorkflowStatus, failureMessage string) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET status = $1,
		        failure_message = CASE WHEN $2 <> '' THEN $2 ELSE failure_message END
		 WHERE workflow_id = $3 AND status = $4`, TWorkflow),
		string(to), failureMessage, workflowId, string(from))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// SetWorkflowStartTime is write-once.
func (c *Client) SetWorkflowStartTime(ctx context.Context, workflowId string, t time.Time) error {
	return c.setWorkflowTimeOnce(ctx, workflowId, "start_time", t)
}

// SetWorkflowEndTime is write-once; finished workflows never clear it.
func (c *Client) SetWorkflowEndTime(ctx context.Context, workflowId string, t time.Time) error {
	return c.setWorkflowTimeOnce(ctx, workflowId, "end_time", t)
}

func (c *Client) setWorkflowTimeOnce(ctx context.Context, workflowId, column string, t time.Time) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE workflow_id = $2 AND %s IS NULL`, TWorkflow, column, column),
		t, workflowId)
	return err
}

// SetWorkflowCancelled records the canceller under a compare-and-set on the
// empty cancelled_by field; it reports whether this caller won the race.
func (c *Client) SetWorkflowCancelled(ctx context.Context, workflowId, cancelledBy string) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET cancelled_by = $1 WHERE workflow_id = $2 AND cancelled_by IS NULL`, TWorkflow),
		cancelledBy, workflowId)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (c *Client) CountAliveWorkflowsByUser(ctx context.Context, user string) (int, error) {
	return c.CountWorkflows(ctx, sqrl.And{
		sqrl.Eq{"submitted_by": user},
		sqrl.Eq{"status": aliveWorkflowStatuses},
	})
}
