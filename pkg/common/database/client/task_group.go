/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

func (c *Client) InsertTaskGroups(ctx context.Context, groups []*TaskGroup) error {
	if len(groups) == 0 {
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

	for _, group := range groups {
		if _, err = tx.NamedExecContext(ctx2, fmt.Sprintf(`INSERT INTO %s
			(group_uuid, workflow_id, name, spec, status, barrier,
			 remaining_upstream_groups, downstream_groups, created_at, started_at, finished_at)
			VALUES
			(:group_uuid, :workflow_id, :name, :spec, :status, :barrier,
			 :remaining_upstream_groups, :downstream_groups, :created_at, :started_at, :finished_at)`,
			TTaskGroup), group); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Client) GetTaskGroups(ctx context.Context, workflowId string) ([]*TaskGroup, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var groups []*TaskGroup
	err = db.SelectContext(ctx2, &groups,
		fmt.Sprintf(`SELECT * FROM %s WHERE workflow_id = $1 ORDER BY id`, TTaskGroup), workflowId)
	return groups, err
}

func (c *Client) GetTaskGroup(ctx context.Context, workflowId, name string) (*TaskGroup, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var groups []*TaskGroup
	if err = db.SelectContext(ctx2, &groups,
		fmt.Sprintf(`SELECT * FROM %s WHERE workflow_id = $1 AND name = $2 LIMIT 1`, TTaskGroup),
		workflowId, name); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, commonerrors.NewNotFound("TaskGroup", fmt.Sprintf("%s/%s", workflowId, name))
	}
	return groups[0], nil
}

func (c *Client) UpdateGroupStatus(ctx context.Context, groupUuid string,
	from, to v1.GroupStatus) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET status = $1 WHERE group_uuid = $2 AND status = $3`, TTaskGroup),
		string(to), groupUuid, string(from))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// RemoveUpstreamGroup removes a finished upstream from every group's
// remaining set inside one transaction and returns the groups whose set
// became empty. Row locks serialize concurrent aggregators so each group
// unblocks exactly once.
func (c *Client) RemoveUpstreamGroup(ctx context.Context, workflowId, upstreamName string) ([]*TaskGroup, error) {
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

	var groups []*TaskGroup
	if err = tx.SelectContext(ctx2, &groups, fmt.Sprintf(
		`SELECT * FROM %s WHERE workflow_id = $1 AND remaining_upstream_groups IS NOT NULL
		 ORDER BY id FOR UPDATE`, TTaskGroup), workflowId); err != nil {
		return nil, err
	}

	var unblocked []*TaskGroup
	for _, group := range groups {
		remaining, err := decodeStringList(dbutils.ParseNullString(group.RemainingUpstreamGroups))
		if err != nil {
			klog.ErrorS(err, "corrupt remaining_upstream_groups",
				"workflow", workflowId, "group", group.Name)
			return nil, err
		}
		next := remaining[:0]
		removed := false
		for _, name := range remaining {
			if name == upstreamName {
				removed = true
				continue
			}
			next = append(next, name)
		}
		if !removed {
			continue
		}
		encoded, err := encodeStringList(next)
		if err != nil {
			return nil, err
		}
		if _, err = tx.ExecContext(ctx2, fmt.Sprintf(
			`UPDATE %s SET remaining_upstream_groups = $1 WHERE group_uuid = $2`, TTaskGroup),
			encoded, group.GroupUuid); err != nil {
			return nil, err
		}
		group.RemainingUpstreamGroups = dbutils.ToNullString(encoded)
		if len(next) == 0 {
			unblocked = append(unblocked, group)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return unblocked, nil
}

func (c *Client) SetGroupStartedAt(ctx context.Context, groupUuid string, t time.Time) error {
	return c.setGroupTimeOnce(ctx, groupUuid, "started_at", t)
}

func (c *Client) SetGroupFinishedAt(ctx context.Context, groupUuid string, t time.Time) error {
	return c.setGroupTimeOnce(ctx, groupUuid, "finished_at", t)
}

func (c *Client) setGroupTimeOnce(ctx context.Context, groupUuid, column string, t time.Time) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err = db.ExecContext(ctx2, fmt.Sprintf(
		`UPDATE %s SET %s = $1 WHERE group_uuid = $2 AND %s IS NULL`, TTaskGroup, column, column),
		t, groupUuid)
	return err
}

func decodeStringList(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(encoded), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func encodeStringList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
