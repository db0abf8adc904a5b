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

	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/backoff"
)

const insertConfigRetries = 5

// InsertConfigRevision allocates revision = max(revision)+1 within the config
// type and inserts the row. Concurrent writers race on the unique
// (config_type, revision) index and the loser retries with a fresh number, so
// revisions never skip and are never reused.
func (c *Client) InsertConfigRevision(ctx context.Context, rev *ConfigRevision) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	err = backoff.RetryWithJitter(func() error {
		ctx2, cancel := c.withTimeout(ctx)
		defer cancel()

		tx, err := db.BeginTxx(ctx2, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		var revision int64
		if err = tx.GetContext(ctx2, &revision, fmt.Sprintf(
			`SELECT COALESCE(MAX(revision), 0) + 1 FROM %s WHERE config_type = $1`, TConfigRevision),
			rev.ConfigType); err != nil {
			return err
		}
		rev.Revision = revision
		if _, err = tx.NamedExecContext(ctx2, fmt.Sprintf(`INSERT INTO %s
			(config_type, revision, name, data, username, description, tags, created_at, deleted_at, deleted_by)
			VALUES
			(:config_type, :revision, :name, :data, :username, :description, :tags, :created_at, :deleted_at, :deleted_by)`,
			TConfigRevision), rev); err != nil {
			return err
		}
		return tx.Commit()
	}, insertConfigRetries, dbutils.IsUniqueViolation)
	if err != nil {
		return 0, err
	}
	return rev.Revision, nil
}

// GetLatestConfig returns the newest revision for the name, deleted or not;
// callers inspect deleted_at to decide whether the config still exists.
func (c *Client) GetLatestConfig(ctx context.Context, configType, name string) (*ConfigRevision, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var revs []*ConfigRevision
	if err = db.SelectContext(ctx2, &revs, fmt.Sprintf(
		`SELECT * FROM %s WHERE config_type = $1 AND name = $2
		 ORDER BY revision DESC LIMIT 1`, TConfigRevision), configType, name); err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, commonerrors.NewNotFound(configType, name)
	}
	return revs[0], nil
}

func (c *Client) GetConfigRevision(ctx context.Context, configType string, revision int64) (*ConfigRevision, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var revs []*ConfigRevision
	if err = db.SelectContext(ctx2, &revs, fmt.Sprintf(
		`SELECT * FROM %s WHERE config_type = $1 AND revision = $2 LIMIT 1`, TConfigRevision),
		configType, revision); err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, commonerrors.NewNotFound(configType, fmt.Sprintf("revision %d", revision))
	}
	return revs[0], nil
}

func (c *Client) SelectConfigRevisions(ctx context.Context, query sqrl.Sqlizer,
	orderBy []string, limit, offset int) ([]*ConfigRevision, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	builder := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TConfigRevision).Where(query).OrderBy(orderBy...)
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

	var revs []*ConfigRevision
	err = db.SelectContext(ctx2, &revs, sql, args...)
	return revs, err
}

// GetConfigAtTimestamp returns, per name, the newest revision created at or
// before ts, excluding names whose revision at that point was a soft delete.
func (c *Client) GetConfigAtTimestamp(ctx context.Context, configType string, ts time.Time) ([]*ConfigRevision, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var revs []*ConfigRevision
	err = db.SelectContext(ctx2, &revs, fmt.Sprintf(
		`SELECT DISTINCT ON (name) * FROM %s
		 WHERE config_type = $1 AND created_at <= $2
		 ORDER BY name, revision DESC`, TConfigRevision), configType, ts)
	if err != nil {
		return nil, err
	}
	alive := revs[:0]
	for _, rev := range revs {
		if rev.DeletedAt.Valid {
			continue
		}
		alive = append(alive, rev)
	}
	return alive, nil
}

// SoftDeleteConfig records a tombstone revision. The history of the name
// stays queryable and the name can be recreated later with a higher revision.
func (c *Client) SoftDeleteConfig(ctx context.Context, configType, name, deletedBy string) error {
	latest, err := c.GetLatestConfig(ctx, configType, name)
	if err != nil {
		return err
	}
	if latest.DeletedAt.Valid {
		return commonerrors.NewNotFound(configType, name)
	}
	now := time.Now().UTC()
	tombstone := &ConfigRevision{
		ConfigType: configType,
		Name:       name,
		Data:       latest.Data,
		Username:   deletedBy,
		CreatedAt:  dbutils.ToNullTime(&now),
		DeletedAt:  dbutils.ToNullTime(&now),
		DeletedBy:  dbutils.ToNullString(deletedBy),
	}
	_, err = c.InsertConfigRevision(ctx, tombstone)
	return err
}

// ListConfigNames returns the names of the config type whose latest revision
// is not a soft delete.
func (c *Client) ListConfigNames(ctx context.Context, configType string) ([]string, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var names []string
	err = db.SelectContext(ctx2, &names, fmt.Sprintf(
		`SELECT name FROM (
		   SELECT DISTINCT ON (name) name, deleted_at FROM %s
		   WHERE config_type = $1 ORDER BY name, revision DESC
		 ) latest WHERE deleted_at IS NULL ORDER BY name`, TConfigRevision), configType)
	return names, err
}
