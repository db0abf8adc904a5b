/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// UpsertCredential replaces any existing secret of the same (username, name)
// pair; the previous ciphertext and wrapped KEK are not kept.
func (c *Client) UpsertCredential(ctx context.Context, cred *Credential) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	if !cred.CreatedAt.Valid {
		now := time.Now().UTC()
		cred.CreatedAt = dbutils.ToNullTime(&now)
	}
	_, err = db.NamedExecContext(ctx2, fmt.Sprintf(`INSERT INTO %s
		(username, name, cred_type, ciphertext, wrapped_kek, mek_id, created_at)
		VALUES (:username, :name, :cred_type, :ciphertext, :wrapped_kek, :mek_id, :created_at)
		ON CONFLICT (username, name) DO UPDATE SET
		cred_type = EXCLUDED.cred_type,
		ciphertext = EXCLUDED.ciphertext,
		wrapped_kek = EXCLUDED.wrapped_kek,
		mek_id = EXCLUDED.mek_id,
		created_at = EXCLUDED.created_at`, TCredential), cred)
	return err
}

func (c *Client) GetCredential(ctx context.Context, username, name string) (*Credential, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var creds []*Credential
	if err = db.SelectContext(ctx2, &creds, fmt.Sprintf(
		`SELECT * FROM %s WHERE username = $1 AND name = $2 LIMIT 1`, TCredential),
		username, name); err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, commonerrors.NewNotFound("Credential", name)
	}
	return creds[0], nil
}

func (c *Client) ListCredentials(ctx context.Context, username string) ([]*Credential, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	var creds []*Credential
	err = db.SelectContext(ctx2, &creds, fmt.Sprintf(
		`SELECT * FROM %s WHERE username = $1 ORDER BY name`, TCredential), username)
	return creds, err
}

func (c *Client) DeleteCredential(ctx context.Context, username, name string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	ctx2, cancel := c.withTimeout(ctx)
	defer cancel()

	result, err := db.ExecContext(ctx2, fmt.Sprintf(
		`DELETE FROM %s WHERE username = $1 AND name = $2`, TCredential), username, name)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return commonerrors.NewNotFound("Credential", name)
	}
	return nil
}
