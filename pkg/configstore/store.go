/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/jsonutils"
)

// Store versions every policy object in the config_revision table. Data is
// stored as JSON; callers unmarshal into the typed object for the config
// type.
type Store struct {
	db dbclient.ConfigRevisionInterface
}

func NewStore(db dbclient.ConfigRevisionInterface) *Store {
	return &Store{db: db}
}

// Entry is a decoded config revision.
type Entry struct {
	Type        v1.ConfigType
	Name        string
	Revision    int64
	Data        map[string]interface{}
	Username    string
	Description string
	Tags        []string
	CreatedAt   *time.Time
	DeletedAt   *time.Time
	DeletedBy   string
}

// PutRequest describes a mutation of one config object.
type PutRequest struct {
	Type        v1.ConfigType
	Name        string
	Data        map[string]interface{}
	Username    string
	Description string
	Tags        []string
}

// Get returns the latest live revision of the named config.
func (s *Store) Get(ctx context.Context, configType v1.ConfigType, name string) (*Entry, error) {
	row, err := s.db.GetLatestConfig(ctx, string(configType), name)
	if err != nil {
		return nil, err
	}
	if row.DeletedAt.Valid {
		return nil, commonerrors.NewNotFound(string(configType), name)
	}
	return decodeEntry(row)
}

// GetRevision returns a specific revision, deleted or not; history and diff
// need tombstones too.
func (s *Store) GetRevision(ctx context.Context, configType v1.ConfigType, revision int64) (*Entry, error) {
	row, err := s.db.GetConfigRevision(ctx, string(configType), revision)
	if err != nil {
		return nil, err
	}
	return decodeEntry(row)
}

// Put replaces the config wholesale and returns the new revision.
func (s *Store) Put(ctx context.Context, req *PutRequest) (int64, error) {
	row, err := encodeRevision(req)
	if err != nil {
		return 0, err
	}
	revision, err := s.db.InsertConfigRevision(ctx, row)
	if err != nil {
		return 0, err
	}
	klog.Infof("config %s/%s updated to revision %d by %s",
		req.Type, req.Name, revision, req.Username)
	return revision, nil
}

// Patch applies a strategic merge onto the latest live revision.
func (s *Store) Patch(ctx context.Context, configType v1.ConfigType, name string,
	patch map[string]interface{}, username, description string) (int64, error) {
	current, err := s.Get(ctx, configType, name)
	if err != nil {
		return 0, err
	}
	merged := StrategicMerge(current.Data, patch)
	return s.Put(ctx, &PutRequest{
		Type:        configType,
		Name:        name,
		Data:        merged,
		Username:    username,
		Description: description,
		Tags:        current.Tags,
	})
}

// Delete soft deletes the config; history stays queryable and the name can
// be recreated later.
func (s *Store) Delete(ctx context.Context, configType v1.ConfigType, name, username string) error {
	return s.db.SoftDeleteConfig(ctx, string(configType), name, username)
}

// Rename copies the latest live data to the new name and soft deletes the
// old one. A live config under the new name is a user error.
func (s *Store) Rename(ctx context.Context, configType v1.ConfigType, oldName, newName, username string) error {
	current, err := s.Get(ctx, configType, oldName)
	if err != nil {
		return err
	}
	if _, err = s.Get(ctx, configType, newName); err == nil {
		return commonerrors.NewAlreadyExist(
			fmt.Sprintf("config %s/%s already exists", configType, newName))
	} else if !commonerrors.IsNotFound(err) {
		return err
	}
	if _, err = s.Put(ctx, &PutRequest{
		Type:        configType,
		Name:        newName,
		Data:        current.Data,
		Username:    username,
		Description: fmt.Sprintf("renamed from %s", oldName),
		Tags:        current.Tags,
	}); err != nil {
		return err
	}
	return s.Delete(ctx, configType, oldName, username)
}

// List returns the live config names of the type.
func (s *Store) List(ctx context.Context, configType v1.ConfigType) ([]string, error) {
	return s.db.ListConfigNames(ctx, string(configType))
}

// HistoryFilter narrows the revision history query.
type HistoryFilter struct {
	Name     string
	Username string
	Tag      string
	Limit    int
}

// History returns revisions of the config type newest first.
func (s *Store) History(ctx context.Context, configType v1.ConfigType, filter HistoryFilter) ([]*Entry, error) {
	query := sqrl.And{sqrl.Eq{"config_type": string(configType)}}
	if filter.Name != "" {
		query = append(query, sqrl.Eq{"name": filter.Name})
	}
	if filter.Username != "" {
		query = append(query, sqrl.Eq{"username": filter.Username})
	}
	if filter.Tag != "" {
		query = append(query, sqrl.Like{"tags": "%" + filter.Tag + "%"})
	}
	rows, err := s.db.SelectConfigRevisions(ctx, query,
		[]string{"revision " + dbclient.DESC}, filter.Limit, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := decodeEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Rollback writes the historical data as a new revision. Rolling back to a
// deleted revision or to the current one is a user error.
func (s *Store) Rollback(ctx context.Context, configType v1.ConfigType, revision int64, username string) (int64, error) {
	target, err := s.GetRevision(ctx, configType, revision)
	if err != nil {
		return 0, err
	}
	if target.DeletedAt != nil {
		return 0, commonerrors.NewBadRequest(
			fmt.Sprintf("revision %d of %s is deleted", revision, configType))
	}
	latest, err := s.db.GetLatestConfig(ctx, string(configType), target.Name)
	if err != nil {
		return 0, err
	}
	if latest.Revision == revision {
		return 0, commonerrors.NewBadRequest(
			fmt.Sprintf("revision %d is already the current revision of %s/%s",
				revision, configType, target.Name))
	}
	return s.Put(ctx, &PutRequest{
		Type:        configType,
		Name:        target.Name,
		Data:        target.Data,
		Username:    username,
		Description: fmt.Sprintf("rollback to revision %d", revision),
		Tags:        target.Tags,
	})
}

// AtTimestamp returns the latest non-deleted revision at or before ts for
// every name of the config type.
func (s *Store) AtTimestamp(ctx context.Context, configType v1.ConfigType, ts time.Time) ([]*Entry, error) {
	rows, err := s.db.GetConfigAtTimestamp(ctx, string(configType), ts)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := decodeEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetTyped unmarshals the latest live revision into a typed config object.
func (s *Store) GetTyped(ctx context.Context, configType v1.ConfigType, name string, out interface{}) error {
	entry, err := s.Get(ctx, configType, name)
	if err != nil {
		return err
	}
	return jsonutils.DecodeFromMapWithJson(entry.Data, out)
}

func encodeRevision(req *PutRequest) (*dbclient.ConfigRevision, error) {
	if _, err := v1.ParseConfigType(string(req.Type)); err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	data, err := json.Marshal(req.Data)
	if err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	tags, err := json.Marshal(req.Tags)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &dbclient.ConfigRevision{
		ConfigType:  string(req.Type),
		Name:        req.Name,
		Data:        string(data),
		Username:    req.Username,
		Description: dbutils.ToNullString(req.Description),
		Tags:        dbutils.ToNullString(string(tags)),
		CreatedAt:   dbutils.ToNullTime(&now),
	}, nil
}

func decodeEntry(row *dbclient.ConfigRevision) (*Entry, error) {
	entry := &Entry{
		Type:        v1.ConfigType(row.ConfigType),
		Name:        row.Name,
		Revision:    row.Revision,
		Username:    row.Username,
		Description: dbutils.ParseNullString(row.Description),
		CreatedAt:   dbutils.ParseNullTime(row.CreatedAt),
		DeletedAt:   dbutils.ParseNullTime(row.DeletedAt),
		DeletedBy:   dbutils.ParseNullString(row.DeletedBy),
	}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &entry.Data); err != nil {
			return nil, fmt.Errorf("corrupt config data at %s revision %d: %w",
				row.ConfigType, row.Revision, err)
		}
	}
	if tags := dbutils.ParseNullString(row.Tags); tags != "" {
		if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
			return nil, err
		}
	}
	return entry, nil
}
