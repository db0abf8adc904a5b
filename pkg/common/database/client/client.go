/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	commonconfig "github.com/NVIDIA/OSMO-sub000/pkg/common/config"
	dbutils "github.com/NVIDIA/OSMO-sub000/pkg/common/database/utils"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

var (
	once     sync.Once
	instance *Client
)

// Client manages the sqlx connection used for row access and the gorm
// session used for schema migration.
type Client struct {
	db   *sqlx.DB
	gorm *gorm.DB
	*dbutils.DBConfig
}

// NewClient creates the singleton database client from the service config
// and migrates the schema. Initialization happens only once.
func NewClient() *Client {
	once.Do(func() {
		cfg := &dbutils.DBConfig{
			DBName:         commonconfig.GetDBName(),
			Username:       commonconfig.GetDBUser(),
			Password:       commonconfig.GetDBPassword(),
			Host:           commonconfig.GetDBHost(),
			Port:           commonconfig.GetDBPort(),
			SSLMode:        commonconfig.GetDBSslMode(),
			MaxOpenConns:   commonconfig.GetDBMaxOpenConns(),
			MaxIdleConns:   commonconfig.GetDBMaxIdleConns(),
			MaxLifetime:    time.Duration(commonconfig.GetDBMaxLifetimeSecond()) * time.Second,
			MaxIdleTime:    time.Duration(commonconfig.GetDBMaxIdleTimeSecond()) * time.Second,
			ConnectTimeout: commonconfig.GetDBConnectTimeoutSecond(),
			RequestTimeout: time.Duration(commonconfig.GetDBRequestTimeoutSecond()) * time.Second,
		}
		if err := checkParams(cfg); err != nil {
			klog.ErrorS(err, "failed to check db params")
			return
		}
		db, err := dbutils.Connect(cfg, dbutils.PgDriver)
		if err != nil {
			klog.Errorf("%s", err.Error())
			return
		}
		if err = db.Ping(); err != nil {
			klog.ErrorS(err, "failed to ping db")
			return
		}
		gormDb, err := dbutils.ConnectGorm(cfg)
		if err != nil {
			klog.ErrorS(err, "failed to open gorm session")
			return
		}
		if err = gormDb.AutoMigrate(
			&Workflow{}, &TaskGroup{}, &Task{}, &ConfigRevision{}, &Credential{},
		); err != nil {
			klog.ErrorS(err, "failed to migrate schema")
			return
		}
		instance = &Client{db: db, gorm: gormDb, DBConfig: cfg}
		klog.Infof("init db-client successfully! conn-timeout: %d(s), request-timeout: %v",
			cfg.ConnectTimeout, cfg.RequestTimeout)
	})
	return instance
}

func (c *Client) Close() {
	if err := c.db.Close(); err != nil {
		klog.ErrorS(err, "failed to close db connection")
	}
}

func (c *Client) getDB() (*sqlx.DB, error) {
	if c == nil || c.db == nil {
		return nil, commonerrors.NewInternalError("The client of db has not been initialized")
	}
	return c.db.Unsafe(), nil
}

// withTimeout applies the configured request timeout to a query context.
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.RequestTimeout > 0 {
		return context.WithTimeout(ctx, c.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func checkParams(cfg *dbutils.DBConfig) error {
	var errs []error
	if cfg.DBName == "" {
		errs = append(errs, fmt.Errorf("dbname not found"))
	}
	if cfg.Username == "" {
		errs = append(errs, fmt.Errorf("username not found"))
	}
	if cfg.Password == "" {
		errs = append(errs, fmt.Errorf("password not found"))
	}
	if cfg.Host == "" {
		errs = append(errs, fmt.Errorf("host not found"))
	}
	if cfg.SSLMode == "" {
		errs = append(errs, fmt.Errorf("ssl_mode not found"))
	}
	if cfg.Port == 0 {
		errs = append(errs, fmt.Errorf("port not found"))
	}
	return utilerrors.NewAggregate(errs)
}
