/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"fmt"
	"time"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// TimeoutPolicy carries the pool-level and service-level defaults and
// maxima; the pool wins where it sets a value.
type TimeoutPolicy struct {
	PoolDefaultExec     string
	PoolMaxExec         string
	PoolDefaultQueue    string
	PoolMaxQueue        string
	ServiceDefaultExec  string
	ServiceMaxExec      string
	ServiceDefaultQueue string
	ServiceMaxQueue     string
}

func PolicyFromPool(pool *v1.Pool, cfg *v1.WorkflowConfig) TimeoutPolicy {
	return TimeoutPolicy{
		PoolDefaultExec:     pool.DefaultExecTimeout,
		PoolMaxExec:         pool.MaxExecTimeout,
		PoolDefaultQueue:    pool.DefaultQueueTimeout,
		PoolMaxQueue:        pool.MaxQueueTimeout,
		ServiceDefaultExec:  cfg.DefaultExecTimeout,
		ServiceMaxExec:      cfg.MaxExecTimeout,
		ServiceDefaultQueue: cfg.DefaultQueueTimeout,
		ServiceMaxQueue:     cfg.MaxQueueTimeout,
	}
}

// ResolveTimeouts fills missing exec/queue timeouts from pool then service
// defaults and clamps to the tighter of the pool and service maxima.
func ResolveTimeouts(timeout *v1.TimeoutSpec, policy TimeoutPolicy) (exec, queue time.Duration, err error) {
	var execStr, queueStr string
	if timeout != nil {
		execStr = timeout.ExecTimeout
		queueStr = timeout.QueueTimeout
	}
	exec, err = resolveTimeout("exec_timeout", execStr,
		[]string{policy.PoolDefaultExec, policy.ServiceDefaultExec},
		[]string{policy.PoolMaxExec, policy.ServiceMaxExec})
	if err != nil {
		return 0, 0, err
	}
	queue, err = resolveTimeout("queue_timeout", queueStr,
		[]string{policy.PoolDefaultQueue, policy.ServiceDefaultQueue},
		[]string{policy.PoolMaxQueue, policy.ServiceMaxQueue})
	if err != nil {
		return 0, 0, err
	}
	return exec, queue, nil
}

func resolveTimeout(field, value string, defaults, maxima []string) (time.Duration, error) {
	if value == "" {
		for _, fallback := range defaults {
			if fallback != "" {
				value = fallback
				break
			}
		}
	}
	if value == "" {
		return 0, commonerrors.NewInternalError(
			fmt.Sprintf("no default configured for %s", field))
	}
	d, err := v1.ParseDuration(value)
	if err != nil {
		return 0, commonerrors.NewBadRequest(fmt.Sprintf("invalid %s: %v", field, err))
	}
	for _, maxStr := range maxima {
		if maxStr == "" {
			continue
		}
		max, err := v1.ParseDuration(maxStr)
		if err != nil {
			return 0, commonerrors.NewInternalError(
				fmt.Sprintf("invalid configured maximum for %s: %v", field, err))
		}
		if d > max {
			d = max
		}
	}
	return d, nil
}
