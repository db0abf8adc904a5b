/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package admission

import (
	"context"
	"fmt"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// CheckUserQuotas enforces the per-user workflow and task limits before a
// submission consumes capacity. Limits of zero are unenforced.
func CheckUserQuotas(ctx context.Context, db dbclient.Interface, user string,
	limits v1.UserWorkflowLimits, newTasks int) error {
	if limits.MaxNumWorkflows > 0 {
		alive, err := db.CountAliveWorkflowsByUser(ctx, user)
		if err != nil {
			return err
		}
		if alive >= limits.MaxNumWorkflows {
			return commonerrors.NewQuotaInsufficient(fmt.Sprintf(
				"user %s has %d alive workflows, at the limit of %d",
				user, alive, limits.MaxNumWorkflows))
		}
	}
	if limits.MaxNumTasks > 0 {
		alive, err := db.CountAliveTasksByUser(ctx, user)
		if err != nil {
			return err
		}
		if alive+newTasks > limits.MaxNumTasks {
			return commonerrors.NewQuotaInsufficient(fmt.Sprintf(
				"user %s has %d alive tasks; submitting %d more exceeds the limit of %d",
				user, alive, newTasks, limits.MaxNumTasks))
		}
	}
	return nil
}
