/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package model

const (
	ChannelEmail = "email"
)

// WorkflowEvent is the channel-neutral payload of one notification: the
// terminal facts of a workflow. Each channel renders it into its own
// subject/body form at delivery time.
type WorkflowEvent struct {
	WorkflowId     string
	Status         string
	FailureMessage string
	// LogsPrefix locates the workflow's artifacts (logs, error logs,
	// events) in the object store.
	LogsPrefix string
	// Recipients as resolved by the manager; for email these are the
	// submitting user's addresses.
	Recipients []string
}
