/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewUuid returns an opaque 32-hex identifier.
func NewUuid() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ShortId returns the first 8 hex chars of a fresh uuid, used for synthetic
// job identifiers such as force-cancel records.
func ShortId() string {
	return NewUuid()[:8]
}

// WorkflowId derives the human-facing id from the workflow name and its
// monotonically increasing job id.
func WorkflowId(name string, jobId int64) string {
	return fmt.Sprintf("%s-%d", name, jobId)
}

var namePattern = regexp.MustCompile(`^[a-zA-Z]([a-zA-Z0-9_-]*[a-zA-Z0-9])?$`)

// IsValidName enforces the task/group name discipline.
func IsValidName(name string) bool {
	return namePattern.MatchString(name)
}

// CanonicalName lowercases and folds '_'/'-' so duplicate detection treats
// "my_task" and "My-Task" as the same symbol.
func CanonicalName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}
