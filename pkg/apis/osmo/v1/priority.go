/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import (
	"fmt"
	"strings"
)

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// ParsePriority accepts the CLI spelling (case-insensitive).
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(PriorityNormal):
		return PriorityNormal, nil
	case string(PriorityHigh):
		return PriorityHigh, nil
	case string(PriorityLow):
		return PriorityLow, nil
	}
	return "", fmt.Errorf("invalid priority %q, expected one of high, normal, low", value)
}

// Preemptible reports whether workloads at this priority may be evicted and
// are excluded from pool quota accounting.
func (p Priority) Preemptible() bool {
	return p == PriorityLow
}

// PriorityClassName maps the priority to the class registered on backends.
func (p Priority) PriorityClassName() string {
	switch p {
	case PriorityHigh:
		return PriorityClassHigh
	case PriorityLow:
		return PriorityClassLow
	default:
		return PriorityClassNormal
	}
}
