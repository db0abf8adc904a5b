/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package timeutil

import (
	"time"
)

const (
	TimeRFC3339Short = "2006-01-02T15:04:05"
)

func FormatRFC3339(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeRFC3339Short)
}

// NowUTC truncates to microseconds so timestamps survive a Postgres round trip.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func Ptr(t time.Time) *time.Time {
	return &t
}
