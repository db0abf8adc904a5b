/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

// The parent and the worker speak newline-delimited JSON over the worker's
// stdin/stdout. The worker writes a ready line on startup, then answers one
// Response per Request.

const ReadyLine = `{"ready":true}`

type Request struct {
	Template  string                 `json:"template"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// ErrorKind distinguishes user template errors from cap violations.
type ErrorKind string

const (
	ErrorNone     ErrorKind = ""
	ErrorTemplate ErrorKind = "template"
	ErrorMemory   ErrorKind = "memory"
)

type Response struct {
	Rendered  string    `json:"rendered,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}
