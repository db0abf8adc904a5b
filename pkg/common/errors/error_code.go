/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const OsmoPrefix = "Osmo."

/*
   5-digit Error Code Convention: [xx][yyy]
   [xx] Business ID (00-99), used to distinguish errors from different subsystems.
   00: General errors
   01: Workflow-related errors
   02: Pool-related errors
   03: Backend-related errors
   04: Credential-related errors
   05: Renderer-related errors
   [yyy] Error code range (000-999)
*/

// public: 00xxx
const (
	InternalError     = OsmoPrefix + "00001"
	BadRequest        = OsmoPrefix + "00002"
	Forbidden         = OsmoPrefix + "00003"
	AlreadyExist      = OsmoPrefix + "00004"
	NotFound          = OsmoPrefix + "00005"
	QuotaInsufficient = OsmoPrefix + "00006"
	Unauthorized      = OsmoPrefix + "00007"
	TooEarly          = OsmoPrefix + "00008"
	Gone              = OsmoPrefix + "00009"
	Conflict          = OsmoPrefix + "00010"
)

// workflow: 01xxx
const (
	WorkflowNotFound = OsmoPrefix + "01001"
	TaskNotFound     = OsmoPrefix + "01002"
	GroupNotFound    = OsmoPrefix + "01003"
)

// pool: 02xxx
const (
	PoolNotFound     = OsmoPrefix + "02001"
	PlatformNotFound = OsmoPrefix + "02002"
	NoNodeSatisfied  = OsmoPrefix + "02003"
)

// backend: 03xxx
const (
	BackendNotFound = OsmoPrefix + "03001"
	BackendOffline  = OsmoPrefix + "03002"
)

// credential: 04xxx
const (
	CredentialInvalid  = OsmoPrefix + "04001"
	CredentialNotFound = OsmoPrefix + "04002"
)

// renderer: 05xxx
const (
	RenderTimeout = OsmoPrefix + "05001"
	RenderMemory  = OsmoPrefix + "05002"
)

// IsOsmo returns true if the specified error carries an OSMO error code.
func IsOsmo(err error) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(string(apierrors.ReasonForError(err)), OsmoPrefix)
}

func IsBadRequest(err error) bool {
	return apierrors.ReasonForError(err) == BadRequest
}

func IsInternal(err error) bool {
	return apierrors.ReasonForError(err) == InternalError
}

func IsConflict(err error) bool {
	return apierrors.ReasonForError(err) == Conflict
}

func IsQuotaInsufficient(err error) bool {
	return apierrors.ReasonForError(err) == QuotaInsufficient
}

func IsNotFound(err error) bool {
	switch apierrors.ReasonForError(err) {
	case NotFound, WorkflowNotFound, TaskNotFound, GroupNotFound,
		PoolNotFound, PlatformNotFound, BackendNotFound, CredentialNotFound:
		return true
	}
	return false
}

func IgnoreNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

// IsUserError covers every 4xx disposition; these are recoverable and caught
// at the request boundary without workflow-failure attribution.
func IsUserError(err error) bool {
	status, ok := err.(apierrors.APIStatus)
	if !ok {
		return false
	}
	code := status.Status().Code
	return code >= 400 && code < 500
}

func GetErrorCode(err error) string {
	if err == nil || !IsOsmo(err) {
		return ""
	}
	return string(apierrors.ReasonForError(err))
}

func newStatusError(code int32, reason metav1.StatusReason, message string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status:  metav1.StatusFailure,
		Code:    code,
		Reason:  reason,
		Message: message,
	}}
}

func NewBadRequest(message string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, BadRequest, fmt.Sprintf("Bad request. %s", message))
}

func NewInternalError(message string) *apierrors.StatusError {
	return newStatusError(http.StatusInternalServerError, InternalError, fmt.Sprintf("Internal error. %s", message))
}

func NewForbidden(message string) *apierrors.StatusError {
	return newStatusError(http.StatusForbidden, Forbidden, message)
}

func NewAlreadyExist(message string) *apierrors.StatusError {
	return newStatusError(http.StatusConflict, AlreadyExist, message)
}

func NewConflict(message string) *apierrors.StatusError {
	return newStatusError(http.StatusConflict, Conflict, message)
}

func NewQuotaInsufficient(message string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, QuotaInsufficient, message)
}

func NewUnauthorized(message string) *apierrors.StatusError {
	return newStatusError(http.StatusUnauthorized, Unauthorized, message)
}

// NewTooEarly rejects operations on objects that are not yet ready,
// e.g. exec on a task that has not reached RUNNING.
func NewTooEarly(message string) *apierrors.StatusError {
	return newStatusError(http.StatusTooEarly, TooEarly, message)
}

// NewGone rejects operations on finished objects, e.g. exec on a finished
// workflow.
func NewGone(message string) *apierrors.StatusError {
	return newStatusError(http.StatusGone, Gone, message)
}

func NotFoundErrorCode(kind string) metav1.StatusReason {
	switch kind {
	case "Workflow":
		return WorkflowNotFound
	case "Task":
		return TaskNotFound
	case "TaskGroup":
		return GroupNotFound
	case "Pool":
		return PoolNotFound
	case "Platform":
		return PlatformNotFound
	case "Backend":
		return BackendNotFound
	case "Credential":
		return CredentialNotFound
	default:
		return NotFound
	}
}

func NewNotFound(kind, name string) *apierrors.StatusError {
	return &apierrors.StatusError{ErrStatus: metav1.Status{
		Status: metav1.StatusFailure,
		Code:   http.StatusNotFound,
		Reason: NotFoundErrorCode(kind),
		Details: &metav1.StatusDetails{
			Kind: kind,
			Name: name,
		},
		Message: fmt.Sprintf("%s %s not found.", kind, name),
	}}
}

func NewNotFoundWithMessage(message string) *apierrors.StatusError {
	return newStatusError(http.StatusNotFound, NotFound, message)
}

// NewNoNodeSatisfied rejects admission with the per-node rejection table so
// the user sees why each candidate was refused.
func NewNoNodeSatisfied(table string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, NoNodeSatisfied,
		fmt.Sprintf("No candidate node satisfies the resource assertions.\n%s", table))
}

// NewBackendOffline rejects operations that need a live backend whose
// heartbeat has lapsed.
func NewBackendOffline(message string) *apierrors.StatusError {
	return newStatusError(http.StatusServiceUnavailable, BackendOffline, message)
}

func NewCredentialInvalid(message string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, CredentialInvalid, message)
}

// NewRenderTimeout is raised when a template exceeds the renderer's
// max_time cap; the worker has already been killed and restarted.
func NewRenderTimeout(message string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, RenderTimeout, message)
}

// NewRenderMemory is raised when a template exceeds the renderer's memory
// cap.
func NewRenderMemory(message string) *apierrors.StatusError {
	return newStatusError(http.StatusBadRequest, RenderMemory, message)
}

func IsRenderTimeout(err error) bool {
	return apierrors.ReasonForError(err) == RenderTimeout
}

func IsRenderMemory(err error) bool {
	return apierrors.ReasonForError(err) == RenderMemory
}
