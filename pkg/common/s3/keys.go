/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package s3

import "fmt"

// Workflow artifacts live under workflows/{workflow_uuid}/. The submitted
// document and its rendered form are written at admission; logs and events
// accumulate while the workflow runs.
const (
	workflowPrefixFormat = "workflows/%s/"

	SpecObjectName          = "workflow_spec.yaml"
	TemplatedSpecObjectName = "templated_workflow_spec.yaml"
)

func WorkflowPrefix(workflowUuid string) string {
	return fmt.Sprintf(workflowPrefixFormat, workflowUuid)
}

func WorkflowSpecKey(workflowUuid string) string {
	return WorkflowPrefix(workflowUuid) + SpecObjectName
}

func TemplatedSpecKey(workflowUuid string) string {
	return WorkflowPrefix(workflowUuid) + TemplatedSpecObjectName
}

func TaskLogKey(workflowUuid, taskUuid string) string {
	return fmt.Sprintf("%slogs/%s.log", WorkflowPrefix(workflowUuid), taskUuid)
}

func TaskErrorLogKey(workflowUuid, taskUuid string) string {
	return fmt.Sprintf("%serror-logs/%s.log", WorkflowPrefix(workflowUuid), taskUuid)
}

func WorkflowEventsKey(workflowUuid string) string {
	return WorkflowPrefix(workflowUuid) + "events.json"
}
