/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import "fmt"

// ConfigType enumerates the policy objects the config store versions.
type ConfigType string

const (
	ConfigService            ConfigType = "service"
	ConfigWorkflow           ConfigType = "workflow"
	ConfigDataset            ConfigType = "dataset"
	ConfigBackend            ConfigType = "backend"
	ConfigPool               ConfigType = "pool"
	ConfigPodTemplate        ConfigType = "pod_template"
	ConfigResourceValidation ConfigType = "resource_validation"
	ConfigBackendTest        ConfigType = "backend_test"
	ConfigRole               ConfigType = "role"
)

var allConfigTypes = map[ConfigType]struct{}{
	ConfigService: {}, ConfigWorkflow: {}, ConfigDataset: {}, ConfigBackend: {},
	ConfigPool: {}, ConfigPodTemplate: {}, ConfigResourceValidation: {},
	ConfigBackendTest: {}, ConfigRole: {},
}

// ParseConfigType rejects unknown config types as a user error candidate.
func ParseConfigType(value string) (ConfigType, error) {
	t := ConfigType(value)
	if _, ok := allConfigTypes[t]; !ok {
		return "", fmt.Errorf("unknown config type %q", value)
	}
	return t, nil
}

// WorkflowConfig is the "workflow" service-level config object.
type WorkflowConfig struct {
	MaxNumTasks        int                `json:"max_num_tasks,omitempty"`
	UserWorkflowLimits UserWorkflowLimits `json:"user_workflow_limits,omitempty"`
	// DisableRegistryValidation lists registry hosts whose images are
	// admitted without a manifest check.
	DisableRegistryValidation []string `json:"disable_registry_validation,omitempty"`
	DefaultExecTimeout        string   `json:"default_exec_timeout,omitempty"`
	MaxExecTimeout            string   `json:"max_exec_timeout,omitempty"`
	DefaultQueueTimeout       string   `json:"default_queue_timeout,omitempty"`
	MaxQueueTimeout           string   `json:"max_queue_timeout,omitempty"`
	RetryAllowed              bool     `json:"retry_allowed,omitempty"`
}

type UserWorkflowLimits struct {
	MaxNumWorkflows int `json:"max_num_workflows,omitempty"`
	MaxNumTasks     int `json:"max_num_tasks,omitempty"`
}
