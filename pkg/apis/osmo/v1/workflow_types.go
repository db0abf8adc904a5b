/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import (
	corev1 "k8s.io/api/core/v1"
)

const (
	// SpecVersion is the only workflow spec version this control plane accepts.
	SpecVersion = 2

	// DefaultResourceName is the resource spec a task references when it
	// names none.
	DefaultResourceName = "default"
)

// WorkflowDocument is the top-level YAML document a user submits.
// The default-values block is consumed by the template renderer before the
// spec reaches the compiler; it is kept here so a fully rendered document
// round-trips.
type WorkflowDocument struct {
	Version       int                    `json:"version"`
	Workflow      WorkflowSpec           `json:"workflow"`
	DefaultValues map[string]interface{} `json:"default-values,omitempty"`
}

// WorkflowSpec describes one workflow. Exactly one of Groups or Tasks must
// be set; bare Tasks are normalized into singleton groups by the compiler.
type WorkflowSpec struct {
	Name      string                  `json:"name"`
	Pool      string                  `json:"pool,omitempty"`
	Resources map[string]ResourceSpec `json:"resources,omitempty"`
	Timeout   *TimeoutSpec            `json:"timeout,omitempty"`
	Groups    []TaskGroupSpec         `json:"groups,omitempty"`
	Tasks     []TaskSpec              `json:"tasks,omitempty"`
	Tags      []string                `json:"tags,omitempty"`
}

type TimeoutSpec struct {
	ExecTimeout  string `json:"exec_timeout,omitempty"`
	QueueTimeout string `json:"queue_timeout,omitempty"`
}

// TaskGroupSpec is a gang of tasks scheduled together. A barrier group
// reruns all of its tasks when any one of them fails.
type TaskGroupSpec struct {
	Name    string      `json:"name"`
	Barrier bool        `json:"barrier,omitempty"`
	Inputs  []InputSpec `json:"inputs,omitempty"`
	Tasks   []TaskSpec  `json:"tasks"`
}

// InputSpec references upstream data. Exactly one field is set.
type InputSpec struct {
	Task          string `json:"task,omitempty"`
	Group         string `json:"group,omitempty"`
	URL           string `json:"url,omitempty"`
	Dataset       string `json:"dataset,omitempty"`
	UpdateDataset string `json:"update_dataset,omitempty"`
}

type TaskSpec struct {
	Name        string               `json:"name"`
	Image       string               `json:"image"`
	Command     []string             `json:"command,omitempty"`
	Environment map[string]string    `json:"environment,omitempty"`
	// Resources names an entry of WorkflowSpec.Resources; defaults to "default".
	Resources   string               `json:"resources,omitempty"`
	Inputs      []InputSpec          `json:"inputs,omitempty"`
	Outputs     []string             `json:"outputs,omitempty"`
	Credentials map[string]string    `json:"credentials,omitempty"`
	Privileged  bool                 `json:"privileged,omitempty"`
	HostNetwork bool                 `json:"hostNetwork,omitempty"`
	VolumeMounts []corev1.VolumeMount `json:"volumeMounts,omitempty"`
	ExitActions map[string]string    `json:"exitActions,omitempty"`
	Lead        bool                 `json:"lead,omitempty"`
	CacheSize   string               `json:"cacheSize,omitempty"`
	Topology    []TopologyRequirement `json:"topology,omitempty"`
}

// TopologyRequirement pins a task to a shared affinity identifier at one
// topology level of the pool.
type TopologyRequirement struct {
	Key      string `json:"key"`
	Group    string `json:"group"`
	Required bool   `json:"required"`
}

// ResourceSpec is the per-task resource request, resolved against the
// pool's platforms at compile time.
type ResourceSpec struct {
	Platform      string              `json:"platform,omitempty"`
	CPU           float64             `json:"cpu,omitempty"`
	GPU           int64               `json:"gpu,omitempty"`
	Memory        string              `json:"memory,omitempty"`
	Storage       string              `json:"storage,omitempty"`
	Labels        map[string]string   `json:"labels,omitempty"`
	Tolerations   []corev1.Toleration `json:"tolerations,omitempty"`
	NodesExcluded []string            `json:"nodesExcluded,omitempty"`
	CacheSize     string              `json:"cacheSize,omitempty"`
}

// SubmitContext carries the caller-side facts admission needs on top of the
// rendered spec.
type SubmitContext struct {
	User        string
	Pool        string
	Priority    Priority
	ParentName  string
	ParentJobId int64
	AppUuid     string
	AppVersion  string
	Tags        []string
	Env         map[string]string
}
