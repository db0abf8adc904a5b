/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package v1

import (
	"fmt"
	"sort"
	"strings"
)

// PodGroup is the scheduler-native gang entity emitted per task group.
type PodGroup struct {
	Name               string              `json:"name"`
	Namespace          string              `json:"namespace"`
	Queue              string              `json:"queue"`
	PriorityClassName  string              `json:"priorityClassName,omitempty"`
	MinMember          int32               `json:"minMember"`
	TopologyConstraint *TopologyConstraint `json:"topologyConstraint,omitempty"`
	SubGroups          []SubGroup          `json:"subGroups,omitempty"`
}

// SubGroup is a nested gang with its own topology constraint.
type SubGroup struct {
	Name               string              `json:"name"`
	MinMember          int32               `json:"minMember"`
	Parent             string              `json:"parent,omitempty"`
	TopologyConstraint *TopologyConstraint `json:"topologyConstraint,omitempty"`
}

// TopologyConstraint names a Topology CRD and one of its levels. Exactly one
// of Required/Preferred is set.
type TopologyConstraint struct {
	Topology               string `json:"topology"`
	RequiredTopologyLevel  string `json:"requiredTopologyLevel,omitempty"`
	PreferredTopologyLevel string `json:"preferredTopologyLevel,omitempty"`
}

// Queue is the per-pool scheduler quota object.
type Queue struct {
	Name            string  `json:"name"`
	Namespace       string  `json:"namespace"`
	Parent          string  `json:"parent,omitempty"`
	GpuQuota        float64 `json:"gpuQuota"`
	GpuLimit        float64 `json:"gpuLimit"`
	OverQuotaWeight float64 `json:"overQuotaWeight"`
}

// Topology is the per-pool topology CRD, levels ordered coarsest first.
type Topology struct {
	Name   string          `json:"name"`
	Levels []TopologyLevel `json:"levels"`
}

type TopologyLevel struct {
	NodeLabel string `json:"nodeLabel"`
}

// CustomAPIPath addresses a custom-resource endpoint for cleanup.
type CustomAPIPath struct {
	Group   string `json:"group"`
	Version string `json:"version"`
	Plural  string `json:"plural"`
}

// CleanupSpec describes resources a backend must reclaim by label selector
// before applying new state.
type CleanupSpec struct {
	ResourceType string            `json:"resource_type"`
	Labels       map[string]string `json:"labels,omitempty"`
	CustomAPI    *CustomAPIPath    `json:"custom_api,omitempty"`
}

// Key identifies a cleanup spec for deduplication across scheduler types.
func (c CleanupSpec) Key() string {
	pairs := make([]string, 0, len(c.Labels))
	for k, v := range c.Labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	api := ""
	if c.CustomAPI != nil {
		api = fmt.Sprintf("%s/%s/%s", c.CustomAPI.Group, c.CustomAPI.Version, c.CustomAPI.Plural)
	}
	return fmt.Sprintf("%s|%s|%s", c.ResourceType, strings.Join(pairs, ","), api)
}

// MergeCleanupSpecs concatenates cleanup specs from several schedulers,
// dropping duplicates so switching scheduler types reclaims stale CRDs once.
func MergeCleanupSpecs(lists ...[]CleanupSpec) []CleanupSpec {
	seen := map[string]struct{}{}
	var result []CleanupSpec
	for _, list := range lists {
		for _, spec := range list {
			key := spec.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, spec)
		}
	}
	return result
}
