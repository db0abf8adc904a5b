/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"fmt"

	sigsyaml "sigs.k8s.io/yaml"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils"
)

// Parse decodes the rendered yaml document and normalizes it: bare top-level
// tasks are promoted into singleton groups named {task}-group.
func Parse(renderedText string) (*v1.WorkflowDocument, error) {
	doc := &v1.WorkflowDocument{}
	if err := sigsyaml.UnmarshalStrict([]byte(renderedText), doc); err != nil {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("failed to parse workflow spec: %v", err))
	}
	if doc.Version != v1.SpecVersion {
		return nil, commonerrors.NewBadRequest(
			fmt.Sprintf("unsupported spec version %d, expected %d", doc.Version, v1.SpecVersion))
	}
	spec := &doc.Workflow
	if spec.Name == "" {
		return nil, commonerrors.NewBadRequest("workflow name is required")
	}
	if !utils.IsValidName(spec.Name) {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("invalid workflow name %q", spec.Name))
	}
	if len(spec.Groups) > 0 && len(spec.Tasks) > 0 {
		return nil, commonerrors.NewBadRequest("workflow must not set both groups and tasks")
	}
	if len(spec.Groups) == 0 && len(spec.Tasks) == 0 {
		return nil, commonerrors.NewBadRequest("workflow must set either groups or tasks")
	}
	normalize(spec)
	if err := validateNames(spec); err != nil {
		return nil, err
	}
	if err := validateDAG(spec); err != nil {
		return nil, err
	}
	if err := validateTopology(spec); err != nil {
		return nil, err
	}
	return doc, nil
}

// normalize promotes bare tasks into singleton groups so the rest of the
// pipeline only sees groups.
func normalize(spec *v1.WorkflowSpec) {
	if len(spec.Tasks) == 0 {
		return
	}
	groups := make([]v1.TaskGroupSpec, 0, len(spec.Tasks))
	for _, task := range spec.Tasks {
		groups = append(groups, v1.TaskGroupSpec{
			Name:   fmt.Sprintf("%s-group", task.Name),
			Inputs: task.Inputs,
			Tasks:  []v1.TaskSpec{task},
		})
	}
	spec.Groups = groups
	spec.Tasks = nil
}

// validateNames enforces the name discipline: names are compared
// case-insensitively with '_' and '-' folded, so "My_Task" and "my-task"
// collide.
func validateNames(spec *v1.WorkflowSpec) error {
	seen := map[string]string{}
	check := func(kind, name string) error {
		if !utils.IsValidName(name) {
			return commonerrors.NewBadRequest(fmt.Sprintf("invalid %s name %q", kind, name))
		}
		canonical := utils.CanonicalName(name)
		if prev, exists := seen[canonical]; exists {
			return commonerrors.NewBadRequest(
				fmt.Sprintf("duplicate name %q conflicts with %q", name, prev))
		}
		seen[canonical] = name
		return nil
	}
	for _, group := range spec.Groups {
		if err := check("group", group.Name); err != nil {
			return err
		}
		if len(group.Tasks) == 0 {
			return commonerrors.NewBadRequest(fmt.Sprintf("group %q has no tasks", group.Name))
		}
		for _, task := range group.Tasks {
			if err := check("task", task.Name); err != nil {
				return err
			}
			if task.Image == "" {
				return commonerrors.NewBadRequest(fmt.Sprintf("task %q has no image", task.Name))
			}
		}
	}
	return nil
}

// validateDAG checks that every task/group input references a symbol defined
// in an earlier group. Self- and forward-references are errors.
// Cross-workflow inputs ({workflow_id}:{task}) are resolved at admission.
func validateDAG(spec *v1.WorkflowSpec) error {
	defined := map[string]struct{}{}
	for _, group := range spec.Groups {
		for _, input := range allInputs(&group) {
			symbol := input.Task
			if symbol == "" {
				symbol = input.Group
			}
			if symbol == "" || IsCrossWorkflowInput(symbol) {
				continue
			}
			if _, ok := defined[utils.CanonicalName(symbol)]; !ok {
				return commonerrors.NewBadRequest(fmt.Sprintf(
					"group %q references %q which is not defined earlier in the workflow",
					group.Name, symbol))
			}
		}
		defined[utils.CanonicalName(group.Name)] = struct{}{}
		for _, task := range group.Tasks {
			defined[utils.CanonicalName(task.Name)] = struct{}{}
		}
	}
	return nil
}

func allInputs(group *v1.TaskGroupSpec) []v1.InputSpec {
	inputs := append([]v1.InputSpec{}, group.Inputs...)
	for _, task := range group.Tasks {
		inputs = append(inputs, task.Inputs...)
	}
	return inputs
}

// validateTopology rejects mixed required/preferred flags on the same
// (key, group) pair within a group; the topology tree cannot honor both.
func validateTopology(spec *v1.WorkflowSpec) error {
	for _, group := range spec.Groups {
		required := map[string]bool{}
		for _, task := range group.Tasks {
			for _, req := range task.Topology {
				id := req.Key + "/" + req.Group
				if prev, seen := required[id]; seen && prev != req.Required {
					return commonerrors.NewBadRequest(fmt.Sprintf(
						"group %q mixes required and preferred topology on %s=%s",
						group.Name, req.Key, req.Group))
				}
				required[id] = req.Required
			}
		}
	}
	return nil
}
