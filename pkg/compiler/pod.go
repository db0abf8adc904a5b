/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"context"
	"fmt"
	"sort"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/configstore"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/jsonutils"
)

// UserContainerName is the container the task's image and command run in;
// pod templates address it by name when they overlay resources or mounts.
const UserContainerName = "user"

// PodTemplateSource resolves named pod templates. The config store satisfies
// this; tests inject a map.
type PodTemplateSource interface {
	GetPodTemplate(ctx context.Context, name string) (map[string]interface{}, error)
}

// StorePodTemplates reads pod templates from the config store.
type StorePodTemplates struct {
	Store *configstore.Store
}

func (s *StorePodTemplates) GetPodTemplate(ctx context.Context, name string) (map[string]interface{}, error) {
	var tmpl v1.PodTemplate
	if err := s.Store.GetTyped(ctx, v1.ConfigPodTemplate, name, &tmpl); err != nil {
		return nil, err
	}
	return tmpl.Template, nil
}

// BuildTaskPod composes the final pod fragment for one task:
// init pod <- common pod templates (in order) <- token substitution
// <- platform overlay.
func BuildTaskPod(ctx context.Context, templates PodTemplateSource,
	task *v1.TaskSpec, spec *v1.ResourceSpec, pool *v1.Pool, poolName, platformName string) (map[string]interface{}, error) {
	platform, ok := pool.Platforms[platformName]
	if !ok {
		return nil, commonerrors.NewNotFound("Platform", platformName)
	}
	pod := initPod(task, spec, &platform)

	for _, templateName := range pool.CommonPodTemplate {
		overlay, err := templates.GetPodTemplate(ctx, templateName)
		if err != nil {
			return nil, err
		}
		pod = configstore.MergeMapByName(pod, overlay)
	}

	variables := map[string]string{}
	for key, value := range pool.CommonDefaultVariables {
		variables[key] = value
	}
	for key, value := range platform.DefaultVariables {
		variables[key] = value
	}
	tokens, err := BuildTokenMap(spec, poolName, platformName, task.Name, variables)
	if err != nil {
		return nil, commonerrors.NewBadRequest(err.Error())
	}
	rendered, _ := SubstituteTokens(pod, tokens)
	pod = rendered.(map[string]interface{})

	if len(platform.PodTemplate) > 0 {
		pod = configstore.MergeMapByName(pod, platform.PodTemplate)
	}
	return pod, nil
}

// initPod is the seed fragment before any template composes onto it.
func initPod(task *v1.TaskSpec, spec *v1.ResourceSpec, platform *v1.Platform) map[string]interface{} {
	container := map[string]interface{}{
		"name":  UserContainerName,
		"image": task.Image,
	}
	if len(task.Command) > 0 {
		command := make([]interface{}, 0, len(task.Command))
		for _, c := range task.Command {
			command = append(command, c)
		}
		container["command"] = command
	}
	if len(task.Environment) > 0 {
		names := make([]string, 0, len(task.Environment))
		for name := range task.Environment {
			names = append(names, name)
		}
		sort.Strings(names)
		env := make([]interface{}, 0, len(names))
		for _, name := range names {
			env = append(env, map[string]interface{}{
				"name": name, "value": task.Environment[name],
			})
		}
		container["env"] = env
	}
	if task.Privileged {
		container["securityContext"] = map[string]interface{}{"privileged": true}
	}
	if len(task.VolumeMounts) > 0 {
		var mounts []interface{}
		if err := jsonutils.DecodeFromMapWithJson(task.VolumeMounts, &mounts); err == nil {
			container["volumeMounts"] = mounts
		}
	}

	pod := map[string]interface{}{
		"containers": []interface{}{container},
	}
	if task.HostNetwork {
		pod["hostNetwork"] = true
	}

	nodeSelector := map[string]interface{}{}
	for key, value := range platform.Labels {
		nodeSelector[key] = value
	}
	for key, value := range spec.Labels {
		nodeSelector[key] = value
	}
	if len(nodeSelector) > 0 {
		pod["nodeSelector"] = nodeSelector
	}

	tolerations := append([]interface{}{}, decodeTolerations(platform.Tolerations)...)
	tolerations = append(tolerations, decodeTolerations(spec.Tolerations)...)
	if len(tolerations) > 0 {
		pod["tolerations"] = tolerations
	}
	return pod
}

func decodeTolerations(tolerations interface{}) []interface{} {
	var result []interface{}
	if err := jsonutils.DecodeFromMapWithJson(tolerations, &result); err != nil {
		return nil
	}
	return result
}

// ResolveResourceSpec returns the resource spec a task references, falling
// back to "default", and the platform resolved against the pool.
func ResolveResourceSpec(task *v1.TaskSpec, spec *v1.WorkflowSpec, pool *v1.Pool) (*v1.ResourceSpec, string, error) {
	name := task.Resources
	if name == "" {
		name = v1.DefaultResourceName
	}
	resourceSpec, ok := spec.Resources[name]
	if !ok {
		if name != v1.DefaultResourceName {
			return nil, "", commonerrors.NewBadRequest(
				fmt.Sprintf("task %q references unknown resources %q", task.Name, name))
		}
		resourceSpec = v1.ResourceSpec{}
	}
	if task.CacheSize != "" {
		resourceSpec.CacheSize = task.CacheSize
	}
	platform := resourceSpec.Platform
	if platform == "" {
		platform = pool.DefaultPlatform
	}
	if _, ok = pool.Platforms[platform]; !ok {
		return nil, "", commonerrors.NewNotFound("Platform", platform)
	}
	return &resourceSpec, platform, nil
}
