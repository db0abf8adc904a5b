/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package kai

import (
	"fmt"
	"sort"
	"strings"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
)

// TopologyResult is the outcome of the tree build for one task group.
type TopologyResult struct {
	// Constraint is the promoted top-level PodGroup constraint, nil when no
	// level is shared by every task.
	Constraint *v1.TopologyConstraint
	// SubGroups are sorted by name.
	SubGroups []v1.SubGroup
	// TaskSubGroup maps task names to the subgroup path their pods are
	// stamped with. Empty when the whole tree promoted away.
	TaskSubGroup map[string]string
}

type topologyNode struct {
	path     string
	label    string
	required bool
	parent   *topologyNode
	children []*topologyNode
	byPath   map[string]*topologyNode
	// taskCount is transitive over the subtree.
	taskCount int
	tasks     []string
}

func (n *topologyNode) child(path string) *topologyNode {
	return n.byPath[path]
}

func (n *topologyNode) addChild(path, label string, required bool) *topologyNode {
	child := &topologyNode{
		path:     path,
		label:    label,
		required: required,
		parent:   n,
		byPath:   map[string]*topologyNode{},
	}
	n.children = append(n.children, child)
	n.byPath[path] = child
	return child
}

// BuildTopologyTree turns per-task topology requirements into the PodGroup
// top-level constraint plus subgroup specs.
//
// Every task must name the same key set; keys must exist in the pool;
// requirements are sorted coarsest to finest along the pool's key order. The
// tree inserts tasks in input order under path-scoped node names, then the
// root's single-child chain is promoted into the top-level constraint and
// the remainder becomes subgroups.
func BuildTopologyTree(group *compiler.CompiledGroup, pool *v1.Pool, topologyName string) (*TopologyResult, error) {
	requirements, any, err := uniformRequirements(group)
	if err != nil {
		return nil, err
	}
	if !any {
		return &TopologyResult{TaskSubGroup: map[string]string{}}, nil
	}

	keyOrder := map[string]int{}
	keyLabel := map[string]string{}
	for i, key := range pool.TopologyKeys {
		keyOrder[key.Key] = i
		keyLabel[key.Key] = key.Label
	}

	root := &topologyNode{byPath: map[string]*topologyNode{}}
	for _, task := range group.Tasks {
		reqs := requirements[task.Spec.Name]
		for _, req := range reqs {
			if _, ok := keyOrder[req.Key]; !ok {
				return nil, commonerrors.NewBadRequest(fmt.Sprintf(
					"task %q references topology key %q not defined by the pool",
					task.Spec.Name, req.Key))
			}
		}
		sort.SliceStable(reqs, func(i, j int) bool {
			return keyOrder[reqs[i].Key] < keyOrder[reqs[j].Key]
		})

		node := root
		for _, req := range reqs {
			path := req.Group
			if node != root {
				path = node.path + "-" + req.Group
			}
			child := node.child(path)
			if child == nil {
				child = node.addChild(path, keyLabel[req.Key], req.Required)
			} else if child.required != req.Required {
				return nil, commonerrors.NewBadRequest(fmt.Sprintf(
					"topology group %q mixes required and preferred placement", path))
			}
			child.taskCount++
			node = child
		}
		node.tasks = append(node.tasks, task.Spec.Name)
	}

	// promote the root's single-child chain; the finest promoted level
	// becomes the PodGroup constraint
	current := root
	var promoted *topologyNode
	for len(current.children) == 1 {
		current = current.children[0]
		promoted = current
	}

	result := &TopologyResult{TaskSubGroup: map[string]string{}}
	if promoted != nil {
		result.Constraint = levelConstraint(topologyName, promoted)
	}

	var remaining []*topologyNode
	collectBelow(current, &remaining)
	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].path < remaining[j].path
	})
	for _, node := range remaining {
		subGroup := v1.SubGroup{
			Name:               node.path,
			MinMember:          int32(node.taskCount),
			TopologyConstraint: levelConstraint(topologyName, node),
		}
		if node.parent != current && node.parent != root {
			subGroup.Parent = node.parent.path
		}
		result.SubGroups = append(result.SubGroups, subGroup)
		for _, task := range node.tasks {
			result.TaskSubGroup[task] = node.path
		}
	}
	return result, nil
}

// uniformRequirements checks the all-or-none and same-key-set rules and
// returns each task's requirements.
func uniformRequirements(group *compiler.CompiledGroup) (map[string][]v1.TopologyRequirement, bool, error) {
	requirements := map[string][]v1.TopologyRequirement{}
	reference := ""
	referenceTask := ""
	for i, task := range group.Tasks {
		keys := make([]string, 0, len(task.Spec.Topology))
		for _, req := range task.Spec.Topology {
			keys = append(keys, req.Key)
		}
		sort.Strings(keys)
		keySet := strings.Join(keys, ",")
		if i == 0 {
			reference = keySet
			referenceTask = task.Spec.Name
		} else if keySet != reference {
			return nil, false, commonerrors.NewBadRequest(fmt.Sprintf(
				"tasks %q and %q in group %q reference different topology key sets",
				referenceTask, task.Spec.Name, group.Spec.Name))
		}
		reqs := make([]v1.TopologyRequirement, len(task.Spec.Topology))
		copy(reqs, task.Spec.Topology)
		requirements[task.Spec.Name] = reqs
	}
	return requirements, reference != "", nil
}

func levelConstraint(topologyName string, node *topologyNode) *v1.TopologyConstraint {
	constraint := &v1.TopologyConstraint{Topology: topologyName}
	if node.required {
		constraint.RequiredTopologyLevel = node.label
	} else {
		constraint.PreferredTopologyLevel = node.label
	}
	return constraint
}

func collectBelow(node *topologyNode, out *[]*topologyNode) {
	for _, child := range node.children {
		*out = append(*out, child)
		collectBelow(child, out)
	}
}
