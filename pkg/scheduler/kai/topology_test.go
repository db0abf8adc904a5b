/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package kai

import (
	"testing"

	"gotest.tools/assert"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/compiler"
)

func topologyPool() *v1.Pool {
	return &v1.Pool{
		TopologyKeys: []v1.TopologyKey{
			{Key: "zone", Label: "topology.kubernetes.io/zone"},
			{Key: "rack", Label: "topology.kubernetes.io/rack"},
		},
	}
}

func topologyGroup(name string, tasks ...*compiler.CompiledTask) *compiler.CompiledGroup {
	return &compiler.CompiledGroup{
		Spec:  v1.TaskGroupSpec{Name: name},
		Tasks: tasks,
	}
}

func topologyTask(name string, reqs ...v1.TopologyRequirement) *compiler.CompiledTask {
	return &compiler.CompiledTask{
		Spec: v1.TaskSpec{Name: name, Topology: reqs},
	}
}

func req(key, group string, required bool) v1.TopologyRequirement {
	return v1.TopologyRequirement{Key: key, Group: group, Required: required}
}

func TestTopologyNoRequirements(t *testing.T) {
	group := topologyGroup("g", topologyTask("a"), topologyTask("b"))
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	assert.Assert(t, result.Constraint == nil)
	assert.Equal(t, len(result.SubGroups), 0)
}

func TestTopologyFullPromotion(t *testing.T) {
	// every task shares zone=z rack=r: the finest shared level becomes the
	// PodGroup constraint and no subgroups remain
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z", true), req("rack", "r", true)),
		topologyTask("b", req("zone", "z", true), req("rack", "r", true)),
		topologyTask("c", req("rack", "r", true), req("zone", "z", true)),
		topologyTask("d", req("zone", "z", true), req("rack", "r", true)),
	)
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	assert.Assert(t, result.Constraint != nil)
	assert.Equal(t, result.Constraint.RequiredTopologyLevel, "topology.kubernetes.io/rack")
	assert.Equal(t, result.Constraint.Topology, "topo")
	assert.Equal(t, len(result.SubGroups), 0)
	assert.Equal(t, len(result.TaskSubGroup), 0)
}

func TestTopologyBranching(t *testing.T) {
	// shared zone promotes; the two racks become sorted subgroups
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z", true), req("rack", "r2", true)),
		topologyTask("b", req("zone", "z", true), req("rack", "r2", true)),
		topologyTask("c", req("zone", "z", true), req("rack", "r1", true)),
		topologyTask("d", req("zone", "z", true), req("rack", "r1", true)),
	)
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	assert.Equal(t, result.Constraint.RequiredTopologyLevel, "topology.kubernetes.io/zone")
	assert.Equal(t, len(result.SubGroups), 2)
	assert.Equal(t, result.SubGroups[0].Name, "z-r1")
	assert.Equal(t, result.SubGroups[1].Name, "z-r2")
	assert.Equal(t, result.SubGroups[0].MinMember, int32(2))
	assert.Equal(t, result.SubGroups[1].MinMember, int32(2))
	assert.Equal(t, result.SubGroups[0].TopologyConstraint.RequiredTopologyLevel,
		"topology.kubernetes.io/rack")
	assert.Equal(t, result.TaskSubGroup["a"], "z-r2")
	assert.Equal(t, result.TaskSubGroup["c"], "z-r1")
}

func TestTopologyGroupNamesScopeUnderParents(t *testing.T) {
	// the same rack name under different zones is two distinct nodes
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z1", true), req("rack", "r", true)),
		topologyTask("b", req("zone", "z2", true), req("rack", "r", true)),
	)
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	// no shared level, no promotion
	assert.Assert(t, result.Constraint == nil)
	names := []string{}
	for _, sg := range result.SubGroups {
		names = append(names, sg.Name)
	}
	assert.DeepEqual(t, names, []string{"z1", "z1-r", "z2", "z2-r"})
}

func TestTopologySubgroupParents(t *testing.T) {
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z1", true), req("rack", "r1", true)),
		topologyTask("b", req("zone", "z1", true), req("rack", "r2", true)),
		topologyTask("c", req("zone", "z2", true), req("rack", "r1", true)),
	)
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	byName := map[string]v1.SubGroup{}
	for _, sg := range result.SubGroups {
		byName[sg.Name] = sg
	}
	// zone nodes hang off the root, racks off their zones
	assert.Equal(t, byName["z1"].Parent, "")
	assert.Equal(t, byName["z1-r1"].Parent, "z1")
	assert.Equal(t, byName["z2-r1"].Parent, "z2")
	assert.Equal(t, byName["z1"].MinMember, int32(2))
	assert.Equal(t, byName["z2"].MinMember, int32(1))
}

func TestTopologyPreferredEmitsPreferredLevel(t *testing.T) {
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z", false)),
		topologyTask("b", req("zone", "z", false)),
	)
	result, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.NilError(t, err)
	assert.Equal(t, result.Constraint.PreferredTopologyLevel, "topology.kubernetes.io/zone")
	assert.Equal(t, result.Constraint.RequiredTopologyLevel, "")
}

func TestTopologyRejectsMixedKeySets(t *testing.T) {
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z", true)),
		topologyTask("b", req("zone", "z", true), req("rack", "r", true)),
	)
	_, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.ErrorContains(t, err, "different topology key sets")
}

func TestTopologyRejectsUnknownKey(t *testing.T) {
	group := topologyGroup("g",
		topologyTask("a", req("row", "r", true)),
	)
	_, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.ErrorContains(t, err, "not defined by the pool")
}

func TestTopologyRejectsMixedRequirementOnOneNode(t *testing.T) {
	group := topologyGroup("g",
		topologyTask("a", req("zone", "z", true)),
		topologyTask("b", req("zone", "z", false)),
	)
	_, err := BuildTopologyTree(group, topologyPool(), "topo")
	assert.ErrorContains(t, err, "mixes required and preferred")
}
