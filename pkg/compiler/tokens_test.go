/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"testing"

	"gotest.tools/assert"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

func testTokens(t *testing.T, spec *v1.ResourceSpec) TokenMap {
	t.Helper()
	tokens, err := BuildTokenMap(spec, "pool-a", "dgx", "fit", map[string]string{
		"CUSTOM_VAR": "custom",
	})
	assert.NilError(t, err)
	return tokens
}

func TestBuildTokenMapUnitVariants(t *testing.T) {
	tokens := testTokens(t, &v1.ResourceSpec{
		CPU:    4,
		GPU:    8,
		Memory: "4Gi",
	})
	assert.Equal(t, tokens[TokenUserCPU], "4")
	assert.Equal(t, tokens[TokenUserGPU], "8")
	assert.Equal(t, tokens[TokenUserMemory], "4Gi")
	assert.Equal(t, tokens["USER_MEMORY_VAL"], "4")
	assert.Equal(t, tokens["USER_MEMORY_UNIT"], "Gi")
	assert.Equal(t, tokens["USER_MEMORY_Mi"], "4096")
	assert.Equal(t, tokens["CUSTOM_VAR"], "custom")
	// unset storage is nil, not a literal placeholder
	assert.Assert(t, tokens[TokenUserStorage] == nil)
}

func TestSubstituteStripsUnsetFields(t *testing.T) {
	tokens := testTokens(t, &v1.ResourceSpec{CPU: 2, Memory: "1Gi"})
	pod := map[string]interface{}{
		"containers": []interface{}{
			map[string]interface{}{
				"name": "user",
				"resources": map[string]interface{}{
					"limits": map[string]interface{}{
						"cpu":               "{{USER_CPU}}",
						"memory":            "{{USER_MEMORY}}",
						"ephemeral-storage": "{{USER_STORAGE}}",
					},
				},
			},
		},
	}
	rendered, _ := SubstituteTokens(pod, tokens)
	limits := rendered.(map[string]interface{})["containers"].([]interface{})[0].(map[string]interface{})["resources"].(map[string]interface{})["limits"].(map[string]interface{})
	assert.Equal(t, limits["cpu"], "2")
	assert.Equal(t, limits["memory"], "1Gi")
	// unset USER_STORAGE removes the field instead of emitting a literal
	_, hasStorage := limits["ephemeral-storage"]
	assert.Equal(t, hasStorage, false)
}

func TestSubstituteExcludedNodesSplicesIntoList(t *testing.T) {
	tokens := testTokens(t, &v1.ResourceSpec{
		NodesExcluded: []string{"node1", "node2"},
	})
	fragment := map[string]interface{}{
		"values": []interface{}{"{{USER_EXCLUDED_NODES}}"},
	}
	rendered, _ := SubstituteTokens(fragment, tokens)
	values := rendered.(map[string]interface{})["values"].([]interface{})
	assert.DeepEqual(t, values, []interface{}{"node1", "node2"})
}

func TestSubstituteLeavesK8TokensForPerNodeEvaluation(t *testing.T) {
	tokens := testTokens(t, &v1.ResourceSpec{CPU: 1})
	rendered, keep := SubstituteTokens("{{K8_GPU_ALLOCATABLE}}", tokens)
	assert.Equal(t, keep, true)
	assert.Equal(t, rendered, "{{K8_GPU_ALLOCATABLE}}")
	assert.Equal(t, HasK8Token("{{K8_GPU_ALLOCATABLE}}"), true)
	assert.Equal(t, HasK8Token("{{USER_GPU}}"), false)
}

func TestRenderAssertionOperand(t *testing.T) {
	tokens := testTokens(t, &v1.ResourceSpec{GPU: 8})
	rendered, err := RenderAssertionOperand("{{USER_GPU}}", tokens)
	assert.NilError(t, err)
	assert.Equal(t, rendered, "8")

	_, err = RenderAssertionOperand("{{K8_GPU_ALLOCATABLE}}", tokens)
	assert.Assert(t, err != nil)
}
