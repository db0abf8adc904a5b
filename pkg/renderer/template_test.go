/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

import (
	"strings"
	"testing"

	"gotest.tools/assert"
)

func TestRenderTemplateBasic(t *testing.T) {
	rendered, kind, err := RenderTemplate(
		"name: {{.name}}-{{.index}}",
		map[string]interface{}{"name": "train", "index": 3}, 0)
	assert.NilError(t, err)
	assert.Equal(t, kind, ErrorNone)
	assert.Equal(t, rendered, "name: train-3")
}

func TestRenderTemplateLoopsAndConditionals(t *testing.T) {
	rendered, _, err := RenderTemplate(
		`{{range .gpus}}{{if gt . 0}}gpu={{.}};{{end}}{{end}}`,
		map[string]interface{}{"gpus": []interface{}{0, 2, 4}}, 0)
	assert.NilError(t, err)
	assert.Equal(t, rendered, "gpu=2;gpu=4;")
}

func TestRenderTemplateStringFuncs(t *testing.T) {
	rendered, _, err := RenderTemplate(
		`{{upper .pool}}/{{join .tags ","}}`,
		map[string]interface{}{
			"pool": "dgx",
			"tags": []string{"a", "b"},
		}, 0)
	assert.NilError(t, err)
	assert.Equal(t, rendered, "DGX/a,b")
}

func TestRenderTemplateUndefinedVariableIsStrict(t *testing.T) {
	_, kind, err := RenderTemplate("{{.missing}}", map[string]interface{}{}, 0)
	assert.Assert(t, err != nil)
	assert.Equal(t, kind, ErrorTemplate)
}

func TestRenderTemplateParseError(t *testing.T) {
	_, kind, err := RenderTemplate("{{.unclosed", nil, 0)
	assert.Assert(t, err != nil)
	assert.Equal(t, kind, ErrorTemplate)
}

func TestRenderTemplateMemoryCap(t *testing.T) {
	template := `{{range .items}}` + strings.Repeat("x", 1024) + `{{end}}`
	items := make([]interface{}, 1024)
	for i := range items {
		items[i] = i
	}
	_, kind, err := RenderTemplate(template,
		map[string]interface{}{"items": items}, 4096)
	assert.Assert(t, err != nil)
	assert.Equal(t, kind, ErrorMemory)
}
