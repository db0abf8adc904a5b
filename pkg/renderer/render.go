/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

import (
	"context"

	sigsyaml "sigs.k8s.io/yaml"
)

// ExtractDefaultValues pulls the top-level default-values block out of the
// raw document. The block itself must be plain yaml; template expressions
// only resolve in the rest of the document.
func ExtractDefaultValues(documentText string) (map[string]interface{}, error) {
	var doc struct {
		DefaultValues map[string]interface{} `json:"default-values"`
	}
	if err := sigsyaml.Unmarshal([]byte(documentText), &doc); err != nil {
		// A parse failure here is not fatal: the document may only become
		// valid yaml after rendering. Undefined variables then fail strictly.
		return nil, nil
	}
	return doc.DefaultValues, nil
}

// RenderDocument renders a workflow document, merging the document's
// default-values under the explicitly set variables. Explicit wins.
func RenderDocument(ctx context.Context, documentText string, setVariables map[string]interface{}) (string, error) {
	defaults, err := ExtractDefaultValues(documentText)
	if err != nil {
		return "", err
	}
	variables := make(map[string]interface{}, len(defaults)+len(setVariables))
	for key, value := range defaults {
		variables[key] = value
	}
	for key, value := range setVariables {
		variables[key] = value
	}
	return GetPool().Render(ctx, documentText, variables)
}
