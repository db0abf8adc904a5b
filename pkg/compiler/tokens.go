/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package compiler

import (
	"fmt"
	"regexp"
	"strings"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/quantity"
)

// Dynamic overlay tokens. USER_* carries the task's resolved resource ask;
// K8_* tokens are node facts and only resolve during per-node assertion
// evaluation.
const (
	TokenUserCPU           = "USER_CPU"
	TokenUserGPU           = "USER_GPU"
	TokenUserMemory        = "USER_MEMORY"
	TokenUserStorage       = "USER_STORAGE"
	TokenUserCacheSize     = "USER_CACHE_SIZE"
	TokenUserExcludedNodes = "USER_EXCLUDED_NODES"
	TokenUserPool          = "USER_POOL"
	TokenUserPlatform      = "USER_PLATFORM"
	TokenUserName          = "USER_NAME"

	K8TokenPrefix = "K8_"
)

var tokenPattern = regexp.MustCompile(`\{\{([A-Z0-9_]+)\}\}`)

// TokenMap maps token names to their typed values. A nil value means the
// token is unset: any field it fully occupies is stripped from the rendered
// structure instead of receiving a literal placeholder.
type TokenMap map[string]interface{}

// BuildTokenMap assembles the substitution map for one task's resource ask.
// Default variables come in with the pool's commons first, then the platform
// overrides, then the typed USER_* values on top.
func BuildTokenMap(spec *v1.ResourceSpec, pool, platform, taskName string,
	defaultVariables map[string]string) (TokenMap, error) {
	tokens := TokenMap{}
	for key, value := range defaultVariables {
		tokens[key] = value
	}
	tokens[TokenUserPool] = pool
	tokens[TokenUserPlatform] = platform
	tokens[TokenUserName] = taskName
	tokens[TokenUserCPU] = quantity.FormatCount(spec.CPU)
	tokens[TokenUserGPU] = fmt.Sprintf("%d", spec.GPU)

	for token, value := range map[string]string{
		TokenUserMemory:    spec.Memory,
		TokenUserStorage:   spec.Storage,
		TokenUserCacheSize: spec.CacheSize,
	} {
		if value == "" {
			tokens[token] = nil
			continue
		}
		variants, err := quantity.UnitVariants(token, value)
		if err != nil {
			return nil, err
		}
		for k, v := range variants {
			tokens[k] = v
		}
	}
	if len(spec.NodesExcluded) > 0 {
		excluded := make([]interface{}, 0, len(spec.NodesExcluded))
		for _, node := range spec.NodesExcluded {
			excluded = append(excluded, node)
		}
		tokens[TokenUserExcludedNodes] = excluded
	} else {
		tokens[TokenUserExcludedNodes] = nil
	}
	return tokens, nil
}

// SubstituteTokens renders the token map into a pod fragment. Fields whose
// substitution resolved to nil/empty are stripped rather than emitting a
// literal placeholder; K8_* tokens survive untouched for per-node
// evaluation.
func SubstituteTokens(value interface{}, tokens TokenMap) (interface{}, bool) {
	switch typed := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(typed))
		for key, item := range typed {
			rendered, keep := SubstituteTokens(item, tokens)
			if keep {
				result[key] = rendered
			}
		}
		return result, true
	case []interface{}:
		result := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			rendered, keep := SubstituteTokens(item, tokens)
			if !keep {
				continue
			}
			// a single token expanding to a list splices into the parent
			// list, so USER_EXCLUDED_NODES yields a YAML list
			if spliced, ok := rendered.([]interface{}); ok {
				if s, isString := item.(string); isString && isSoleToken(s) {
					result = append(result, spliced...)
					continue
				}
			}
			result = append(result, rendered)
		}
		return result, true
	case string:
		return substituteString(typed, tokens)
	default:
		return value, true
	}
}

func isSoleToken(s string) bool {
	match := tokenPattern.FindString(s)
	return match == strings.TrimSpace(s)
}

func substituteString(s string, tokens TokenMap) (interface{}, bool) {
	if isSoleToken(s) {
		name := tokenPattern.FindStringSubmatch(strings.TrimSpace(s))[1]
		value, known := lookupToken(name, tokens)
		if !known {
			return s, true
		}
		if isEmptyToken(value) {
			return nil, false
		}
		return value, true
	}
	dropped := false
	rendered := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		value, known := lookupToken(name, tokens)
		if !known {
			return match
		}
		if isEmptyToken(value) {
			dropped = true
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
	if dropped && strings.TrimSpace(rendered) == "" {
		return nil, false
	}
	return rendered, true
}

func lookupToken(name string, tokens TokenMap) (interface{}, bool) {
	if value, ok := tokens[name]; ok {
		return value, true
	}
	// unresolved K8_* tokens are deferred, everything else passes through
	// unchanged and is caught by validation
	return nil, false
}

func isEmptyToken(value interface{}) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return s == ""
	}
	return false
}

// HasK8Token reports whether a template string references any per-node
// token; assertions containing one are evaluated per candidate node.
func HasK8Token(s string) bool {
	for _, match := range tokenPattern.FindAllStringSubmatch(s, -1) {
		if strings.HasPrefix(match[1], K8TokenPrefix) {
			return true
		}
	}
	return false
}

// RenderAssertionOperand substitutes tokens in an assertion operand; an
// unresolved token is an error here, unlike in pod fragments.
func RenderAssertionOperand(operand string, tokens TokenMap) (string, error) {
	var missing string
	rendered := tokenPattern.ReplaceAllStringFunc(operand, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		value, known := lookupToken(name, tokens)
		if !known || value == nil {
			missing = name
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if missing != "" {
		return "", fmt.Errorf("assertion operand %q references unset token %s", operand, missing)
	}
	return rendered, nil
}
