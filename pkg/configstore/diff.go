/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package configstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	sigsyaml "sigs.k8s.io/yaml"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

const secretMask = "**********"

// secretKeyFragments marks which config fields hold secrets. Matching is
// case-insensitive on the key name.
var secretKeyFragments = []string{"password", "secret", "token", "access_key", "api_key"}

// DiffResult holds both revisions rendered as yaml with secrets masked,
// ready for line diffing by the caller.
type DiffResult struct {
	FromRevision int64
	ToRevision   int64
	From         string
	To           string
}

// Diff renders revision B given revision A. A secret that changed between
// the two is replaced with a sentinel naming the revision that changed it;
// unchanged secrets show as opaque.
func (s *Store) Diff(ctx context.Context, configType v1.ConfigType, revA, revB int64) (*DiffResult, error) {
	entryA, err := s.GetRevision(ctx, configType, revA)
	if err != nil {
		return nil, err
	}
	entryB, err := s.GetRevision(ctx, configType, revB)
	if err != nil {
		return nil, err
	}
	maskedA := maskSecrets(entryA.Data, nil, 0)
	maskedB := maskSecrets(entryB.Data, entryA.Data, revB)

	fromText, err := sigsyaml.Marshal(maskedA)
	if err != nil {
		return nil, err
	}
	toText, err := sigsyaml.Marshal(maskedB)
	if err != nil {
		return nil, err
	}
	return &DiffResult{
		FromRevision: revA,
		ToRevision:   revB,
		From:         string(fromText),
		To:           string(toText),
	}, nil
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// maskSecrets replaces secret values with the opaque mask. When a baseline
// is given and the secret differs from it, the mask carries the revision
// that changed it.
func maskSecrets(data map[string]interface{}, baseline map[string]interface{}, revision int64) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for key, value := range data {
		var baseValue interface{}
		if baseline != nil {
			baseValue = baseline[key]
		}
		if isSecretKey(key) {
			if baseline != nil && !reflect.DeepEqual(value, baseValue) {
				result[key] = fmt.Sprintf("%s <secret changed in r%d>", secretMask, revision)
			} else {
				result[key] = secretMask
			}
			continue
		}
		switch typed := value.(type) {
		case map[string]interface{}:
			baseMap, _ := baseValue.(map[string]interface{})
			if baseline == nil {
				baseMap = nil
			}
			result[key] = maskSecrets(typed, baseMap, revision)
		default:
			result[key] = value
		}
	}
	return result
}
