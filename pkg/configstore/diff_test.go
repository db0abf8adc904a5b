/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package configstore

import (
	"testing"

	"gotest.tools/assert"
)

func TestMaskSecretsOpaque(t *testing.T) {
	data := map[string]interface{}{
		"endpoint": "https://example.com",
		"password": "hunter2",
		"nested": map[string]interface{}{
			"api_key": "abc",
		},
	}
	masked := maskSecrets(data, nil, 0)
	assert.Equal(t, masked["endpoint"], "https://example.com")
	assert.Equal(t, masked["password"], secretMask)
	assert.Equal(t, masked["nested"].(map[string]interface{})["api_key"], secretMask)
}

func TestMaskSecretsChangedSentinel(t *testing.T) {
	before := map[string]interface{}{
		"password": "old",
		"token":    "same",
	}
	after := map[string]interface{}{
		"password": "new",
		"token":    "same",
	}
	masked := maskSecrets(after, before, 7)
	assert.Equal(t, masked["password"], "********** <secret changed in r7>")
	assert.Equal(t, masked["token"], secretMask)
}
