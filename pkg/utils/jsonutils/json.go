/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package jsonutils

import (
	"bytes"
	"encoding/json"
)

// UnmarshalWithCheck decodes JSON rejecting unknown fields.
func UnmarshalWithCheck(data []byte, v interface{}) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	return d.Decode(v)
}

// MarshalSilently returns nil on marshal failure; callers that can tolerate
// a missing payload use this to keep log paths simple.
func MarshalSilently(v interface{}) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// DecodeFromMapWithJson converts between structures through a JSON round trip.
func DecodeFromMapWithJson(data interface{}, targetObject interface{}) error {
	jsonByte, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonByte, targetObject)
}

// DeepCopyValue clones any JSON-compatible value (maps, slices, scalars).
func DeepCopyValue(v interface{}) interface{} {
	switch value := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(value))
		for k, item := range value {
			result[k] = DeepCopyValue(item)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(value))
		for i, item := range value {
			result[i] = DeepCopyValue(item)
		}
		return result
	default:
		return value
	}
}
