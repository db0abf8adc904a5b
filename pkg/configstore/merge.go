/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package configstore

// Strategic merge for config patches. Dict keys recurse, lists of dicts
// carrying an $index field are addressed positionally, and every other list
// is replaced wholesale. The $action and $index markers never survive into
// stored data.

const (
	actionField = "$action"
	indexField  = "$index"

	actionDelete  = "delete"
	actionReplace = "replace"
)

// StrategicMerge merges patch into base and returns the result. Inputs are
// not mutated.
func StrategicMerge(base, patch map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for key, value := range base {
		result[key] = deepCopyValue(value)
	}
	for key, patchValue := range patch {
		patchMap, isMap := patchValue.(map[string]interface{})
		if isMap && patchMap[actionField] == actionDelete {
			delete(result, key)
			continue
		}
		baseValue, exists := result[key]
		if !exists {
			result[key] = stripMarkers(patchValue)
			continue
		}
		switch typed := patchValue.(type) {
		case map[string]interface{}:
			if baseMap, ok := baseValue.(map[string]interface{}); ok {
				result[key] = StrategicMerge(baseMap, typed)
			} else {
				result[key] = stripMarkers(patchValue)
			}
		case []interface{}:
			if baseList, ok := baseValue.([]interface{}); ok {
				result[key] = mergeList(baseList, typed)
			} else {
				result[key] = stripMarkers(patchValue)
			}
		default:
			result[key] = patchValue
		}
	}
	return result
}

// mergeList mutates indexed items in place; unmatched patch items are
// appended unless they carry $action delete. Lists of named dicts without
// $index markers merge by name; every other unindexed list is replaced
// wholesale.
func mergeList(base, patch []interface{}) []interface{} {
	if !hasIndexedItems(patch) {
		if isNamedDictList(base) && isNamedDictList(patch) {
			return MergeListByName(base, patch)
		}
		return stripMarkers(patch).([]interface{})
	}
	result := make([]interface{}, len(base))
	for i, item := range base {
		result[i] = deepCopyValue(item)
	}
	for _, patchItem := range patch {
		patchMap, ok := patchItem.(map[string]interface{})
		if !ok {
			result = append(result, patchItem)
			continue
		}
		index, indexed := asListIndex(patchMap[indexField])
		action, _ := patchMap[actionField].(string)
		if !indexed || index < 0 || index >= len(result) {
			if action != actionDelete {
				result = append(result, stripMarkers(patchItem))
			}
			continue
		}
		switch action {
		case actionDelete:
			result = append(result[:index], result[index+1:]...)
		case actionReplace:
			result[index] = stripMarkers(patchItem)
		default:
			if baseMap, ok := result[index].(map[string]interface{}); ok {
				merged := StrategicMerge(baseMap, patchMap)
				delete(merged, indexField)
				result[index] = merged
			} else {
				result[index] = stripMarkers(patchItem)
			}
		}
	}
	return result
}

func hasIndexedItems(list []interface{}) bool {
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			if _, exists := m[indexField]; exists {
				return true
			}
		}
	}
	return false
}

func asListIndex(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// MergeListByName merges two lists of dicts keyed by their name field: items
// with the same name merge recursively, unmatched overlay items are
// appended. Container arrays in pod templates compose this way.
func MergeListByName(base, overlay []interface{}) []interface{} {
	byName := make(map[string]int, len(base))
	result := make([]interface{}, len(base))
	for i, item := range base {
		result[i] = deepCopyValue(item)
		if m, ok := item.(map[string]interface{}); ok {
			if name, ok := m["name"].(string); ok {
				byName[name] = i
			}
		}
	}
	for _, overlayItem := range overlay {
		m, ok := overlayItem.(map[string]interface{})
		if !ok {
			result = append(result, overlayItem)
			continue
		}
		name, hasName := m["name"].(string)
		if !hasName {
			result = append(result, deepCopyValue(overlayItem))
			continue
		}
		if i, exists := byName[name]; exists {
			if baseMap, ok := result[i].(map[string]interface{}); ok {
				result[i] = MergeMapByName(baseMap, m)
				continue
			}
		}
		byName[name] = len(result)
		result = append(result, deepCopyValue(overlayItem))
	}
	return result
}

// MergeMapByName recursively merges overlay into base, composing nested
// lists of named dicts with MergeListByName.
func MergeMapByName(base, overlay map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for key, value := range base {
		result[key] = deepCopyValue(value)
	}
	for key, overlayValue := range overlay {
		baseValue, exists := result[key]
		if !exists {
			result[key] = deepCopyValue(overlayValue)
			continue
		}
		switch typed := overlayValue.(type) {
		case map[string]interface{}:
			if baseMap, ok := baseValue.(map[string]interface{}); ok {
				result[key] = MergeMapByName(baseMap, typed)
				continue
			}
		case []interface{}:
			if baseList, ok := baseValue.([]interface{}); ok && isNamedDictList(typed) && isNamedDictList(baseList) {
				result[key] = MergeListByName(baseList, typed)
				continue
			}
		}
		result[key] = deepCopyValue(overlayValue)
	}
	return result
}

func isNamedDictList(list []interface{}) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return false
		}
		if _, ok = m["name"].(string); !ok {
			return false
		}
	}
	return true
}

// stripMarkers removes $action and $index markers from a patch fragment
// before it is stored.
func stripMarkers(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(typed))
		for key, v := range typed {
			if key == actionField || key == indexField {
				continue
			}
			result[key] = stripMarkers(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			result = append(result, stripMarkers(item))
		}
		return result
	default:
		return value
	}
}

func deepCopyValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(typed))
		for key, v := range typed {
			result[key] = deepCopyValue(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			result = append(result, deepCopyValue(item))
		}
		return result
	default:
		return value
	}
}
