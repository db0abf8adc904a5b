/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package quantity

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
)

func AddResource(resources ...corev1.ResourceList) corev1.ResourceList {
	result := corev1.ResourceList{}
	for _, res := range resources {
		for k, v := range res {
			v2 := v.DeepCopy()
			if s, ok := result[k]; ok {
				v2.Add(s)
			}
			result[k] = v2
		}
	}
	return result
}

// SubResource returns rl1 - rl2.
func SubResource(rl1, rl2 corev1.ResourceList) corev1.ResourceList {
	result := corev1.ResourceList{}
	for k, v := range rl1 {
		v2 := v.DeepCopy()
		if s, ok := rl2[k]; ok {
			v2.Sub(s)
		}
		result[k] = v2
	}
	for k, v := range rl2 {
		if _, ok := rl1[k]; !ok {
			v2 := v.DeepCopy()
			v2.Neg()
			result[k] = v2
		}
	}
	return result
}

// IsSubResource returns whether resource1 fits inside resource2, and the
// first resource name that does not.
func IsSubResource(resource1, resource2 corev1.ResourceList) (bool, string) {
	for key, val1 := range resource1 {
		val2, ok := resource2[key]
		if !ok {
			return false, string(key)
		}
		if val1.Cmp(val2) > 0 {
			return false, string(key)
		}
	}
	return true, ""
}

// binarySuffixes in descending scale; used for unit-variant expansion.
var unitScales = map[string]int64{
	"B":  1,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
}

// UnitVariants expands a byte quantity into the substitution variants the
// pod-template tokens expose: bare (original string with unit), _VAL, _UNIT,
// and the value rescaled to each of B, Ki, Mi, Gi, Ti and m (millis).
//
// For example USER_MEMORY = "4Gi" yields USER_MEMORY_VAL = "4",
// USER_MEMORY_UNIT = "Gi", USER_MEMORY_Mi = "4096", etc.
func UnitVariants(token, value string) (map[string]string, error) {
	result := map[string]string{token: value}
	if value == "" {
		return result, nil
	}
	q, err := resource.ParseQuantity(value)
	if err != nil {
		return nil, fmt.Errorf("invalid quantity %q for %s: %v", value, token, err)
	}
	val, unit := splitQuantity(value)
	result[token+"_VAL"] = val
	result[token+"_UNIT"] = unit
	bytes := q.Value()
	for suffix, scale := range unitScales {
		scaled := bytes / scale
		if bytes%scale != 0 {
			// round up so requests never shrink below the user's ask
			scaled++
		}
		result[fmt.Sprintf("%s_%s", token, suffix)] = fmt.Sprintf("%d", scaled)
	}
	result[token+"_m"] = fmt.Sprintf("%d", q.MilliValue())
	return result, nil
}

func splitQuantity(value string) (string, string) {
	i := len(value)
	for i > 0 {
		c := value[i-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		i--
	}
	return value[:i], value[i:]
}

// FormatCount renders numeric tokens such as USER_CPU and USER_GPU without
// a trailing ".0" when the value is integral.
func FormatCount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return strings.TrimRight(fmt.Sprintf("%f", v), "0")
}
