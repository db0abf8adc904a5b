/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package sets

import "sort"

type Set map[string]struct{}

func NewSet(keys ...string) Set {
	set := make(Set, len(keys))
	return set.Insert(keys...)
}

func (s Set) Insert(keys ...string) Set {
	for _, key := range keys {
		s[key] = struct{}{}
	}
	return s
}

func (s Set) Delete(keys ...string) Set {
	for _, key := range keys {
		delete(s, key)
	}
	return s
}

func (s Set) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s[key]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

func (s Set) Clone() Set {
	result := make(Set, len(s))
	for key := range s {
		result.Insert(key)
	}
	return result
}

// Difference returns the keys of s not present in s2.
func (s Set) Difference(s2 Set) Set {
	result := NewSet()
	for key := range s {
		if !s2.Has(key) {
			result.Insert(key)
		}
	}
	return result
}

// Intersects reports whether the two sets share at least one key.
func (s Set) Intersects(s2 Set) bool {
	small, large := s, s2
	if len(small) > len(large) {
		small, large = large, small
	}
	for key := range small {
		if large.Has(key) {
			return true
		}
	}
	return false
}

func (s Set) Union(s2 Set) Set {
	result := s.Clone()
	for key := range s2 {
		result.Insert(key)
	}
	return result
}

func (s Set) UnsortedList() []string {
	result := make([]string, 0, len(s))
	for key := range s {
		result = append(result, key)
	}
	return result
}

func (s Set) SortedList() []string {
	result := s.UnsortedList()
	sort.Strings(result)
	return result
}
