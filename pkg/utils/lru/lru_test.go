/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	cache := New[int](2)
	cache.Put("a", 1)
	cache.Put("b", 2)

	v, ok := cache.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

func TestEvictsOldestOnOverflow(t *testing.T) {
	cache := New[string](2)
	cache.Put("a", "1")
	cache.Put("b", "2")
	cache.Put("c", "3")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestGetRefreshesRecency(t *testing.T) {
	cache := New[int](2)
	cache.Put("a", 1)
	cache.Put("b", 2)
	cache.Get("a")
	cache.Put("c", 3)

	// b was the least recently used
	_, ok := cache.Get("b")
	assert.False(t, ok)
	_, ok = cache.Get("a")
	assert.True(t, ok)
}

func TestPutOverwrites(t *testing.T) {
	cache := New[int](2)
	cache.Put("a", 1)
	cache.Put("a", 2)

	v, _ := cache.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, cache.Len())
}

func TestInvalidate(t *testing.T) {
	cache := New[int](2)
	cache.Put("a", 1)
	cache.Invalidate("a")
	cache.Invalidate("never-there")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}
