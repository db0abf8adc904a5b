/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the bucket without real sleeps.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) install(b *TokenBucket) {
	b.now = func() time.Time { return c.now }
	b.last = c.now
	b.sleep = func(d time.Duration) { c.slept = append(c.slept, d) }
}

func TestConsumeDrainsCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	bucket := NewTokenBucket(1, 5)
	clock.install(bucket)

	assert.True(t, bucket.Consume(3))
	assert.True(t, bucket.Consume(2))
	assert.False(t, bucket.Consume(1))
}

func TestRefillIsLinearAndCapped(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	bucket := NewTokenBucket(2, 10)
	clock.install(bucket)

	assert.True(t, bucket.Consume(10))
	assert.False(t, bucket.Consume(1))

	clock.now = clock.now.Add(3 * time.Second)
	assert.True(t, bucket.Consume(6))
	assert.False(t, bucket.Consume(1))

	// a long idle period refills to capacity, never past it
	clock.now = clock.now.Add(time.Hour)
	assert.True(t, bucket.Consume(10))
	assert.False(t, bucket.Consume(1))
}

func TestWaitForTokensSleepsForDeficit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	bucket := NewTokenBucket(2, 4)
	clock.install(bucket)

	bucket.WaitForTokens(4)
	assert.Len(t, clock.slept, 0)

	// 4 short with rate 2/s means a 2s wait
	bucket.WaitForTokens(4)
	assert.Len(t, clock.slept, 1)
	assert.Equal(t, 2*time.Second, clock.slept[0])
}
