/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket refills linearly at rate tokens/second up to capacity.
type TokenBucket struct {
	mu       sync.Mutex
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	now      func() time.Time
	sleep    func(time.Duration)
}

func NewTokenBucket(rate, capacity float64) *TokenBucket {
	return &TokenBucket{
		rate:     rate,
		capacity: capacity,
		tokens:   capacity,
		last:     time.Now(),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Consume takes k tokens, returning false if insufficient.
func (b *TokenBucket) Consume(k float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < k {
		return false
	}
	b.tokens -= k
	return true
}

// WaitForTokens sleeps exactly (k - tokens)/rate before consuming.
func (b *TokenBucket) WaitForTokens(k float64) {
	b.mu.Lock()
	b.refillLocked()
	if b.tokens >= k {
		b.tokens -= k
		b.mu.Unlock()
		return
	}
	wait := time.Duration((k - b.tokens) / b.rate * float64(time.Second))
	b.tokens -= k
	sleep := b.sleep
	b.mu.Unlock()
	sleep(wait)
}
