/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backoff

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func Retry(f backoff.Operation, maxElapsedTime, maxInterval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsedTime
	b.MaxInterval = maxInterval
	return backoff.Retry(f, b)
}

// FullJitterDelay returns 2^min(retry,5) + U(0,5) seconds, the delay used
// for database unique-constraint races.
func FullJitterDelay(retry int) time.Duration {
	exp := math.Pow(2, math.Min(float64(retry), 5))
	jitter := rand.Float64() * 5
	return time.Duration((exp + jitter) * float64(time.Second))
}

// RetryWithJitter runs f up to attempts times, sleeping FullJitterDelay
// between failures when shouldRetry accepts the error.
func RetryWithJitter(f func() error, attempts int, shouldRetry func(error) bool) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(FullJitterDelay(i))
		}
	}
	return err
}
