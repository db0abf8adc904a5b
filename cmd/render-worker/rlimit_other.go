/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

//go:build !linux

package main

// setMemoryLimit is a no-op where the OS offers no address-space cap; the
// output-size cap inside the renderer still applies.
func setMemoryLimit(bytes int64) error {
	return nil
}
