/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

//go:build linux

package main

import "golang.org/x/sys/unix"

// setMemoryLimit caps the worker's virtual address space so a runaway
// template kills this process instead of the service.
func setMemoryLimit(bytes int64) error {
	limit := &unix.Rlimit{Cur: uint64(bytes), Max: uint64(bytes)}
	return unix.Setrlimit(unix.RLIMIT_AS, limit)
}
