/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package v1 holds the typed model shared by every OSMO control-plane
// component: workflow specs, pool and platform policy objects, backend
// descriptors, the scheduler-native gang objects (PodGroup, Queue, Topology)
// and the workflow/group/task status lattice.
package v1
