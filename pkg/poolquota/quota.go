/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package poolquota computes per-pool GPU quota and usage over the nodesets
// pools share. Pools sharing any node report identical shared capacity, and
// the resource sum counts each nodeset once.
package poolquota

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
)

// GpuResourceName is the allocatable key counted by the quota engine.
const GpuResourceName = "nvidia.com/gpu"

type PoolQuota struct {
	// QuotaLimit is the pool's guarantee; -1 resolves to the nodeset's
	// allocatable.
	QuotaLimit int64 `json:"quota_limit"`
	// QuotaUsed counts non-preemptible GPU consumption only.
	QuotaUsed  int64 `json:"quota_used"`
	TotalUsage int64 `json:"total_usage"`
	QuotaFree  int64 `json:"quota_free"`
	// TotalCapacity and TotalFree are nodeset-wide and identical for every
	// pool sharing the nodeset.
	TotalCapacity int64 `json:"total_capacity"`
	TotalFree     int64 `json:"total_free"`
}

type ResourceSum struct {
	TotalCapacity int64 `json:"total_capacity"`
	TotalFree     int64 `json:"total_free"`
}

type Report struct {
	Pools map[string]*PoolQuota `json:"pools"`
	// ResourceSum sums over nodesets, never over pools, so shared capacity
	// is counted once.
	ResourceSum ResourceSum `json:"resource_sum"`
}

type node struct {
	allocatable int64
	used        int64
	pools       []string
}

// Compute builds the quota report from the pool table, the running-task
// summaries and the node snapshots reported by backends.
func Compute(pools map[string]*v1.Pool, summaries []*dbclient.TaskSummary,
	resources []*v1.ResourceEntry) *Report {
	nodes := collectNodes(pools, resources)
	nodesets := mergeNodesets(nodes)

	poolUsed := map[string]int64{}
	poolTotal := map[string]int64{}
	for _, summary := range summaries {
		poolTotal[summary.Pool] += summary.Gpu
		if !v1.Priority(summary.Priority).Preemptible() {
			poolUsed[summary.Pool] += summary.Gpu
		}
	}

	report := &Report{Pools: map[string]*PoolQuota{}}
	seen := map[string]struct{}{}
	for _, set := range nodesets {
		var capacity, used int64
		for _, n := range set.nodes {
			capacity += n.allocatable
			used += n.used
		}
		free := capacity - used
		if free < 0 {
			free = 0
		}
		report.ResourceSum.TotalCapacity += capacity
		report.ResourceSum.TotalFree += free

		for _, poolName := range set.pools {
			quota := &PoolQuota{
				QuotaLimit:    pools[poolName].Resources.GPU.Guarantee,
				QuotaUsed:     poolUsed[poolName],
				TotalUsage:    poolTotal[poolName],
				TotalCapacity: capacity,
				TotalFree:     free,
			}
			if quota.QuotaLimit == v1.UnboundedQuota {
				quota.QuotaLimit = capacity
			}
			quota.QuotaFree = quota.QuotaLimit - quota.QuotaUsed
			if quota.QuotaFree < 0 {
				quota.QuotaFree = 0
			}
			report.Pools[poolName] = quota
			seen[poolName] = struct{}{}
		}
	}

	// pools with no reporting nodes still appear, with empty capacity
	for poolName, pool := range pools {
		if _, ok := seen[poolName]; ok {
			continue
		}
		quota := &PoolQuota{
			QuotaLimit: pool.Resources.GPU.Guarantee,
			QuotaUsed:  poolUsed[poolName],
			TotalUsage: poolTotal[poolName],
		}
		if quota.QuotaLimit == v1.UnboundedQuota {
			quota.QuotaLimit = 0
		}
		quota.QuotaFree = quota.QuotaLimit - quota.QuotaUsed
		if quota.QuotaFree < 0 {
			quota.QuotaFree = 0
		}
		report.Pools[poolName] = quota
	}
	return report
}

// collectNodes dedupes resource entries by (backend, hostname) and assigns
// each node to its pools from the pool/platform exposed field.
func collectNodes(pools map[string]*v1.Pool, resources []*v1.ResourceEntry) map[string]*node {
	nodes := map[string]*node{}
	for _, entry := range resources {
		key := entry.Backend + "/" + entry.Hostname
		if _, dup := nodes[key]; dup {
			continue
		}
		n := &node{
			allocatable: gpuAllocatable(entry.Allocatable),
			used:        entry.Usage + entry.NonWorkflowUsage,
		}
		for _, poolName := range nodePools(entry) {
			if _, known := pools[poolName]; !known {
				klog.Warningf("node %s references unknown pool %q, skipping", key, poolName)
				continue
			}
			n.pools = append(n.pools, poolName)
		}
		nodes[key] = n
	}
	return nodes
}

func gpuAllocatable(allocatable corev1.ResourceList) int64 {
	quantity, ok := allocatable[GpuResourceName]
	if !ok {
		return 0
	}
	return quantity.Value()
}

// nodePools parses the pool/platform membership list ("pool/platform"
// entries) into pool names.
func nodePools(entry *v1.ResourceEntry) []string {
	raw, ok := entry.ExposedFields[v1.PoolPlatformField]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, item := range list {
		pair := fmt.Sprintf("%v", item)
		poolName := pair
		if i := strings.Index(pair, "/"); i >= 0 {
			poolName = pair[:i]
		}
		if _, dup := seen[poolName]; dup {
			continue
		}
		seen[poolName] = struct{}{}
		out = append(out, poolName)
	}
	return out
}

type nodeset struct {
	pools []string
	nodes []*node
}

// mergeNodesets computes connected components by BFS over the bipartite
// pools-to-nodes graph: pools sharing at least one node share a nodeset.
func mergeNodesets(nodes map[string]*node) []*nodeset {
	poolNodes := map[string][]string{}
	for key, n := range nodes {
		for _, pool := range n.pools {
			poolNodes[pool] = append(poolNodes[pool], key)
		}
	}

	visitedPools := map[string]struct{}{}
	visitedNodes := map[string]struct{}{}
	var sets []*nodeset
	for pool := range poolNodes {
		if _, done := visitedPools[pool]; done {
			continue
		}
		set := &nodeset{}
		queue := []string{pool}
		visitedPools[pool] = struct{}{}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			set.pools = append(set.pools, current)
			for _, key := range poolNodes[current] {
				if _, done := visitedNodes[key]; done {
					continue
				}
				visitedNodes[key] = struct{}{}
				set.nodes = append(set.nodes, nodes[key])
				for _, neighbor := range nodes[key].pools {
					if _, done := visitedPools[neighbor]; done {
						continue
					}
					visitedPools[neighbor] = struct{}{}
					queue = append(queue, neighbor)
				}
			}
		}
		sets = append(sets, set)
	}
	return sets
}
