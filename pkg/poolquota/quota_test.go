/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package poolquota

import (
	"testing"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
)

func gpuNode(backend, hostname string, gpus int64, pools ...interface{}) *v1.ResourceEntry {
	return &v1.ResourceEntry{
		Backend:  backend,
		Hostname: hostname,
		Allocatable: corev1.ResourceList{
			GpuResourceName: *resource.NewQuantity(gpus, resource.DecimalSI),
		},
		ExposedFields: map[string]interface{}{
			v1.PoolPlatformField: pools,
		},
	}
}

func quotaPool(guarantee int64) *v1.Pool {
	return &v1.Pool{
		Backend:   "cluster-a",
		Resources: v1.PoolResources{GPU: v1.QuotaSpec{Guarantee: guarantee, Maximum: v1.UnboundedQuota}},
	}
}

func TestSinglePoolSingleNodeNoTasks(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(8)}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx"),
	})

	quota := report.Pools["a"]
	assert.Equal(t, quota.QuotaLimit, int64(8))
	assert.Equal(t, quota.QuotaUsed, int64(0))
	assert.Equal(t, quota.QuotaFree, int64(8))
	assert.Equal(t, quota.TotalCapacity, int64(8))
	assert.Equal(t, quota.TotalFree, int64(8))
	assert.Equal(t, report.ResourceSum.TotalCapacity, int64(8))
	assert.Equal(t, report.ResourceSum.TotalFree, int64(8))
}

func TestSharedNodeMergesPoolsIntoOneNodeset(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(4), "b": quotaPool(4)}
	node := gpuNode("cluster-a", "node-1", 8, "a/dgx", "b/hgx")
	node.Usage = 2
	summaries := []*dbclient.TaskSummary{
		{Pool: "a", Priority: string(v1.PriorityNormal), Gpu: 2},
	}

	report := Compute(pools, summaries, []*v1.ResourceEntry{node})

	// both pools see the shared nodeset identically
	for _, name := range []string{"a", "b"} {
		assert.Equal(t, report.Pools[name].TotalCapacity, int64(8))
		assert.Equal(t, report.Pools[name].TotalFree, int64(6))
	}
	assert.Equal(t, report.Pools["a"].QuotaUsed, int64(2))
	assert.Equal(t, report.Pools["b"].QuotaUsed, int64(0))
	// shared capacity counted once, not per pool
	assert.Equal(t, report.ResourceSum.TotalCapacity, int64(8))
	assert.Equal(t, report.ResourceSum.TotalFree, int64(6))
}

func TestPreemptibleExcludedFromQuota(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(8)}
	node := gpuNode("cluster-a", "node-1", 8, "a/dgx")
	node.Usage = 6
	summaries := []*dbclient.TaskSummary{
		{Pool: "a", Priority: string(v1.PriorityLow), Gpu: 2},
		{Pool: "a", Priority: string(v1.PriorityNormal), Gpu: 4},
	}

	report := Compute(pools, summaries, []*v1.ResourceEntry{node})

	quota := report.Pools["a"]
	assert.Equal(t, quota.QuotaUsed, int64(4))
	assert.Equal(t, quota.TotalUsage, int64(6))
	assert.Equal(t, quota.QuotaFree, int64(4))
	assert.Equal(t, quota.TotalFree, int64(2))
}

func TestUnboundedGuaranteeResolvesToNodesetAllocatable(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(v1.UnboundedQuota)}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx"),
		gpuNode("cluster-a", "node-2", 8, "a/dgx"),
	})

	assert.Equal(t, report.Pools["a"].QuotaLimit, int64(16))
	assert.Equal(t, report.Pools["a"].QuotaFree, int64(16))
}

func TestDuplicateNodeEntriesDeduplicated(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(v1.UnboundedQuota)}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx"),
		gpuNode("cluster-a", "node-1", 8, "a/dgx"),
		// same hostname on another backend is a distinct node
		gpuNode("cluster-b", "node-1", 8, "a/dgx"),
	})

	assert.Equal(t, report.ResourceSum.TotalCapacity, int64(16))
}

func TestUnknownPoolReferenceSkipped(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(8)}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx", "retired/dgx"),
	})

	_, found := report.Pools["retired"]
	assert.Assert(t, !found)
	assert.Equal(t, report.Pools["a"].TotalCapacity, int64(8))
}

func TestTransitiveNodesetMerge(t *testing.T) {
	// a and c never share a node but both share one with b, so all three
	// land in one nodeset
	pools := map[string]*v1.Pool{
		"a": quotaPool(4), "b": quotaPool(4), "c": quotaPool(4),
	}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx", "b/dgx"),
		gpuNode("cluster-a", "node-2", 8, "b/dgx", "c/dgx"),
	})

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, report.Pools[name].TotalCapacity, int64(16))
	}
	assert.Equal(t, report.ResourceSum.TotalCapacity, int64(16))
}

func TestDisjointPoolsSumIndependently(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(8), "b": quotaPool(4)}
	report := Compute(pools, nil, []*v1.ResourceEntry{
		gpuNode("cluster-a", "node-1", 8, "a/dgx"),
		gpuNode("cluster-b", "node-1", 4, "b/hgx"),
	})

	assert.Equal(t, report.Pools["a"].TotalCapacity, int64(8))
	assert.Equal(t, report.Pools["b"].TotalCapacity, int64(4))
	assert.Equal(t, report.ResourceSum.TotalCapacity, int64(12))
}

func TestPoolWithoutNodesStillReported(t *testing.T) {
	pools := map[string]*v1.Pool{"a": quotaPool(8)}
	summaries := []*dbclient.TaskSummary{
		{Pool: "a", Priority: string(v1.PriorityNormal), Gpu: 2},
	}

	report := Compute(pools, summaries, nil)

	quota := report.Pools["a"]
	assert.Equal(t, quota.TotalCapacity, int64(0))
	assert.Equal(t, quota.QuotaUsed, int64(2))
	assert.Equal(t, quota.QuotaFree, int64(6))
}
