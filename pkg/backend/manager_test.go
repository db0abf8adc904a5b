/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backend

import (
	"context"
	"testing"
	"time"

	"gotest.tools/assert"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
)

type stubBackend struct {
	name    string
	entries []*v1.ResourceEntry
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) ApplyCleanupSpecs(context.Context, []v1.CleanupSpec,
	[]*unstructured.Unstructured) error {
	return nil
}

func (s *stubBackend) ListenEvents(context.Context) (<-chan *Event, error) {
	events := make(chan *Event)
	close(events)
	return events, nil
}

func (s *stubBackend) GetResources(context.Context) ([]*v1.ResourceEntry, error) {
	return s.entries, nil
}

func poolEntry(backend, hostname string, memberships ...interface{}) *v1.ResourceEntry {
	return &v1.ResourceEntry{
		Backend:  backend,
		Hostname: hostname,
		ExposedFields: map[string]interface{}{
			v1.PoolPlatformField: memberships,
		},
	}
}

func testManager() *Manager {
	pools := staticPools{
		"train": {Backend: "cluster-a", Platforms: map[string]v1.Platform{"dgx": {}, "hgx": {}}},
	}
	manager := NewManager(pools)
	manager.Register(&stubBackend{
		name: "cluster-a",
		entries: []*v1.ResourceEntry{
			poolEntry("cluster-a", "node-1", "train/dgx"),
			poolEntry("cluster-a", "node-2", "train/hgx"),
			poolEntry("cluster-a", "node-3", "infer/dgx"),
		},
	})
	return manager
}

func TestListPoolNodesFiltersByMembership(t *testing.T) {
	manager := testManager()
	manager.MarkHeartbeat("cluster-a", time.Now())

	nodes, err := manager.ListPoolNodes(context.Background(), "train", "")
	assert.NilError(t, err)
	assert.Equal(t, len(nodes), 2)

	nodes, err = manager.ListPoolNodes(context.Background(), "train", "dgx")
	assert.NilError(t, err)
	assert.Equal(t, len(nodes), 1)
	assert.Equal(t, nodes[0].Hostname, "node-1")
}

func TestListPoolNodesUnknownPool(t *testing.T) {
	manager := testManager()

	_, err := manager.ListPoolNodes(context.Background(), "missing", "")
	assert.ErrorContains(t, err, "not found")
}

func TestListPoolNodesRequiresLiveHeartbeat(t *testing.T) {
	manager := testManager()

	_, err := manager.ListPoolNodes(context.Background(), "train", "")
	assert.ErrorContains(t, err, "heartbeat")

	manager.MarkHeartbeat("cluster-a", time.Now().Add(-3*time.Minute))
	_, err = manager.ListPoolNodes(context.Background(), "train", "")
	assert.ErrorContains(t, err, "heartbeat")

	manager.MarkHeartbeat("cluster-a", time.Now())
	_, err = manager.ListPoolNodes(context.Background(), "train", "")
	assert.NilError(t, err)
}

func TestMaintenanceOverridesHeartbeat(t *testing.T) {
	pools := staticPools{
		"train": {Backend: "cluster-a", EnableMaintenance: true,
			Platforms: map[string]v1.Platform{"dgx": {}}},
	}
	manager := NewManager(pools)
	manager.Register(&stubBackend{name: "cluster-a", entries: []*v1.ResourceEntry{
		poolEntry("cluster-a", "node-1", "train/dgx"),
	}})

	nodes, err := manager.ListPoolNodes(context.Background(), "train", "")
	assert.NilError(t, err)
	assert.Equal(t, len(nodes), 1)
}

func TestOnlineWindow(t *testing.T) {
	manager := NewManager(nil)
	now := time.Now()

	assert.Assert(t, !manager.Online("cluster-a", now, false))
	manager.MarkHeartbeat("cluster-a", now.Add(-time.Minute))
	assert.Assert(t, manager.Online("cluster-a", now, false))
	manager.MarkHeartbeat("cluster-a", now.Add(-3*time.Minute))
	assert.Assert(t, !manager.Online("cluster-a", now, false))
	assert.Assert(t, manager.Online("cluster-a", now, true))
}
