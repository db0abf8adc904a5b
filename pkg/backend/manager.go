/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// Manager tracks registered backends and their heartbeats, and answers the
// node-list queries admission and the quota engine make.
type Manager struct {
	mu         sync.RWMutex
	backends   map[string]Interface
	heartbeats map[string]time.Time
	pools      PoolSource
}

func NewManager(pools PoolSource) *Manager {
	return &Manager{
		backends:   map[string]Interface{},
		heartbeats: map[string]time.Time{},
		pools:      pools,
	}
}

func (m *Manager) Register(backend Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[backend.Name()] = backend
}

func (m *Manager) Get(name string) (Interface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	backend, ok := m.backends[name]
	if !ok {
		return nil, commonerrors.NewNotFound("Backend", name)
	}
	return backend, nil
}

// MarkHeartbeat records a heartbeat event from the backend's stream.
func (m *Manager) MarkHeartbeat(name string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats[name] = at
}

// Online applies the two-minute heartbeat window; maintenance mode keeps a
// backend addressable regardless.
func (m *Manager) Online(name string, now time.Time, enableMaintenance bool) bool {
	m.mu.RLock()
	last := m.heartbeats[name]
	m.mu.RUnlock()
	settings := &v1.Backend{Name: name, LastHeartbeat: last}
	return settings.Online(now, enableMaintenance)
}

// OfflineBackends returns the registered backends outside their heartbeat
// window.
func (m *Manager) OfflineBackends(now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var offline []string
	for name := range m.backends {
		settings := &v1.Backend{Name: name, LastHeartbeat: m.heartbeats[name]}
		if !settings.Online(now, false) {
			offline = append(offline, name)
		}
	}
	return offline
}

// ListPoolNodes returns the nodes assigned to the pool (optionally narrowed
// to one platform), as derived by the pool's backend.
func (m *Manager) ListPoolNodes(ctx context.Context, poolName, platform string) ([]*v1.ResourceEntry, error) {
	pools, err := m.pools.Pools(ctx)
	if err != nil {
		return nil, err
	}
	pool, ok := pools[poolName]
	if !ok {
		return nil, commonerrors.NewNotFound("Pool", poolName)
	}
	backend, err := m.Get(pool.Backend)
	if err != nil {
		return nil, err
	}
	if !m.Online(pool.Backend, time.Now(), pool.EnableMaintenance) {
		return nil, commonerrors.NewBackendOffline(fmt.Sprintf(
			"backend %s has not sent a heartbeat within %s", pool.Backend, v1.HeartbeatTimeout))
	}
	entries, err := backend.GetResources(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*v1.ResourceEntry
	for _, entry := range entries {
		if entryInPool(entry, poolName, platform) {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

// AllResources concatenates node snapshots across every registered backend
// for the quota engine. Offline backends are skipped, not fatal.
func (m *Manager) AllResources(ctx context.Context) ([]*v1.ResourceEntry, error) {
	m.mu.RLock()
	backends := make([]Interface, 0, len(m.backends))
	for _, backend := range m.backends {
		backends = append(backends, backend)
	}
	m.mu.RUnlock()

	var entries []*v1.ResourceEntry
	for _, backend := range backends {
		snapshot, err := backend.GetResources(ctx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, snapshot...)
	}
	return entries, nil
}

func entryInPool(entry *v1.ResourceEntry, pool, platform string) bool {
	raw, ok := entry.ExposedFields[v1.PoolPlatformField]
	if !ok {
		return false
	}
	list, ok := raw.([]interface{})
	if !ok {
		return false
	}
	want := pool + "/"
	if platform != "" {
		want = pool + "/" + platform
	}
	for _, item := range list {
		pair := fmt.Sprintf("%v", item)
		if platform == "" {
			if strings.HasPrefix(pair, want) {
				return true
			}
		} else if pair == want {
			return true
		}
	}
	return false
}
