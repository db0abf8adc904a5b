/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package renderer

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	commonconfig "github.com/NVIDIA/OSMO-sub000/pkg/common/config"
)

// Caps bounds every render call served by the pool.
type Caps struct {
	Workers     int
	MaxTime     time.Duration
	MemoryLimit int64
}

func capsFromConfig() Caps {
	return Caps{
		Workers:     commonconfig.GetRendererWorkers(),
		MaxTime:     commonconfig.GetRendererMaxTime(),
		MemoryLimit: commonconfig.GetRendererMemoryLimit(),
	}
}

// Pool is a fixed-size set of long-lived render workers. Callers borrow a
// worker per render; a worker killed by a cap violation is replaced lazily.
type Pool struct {
	caps    Caps
	binPath string

	mu      sync.Mutex
	closed  bool
	workers chan *worker
}

var (
	poolMu   sync.Mutex
	poolInst *Pool
)

// GetPool returns the singleton pool, rebuilding it transparently when the
// configured caps changed since the last call.
func GetPool() *Pool {
	poolMu.Lock()
	defer poolMu.Unlock()

	caps := capsFromConfig()
	if poolInst != nil && poolInst.caps == caps {
		return poolInst
	}
	if poolInst != nil {
		klog.Infof("renderer caps changed, rebuilding pool: %+v", caps)
		poolInst.shutdown()
	}
	poolInst = newPool(caps, commonconfig.GetRendererWorkerPath())
	return poolInst
}

func newPool(caps Caps, binPath string) *Pool {
	if caps.Workers <= 0 {
		caps.Workers = 1
	}
	p := &Pool{
		caps:    caps,
		binPath: binPath,
		workers: make(chan *worker, caps.Workers),
	}
	for i := 0; i < caps.Workers; i++ {
		p.workers <- newWorker(binPath, caps.MemoryLimit)
	}
	return p
}

// Render renders template text against the variable map under the pool's
// caps. Undefined variables are strict errors.
func (p *Pool) Render(ctx context.Context, templateText string, variables map[string]interface{}) (string, error) {
	select {
	case w, ok := <-p.workers:
		if !ok {
			// the pool was rebuilt under us; retry on the current one
			return GetPool().Render(ctx, templateText, variables)
		}
		defer p.release(w)
		return w.renderWithRecovery(
			&Request{Template: templateText, Variables: variables},
			p.caps.MaxTime, p.caps.MemoryLimit)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// release returns a borrowed worker. A worker borrowed across a shutdown is
// killed here instead of being sent on the closed channel.
func (p *Pool) release(w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.kill()
		return
	}
	p.workers <- w
}

func (p *Pool) shutdown() {
	p.mu.Lock()
	p.closed = true
	close(p.workers)
	p.mu.Unlock()
	for w := range p.workers {
		w.kill()
	}
}
