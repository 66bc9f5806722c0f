package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

// worker holds one user's discovered tool catalog. Workers are cheap; the
// cap exists to bound orchestrator fan-out, not process memory.
type worker struct {
	userID   string
	tools    []models.ToolDescriptor
	lastUsed time.Time
}

// Pool maintains per-user workers with idle eviction. When the pool is at
// capacity, callers degrade to the shared catalog instead of failing.
type Pool struct {
	mu          sync.Mutex
	workers     map[string]*worker
	max         int
	idleTimeout time.Duration
	logger      *observability.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewPool creates the pool and starts the sweep loop.
func NewPool(max int, idleTimeout, sweepInterval time.Duration, logger *observability.Logger) *Pool {
	p := &Pool{
		workers:     make(map[string]*worker),
		max:         max,
		idleTimeout: idleTimeout,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	go p.sweepLoop(sweepInterval)
	return p
}

// Acquire returns the user's worker, creating one when capacity allows.
// A nil return means the pool is full; the caller uses the shared catalog.
func (p *Pool) Acquire(userID string) *worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.workers[userID]; ok {
		w.lastUsed = time.Now()
		return w
	}
	if len(p.workers) >= p.max {
		return nil
	}
	w := &worker{userID: userID, lastUsed: time.Now()}
	p.workers[userID] = w
	return w
}

// SetTools replaces the worker's cached catalog.
func (p *Pool) SetTools(userID string, tools []models.ToolDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[userID]; ok {
		w.tools = tools
		w.lastUsed = time.Now()
	}
}

// Tools returns the worker's cached catalog, or nil when absent.
func (p *Pool) Tools(userID string) []models.ToolDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[userID]
	if !ok {
		return nil
	}
	w.lastUsed = time.Now()
	return w.tools
}

// Size reports the live worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop halts the sweep loop.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Pool) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if evicted := p.sweep(time.Now()); evicted > 0 {
				p.logger.Debug(context.Background(), "evicted idle tool workers",
					"count", evicted)
			}
		}
	}
}

// sweep drops workers idle longer than the timeout and returns the count.
func (p *Pool) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for id, w := range p.workers {
		if now.Sub(w.lastUsed) > p.idleTimeout {
			delete(p.workers, id)
			evicted++
		}
	}
	return evicted
}
