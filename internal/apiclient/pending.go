package apiclient

import (
	"context"
	"sync"
)

// pendingPool tracks the cancel funcs of in-flight route-scoped requests so
// they can be aborted in bulk on navigation. Each entry is removed when its
// request settles; removal is idempotent so a late settlement after a bulk
// cancel is harmless.
type pendingPool struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelFunc
}

func newPendingPool() *pendingPool {
	return &pendingPool{
		cancels: make(map[uint64]context.CancelFunc),
	}
}

// add registers a cancel func and returns its handle.
func (p *pendingPool) add(cancel context.CancelFunc) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	handle := p.next
	p.cancels[handle] = cancel
	return handle
}

// remove deregisters a handle. Safe to call for handles already removed.
func (p *pendingPool) remove(handle uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cancels, handle)
}

// cancelAll aborts every pending request and clears the pool. Returns the
// number of requests canceled.
func (p *pendingPool) cancelAll() int {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = make(map[uint64]context.CancelFunc)
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// size returns the number of currently pending requests.
func (p *pendingPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}
