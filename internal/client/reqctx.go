package client

import (
	"sync"
	"sync/atomic"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/protocol/frame"
)

// Callback receives every frame whose sequence number matches the context.
// On connection loss it is called once with a nil frame and final true, and
// rctx.Result reports ErrConnectionLost. Returning true unregisters the
// context after this frame.
type Callback func(f *frame.Frame, final bool, rctx *RequestContext) bool

// RequestContext is the rendezvous between a caller waiting on an exchange
// and the dispatch loop delivering its frames.
type RequestContext struct {
	onFrame Callback

	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	result error

	seqno atomic.Uint32
	owner atomic.Pointer[Client]
	// Guarded by the owner's pending lock.
	registered bool
}

func NewRequestContext(onFrame Callback) *RequestContext {
	r := &RequestContext{onFrame: onFrame}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Signal records err as the result, marks the context ready, and wakes one
// waiter.
func (r *RequestContext) Signal(err error) {
	r.mu.Lock()
	r.ready = true
	r.result = err
	r.mu.Unlock()
	r.cond.Signal()
}

// Broadcast is Signal that wakes every waiter.
func (r *RequestContext) Broadcast(err error) {
	r.mu.Lock()
	r.ready = true
	r.result = err
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Wait blocks until the context has been signaled and returns its result.
func (r *RequestContext) Wait() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.ready {
		r.cond.Wait()
	}
	return r.result
}

func (r *RequestContext) Signaled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Result reports the current result without waiting.
func (r *RequestContext) Result() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// SetResult replaces the result without waking anyone.
func (r *RequestContext) SetResult(err error) {
	r.mu.Lock()
	r.result = err
	r.mu.Unlock()
}

// SeqNo reports the sequence number the context was registered under.
func (r *RequestContext) SeqNo() uint32 {
	return r.seqno.Load()
}

// Destroy releases the context. It fails with ErrContextRegistered while the
// dispatch loop may still deliver frames to it. Do not call it from a
// callback.
func (r *RequestContext) Destroy() error {
	c := r.owner.Load()
	if c == nil {
		return nil
	}
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if r.registered {
		return ErrContextRegistered
	}
	r.owner.Store(nil)
	return nil
}

// signalLost wakes waiters that a loss callback left asleep.
func (r *RequestContext) signalLost() {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return
	}
	r.ready = true
	r.result = ErrConnectionLost
	r.mu.Unlock()
	r.cond.Broadcast()
}
