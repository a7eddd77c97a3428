package frontend

import (
	"sync"

	"github.com/ternarybob/ctxpipe/internal/ctxmodel"
)

// WaitRegistry correlates a child job's eventual ChildResult back to
// whichever Manager published it, within one process. Every configured
// object type's Manager shares one WaitRegistry: a root submission's
// correlation id is never registered here (nothing published it
// internally), so Resolve reports "no waiter" for it and the Manager
// that aggregates the root knows to publish to CTX-JobRes instead of
// handing the result to a parent.
type WaitRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan ctxmodel.ChildResult
}

func NewWaitRegistry() *WaitRegistry {
	return &WaitRegistry{waiters: make(map[string]chan ctxmodel.ChildResult)}
}

// Register must be called before the child job is published, so that
// a fast-finishing child can never resolve before anyone is listening.
func (r *WaitRegistry) Register(correlationID string) <-chan ctxmodel.ChildResult {
	ch := make(chan ctxmodel.ChildResult, 1)
	r.mu.Lock()
	r.waiters[correlationID] = ch
	r.mu.Unlock()
	return ch
}

// Resolve delivers result to the registered waiter, if any, and
// reports whether one was found. A correlation id with no waiter means
// this job is a work root, published directly by the endpoint.
func (r *WaitRegistry) Resolve(correlationID string, result ctxmodel.ChildResult) bool {
	r.mu.Lock()
	ch, ok := r.waiters[correlationID]
	if ok {
		delete(r.waiters, correlationID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	close(ch)
	return true
}

// Abandon removes a registered waiter without resolving it, used when
// a job is given up on (timeout, terminal error) so its slot does not
// leak forever.
func (r *WaitRegistry) Abandon(correlationID string) {
	r.mu.Lock()
	delete(r.waiters, correlationID)
	r.mu.Unlock()
}

func (r *WaitRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
