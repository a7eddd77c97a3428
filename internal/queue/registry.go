package queue

import (
	"database/sql"
	"fmt"
	"sync"
)

// Registry lazily creates and caches one Manager per queue name, all
// sharing a single *sql.DB. Every CTX-JobReq-<TYPE>, CTX-JobRes and
// CTX-Director queue in a process is obtained through one Registry so
// a frontend recursing into a type it has never seen before can still
// publish to that type's queue without the caller pre-declaring it.
type Registry struct {
	db *sql.DB

	mu       sync.Mutex
	managers map[string]*Manager
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, managers: make(map[string]*Manager)}
}

// For returns the Manager bound to queueName, creating it on first use.
func (r *Registry) For(queueName string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if mgr, ok := r.managers[queueName]; ok {
		return mgr, nil
	}
	mgr, err := NewManager(r.db, queueName)
	if err != nil {
		return nil, fmt.Errorf("queue: create manager for %s: %w", queueName, err)
	}
	r.managers[queueName] = mgr
	return mgr, nil
}
