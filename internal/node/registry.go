package node

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/sensornet/internal/ir"
)

// Registry maps the TaskID of each query running on a node to its task.
// TransmitResult decoding and execution use it to find the owning query.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	queries map[ir.TaskID]*QueryTask
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queries: make(map[ir.TaskID]*QueryTask)}
}

// Register adds q. Registering a second task under the same ID fails.
func (r *Registry) Register(q *QueryTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := q.Details().ID
	if _, ok := r.queries[id]; ok {
		return fmt.Errorf("register query %s: already registered", id)
	}
	r.queries[id] = q
	return nil
}

// Unregister removes the query; unknown IDs are ignored.
func (r *Registry) Unregister(id ir.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queries, id)
}

// Lookup returns the query registered under id, or an ErrCodeNotFound error.
func (r *Registry) Lookup(id ir.TaskID) (*QueryTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queries[id]
	if !ok {
		return nil, ir.NotFound(id)
	}
	return q, nil
}

// IDs returns the registered query IDs in (query, origin, seq) order.
func (r *Registry) IDs() []ir.TaskID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ir.TaskID, 0, len(r.queries))
	for id := range r.queries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareTaskIDs)
	return ids
}

// Len returns the number of registered queries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queries)
}

func compareTaskIDs(a, b ir.TaskID) int {
	if c := cmp.Compare(a.QueryID, b.QueryID); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Origin, b.Origin); c != 0 {
		return c
	}
	return cmp.Compare(a.Seq, b.Seq)
}
