package wsserver

import "sync"

// Registry tracks open connections. All mutation goes through its
// mutex so handlers never observe a half-updated set.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add tracks a connection and returns the new registry size.
func (r *Registry) Add(c *Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	return len(r.conns)
}

// Remove untracks a connection. It reports whether the connection was
// present, so double removal (read-loop exit racing a broadcast
// failure) counts it only once.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	return true
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the current connections. The slice is detached so a
// broadcast sweep can remove failing peers while iterating.
func (r *Registry) Snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
