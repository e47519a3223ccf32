package grid

import "sync"

// Registry maps field names to descriptors. Fields are only ever added, and
// discovery order is kept for fields outside the canonical order.
type Registry struct {
	mu      sync.RWMutex
	index   map[string]int
	columns []Column
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Observe registers every field not seen before and returns how many were new.
func (r *Registry) Observe(fields ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, f := range fields {
		if _, ok := r.index[f]; ok {
			continue
		}
		r.index[f] = len(r.columns)
		r.columns = append(r.columns, Describe(f))
		added++
	}
	return added
}

// Has reports whether field has been discovered.
func (r *Registry) Has(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.index[field]
	return ok
}

// Len returns the number of discovered fields.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.columns)
}

// Columns returns a sorted copy of the descriptors.
func (r *Registry) Columns() []Column {
	r.mu.RLock()
	cols := make([]Column, len(r.columns))
	copy(cols, r.columns)
	r.mu.RUnlock()
	SortColumns(cols)
	return cols
}
