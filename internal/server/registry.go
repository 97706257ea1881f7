package server

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"tarot/internal/distribution"
)

// Registry owns every open table of one process.
type Registry struct {
	mu     sync.RWMutex
	cfg    TableConfig
	dists  *distribution.Registry
	sched  Scheduler
	tables map[string]*Table
}

func NewRegistry(cfg TableConfig, dists *distribution.Registry, sched Scheduler) *Registry {
	if dists == nil {
		dists = distribution.NewRegistry()
	}
	return &Registry{cfg: cfg, dists: dists, sched: sched, tables: make(map[string]*Table)}
}

// Open returns the table with id, creating it if needed. An empty id makes a
// new table with a generated id.
func (r *Registry) Open(id string) *Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if t, ok := r.tables[id]; ok {
		return t
	}
	t := NewTable(id, r.cfg, r.dists, r.sched)
	t.onClosed = r.Remove
	r.tables[id] = t
	return t
}

func (r *Registry) Table(id string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[id]
	return t, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	t, ok := r.tables[id]
	delete(r.tables, id)
	r.mu.Unlock()
	if ok {
		t.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tables))
	for id := range r.tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Distributions() *distribution.Registry { return r.dists }

// Close shuts every table down.
func (r *Registry) Close() {
	r.mu.Lock()
	tables := r.tables
	r.tables = make(map[string]*Table)
	r.mu.Unlock()
	for _, t := range tables {
		t.Close()
	}
}
