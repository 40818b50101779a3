package lvar

import (
	"sort"
	"sync"
)

// VariableID is the sequential id assigned to a variable name. Ids start at
// FirstID and are never reused until the registry is cleared.
type VariableID uint32

const FirstID VariableID = 1

// Record is the value store entry for one registered variable.
type Record struct {
	ID      VariableID `json:"id"`
	Name    string     `json:"name"`
	Value   float64    `json:"value"`
	Updated bool       `json:"updated"`
}

// Registry maps names to ids and ids to records. Both maps and the id
// allocator share one mutex that is only held for map operations.
type Registry struct {
	mu      sync.Mutex
	byName  map[string]VariableID
	records map[VariableID]*Record
	nextID  VariableID
}

func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]VariableID),
		records: make(map[VariableID]*Record),
		nextID:  FirstID,
	}
}

// Ensure returns the id for name, allocating one if the name is new.
// created reports whether this call allocated the id.
func (r *Registry) Ensure(name string) (id VariableID, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(name)
}

func (r *Registry) ensureLocked(name string) (VariableID, bool) {
	if id, ok := r.byName[name]; ok {
		return id, false
	}
	id := r.nextID
	r.nextID++
	r.byName[name] = id
	r.records[id] = &Record{ID: id, Name: name}
	return id, true
}

// Peek returns the last received value of name in one critical section.
// known is false when the name has no id.
func (r *Registry) Peek(name string) (id VariableID, value float64, ready, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, known = r.byName[name]
	if !known {
		return 0, 0, false, false
	}
	if rec := r.records[id]; rec != nil && rec.Updated {
		return id, rec.Value, true, true
	}
	return id, 0, false, true
}

// Lookup returns the id registered for name.
func (r *Registry) Lookup(name string) (VariableID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Value returns the stored value for id. ok is false if the id is unknown.
func (r *Registry) Value(id VariableID) (value float64, updated, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return 0, false, false
	}
	return rec.Value, rec.Updated, true
}

// Store records a received value. Returns false if the id is unknown.
func (r *Registry) Store(id VariableID, value float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return false
	}
	rec.Value = value
	rec.Updated = true
	return true
}

// Clear drops every record and resets the id allocator. Returns the number
// of records removed.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.records)
	r.byName = make(map[string]VariableID)
	r.records = make(map[VariableID]*Record)
	r.nextID = FirstID
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Snapshot returns copies of all records ordered by id.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
