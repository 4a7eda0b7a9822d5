// Package handles maps uintptr ids to Go values so that a value can travel
// through native code as opaque user data (a void* callback argument) and be
// recovered on the other side.
//
// Go pointers must not be stored in memory owned by the driver or a host
// runtime; the id stands in for the pointer, and the Table keeps the value
// reachable until it is unregistered.
package handles

import "sync"

// Table is a registry of values of type T keyed by non-zero ids.
// The zero Table is ready to use. Safe for concurrent use.
type Table[T any] struct {
	mu     sync.RWMutex
	values map[uintptr]T
	nextID uintptr
}

// Register stores v and returns its id. Ids are never 0 and never reused.
func (t *Table[T]) Register(v T) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.values == nil {
		t.values = make(map[uintptr]T)
	}
	t.nextID++
	t.values[t.nextID] = v
	return t.nextID
}

// Lookup returns the value registered under id.
func (t *Table[T]) Lookup(id uintptr) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.values[id]
	return v, ok
}

// Unregister removes id and reports whether it was registered.
// After Unregister the value is no longer kept alive by the table.
func (t *Table[T]) Unregister(id uintptr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.values[id]; !ok {
		return false
	}
	delete(t.values, id)
	return true
}

// Len returns the number of registered values.
// Useful for leak checks in tests.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.values)
}
