package effects

import "sync"

// Transform computes a new value from the running value of a slot.
// Transforms must be total: a panicking transform is treated as corrupted state.
type Transform[T any, C any] func(value T, ctx C) T

// Handle identifies one registered transform. The zero value is never issued.
type Handle uint64

type interceptor[T any, C any] struct {
	handle    Handle
	priority  int
	transform Transform[T, C]
}

// Interceptable is the ordered pipeline behind one modifiable attribute.
// Evaluate folds a base value through every transform in descending
// priority; transforms sharing a priority run in registration order.
type Interceptable[T any, C any] struct {
	mu      sync.RWMutex
	entries []interceptor[T, C]
	next    Handle
}

// NewInterceptable constructs an empty pipeline.
func NewInterceptable[T any, C any]() *Interceptable[T, C] {
	return &Interceptable[T, C]{}
}

// Add registers a transform and returns the handle that removes it.
func (i *Interceptable[T, C]) Add(transform Transform[T, C], priority int) Handle {
	if transform == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	i.next++
	entry := interceptor[T, C]{handle: i.next, priority: priority, transform: transform}

	idx := len(i.entries)
	for pos, existing := range i.entries {
		if existing.priority < priority {
			idx = pos
			break
		}
	}
	// copy on write; Evaluate folds over a slice it read under the lock
	entries := make([]interceptor[T, C], 0, len(i.entries)+1)
	entries = append(entries, i.entries[:idx]...)
	entries = append(entries, entry)
	i.entries = append(entries, i.entries[idx:]...)
	return entry.handle
}

// Remove unregisters the transform identified by handle.
func (i *Interceptable[T, C]) Remove(handle Handle) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for pos, entry := range i.entries {
		if entry.handle == handle {
			i.entries = append(i.entries[:pos:pos], i.entries[pos+1:]...)
			return true
		}
	}
	return false
}

// Evaluate returns the effective value for base. An empty pipeline
// returns base unchanged.
func (i *Interceptable[T, C]) Evaluate(base T, ctx C) T {
	i.mu.RLock()
	entries := i.entries
	i.mu.RUnlock()

	value := base
	for _, entry := range entries {
		value = entry.transform(value, ctx)
	}
	return value
}

// Len returns the number of registered transforms.
func (i *Interceptable[T, C]) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}
