package memory

import (
	"sort"
	"sync"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/storage"
)

// arena holds objects keyed by address and hands out copies, so callers
// can never mutate stored state in place.
type arena[T any] struct {
	mu    sync.RWMutex
	data  map[domain.Address]*T
	key   func(*T) domain.Address
	clone func(*T) *T
}

func newArena[T any](key func(*T) domain.Address, clone func(*T) *T) *arena[T] {
	return &arena[T]{
		data:  make(map[domain.Address]*T),
		key:   key,
		clone: clone,
	}
}

func (a *arena[T]) insert(v *T) error {
	if v == nil {
		return storage.ErrInvalidInput
	}
	k := a.key(v)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.data[k]; ok {
		return storage.ErrDuplicateKey
	}
	a.data[k] = a.clone(v)
	return nil
}

func (a *arena[T]) update(v *T) error {
	if v == nil {
		return storage.ErrInvalidInput
	}
	k := a.key(v)

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.data[k]; !ok {
		return storage.ErrNotFound
	}
	a.data[k] = a.clone(v)
	return nil
}

func (a *arena[T]) get(k domain.Address) (*T, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.data[k]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return a.clone(v), nil
}

// filter returns copies of matching objects sorted by less.
func (a *arena[T]) filter(match func(*T) bool, less func(x, y *T) bool) []*T {
	a.mu.RLock()
	out := make([]*T, 0, len(a.data))
	for _, v := range a.data {
		if match == nil || match(v) {
			out = append(out, a.clone(v))
		}
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func addressLess(x, y domain.Address) bool {
	for i := range x {
		if x[i] != y[i] {
			return x[i] < y[i]
		}
	}
	return false
}
