// Package state implements the service-scoped key-value bag shared between
// lifecycle hooks and request handlers.
package state

import "sync"

// Bag is safe under unsynchronized multi-writer access: reads and writes
// never corrupt the structure. Races between writers resolve last-write-wins
// and are the callers' concern.
type Bag struct {
	mu sync.RWMutex
	m  map[string]any
}

func NewBag() *Bag {
	return &Bag{m: map[string]any{}}
}

func (b *Bag) Get(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.m[key]
	return v, ok
}

func (b *Bag) GetString(key string) string {
	v, ok := b.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (b *Bag) Set(key string, value any) {
	b.mu.Lock()
	b.m[key] = value
	b.mu.Unlock()
}

func (b *Bag) Delete(key string) {
	b.mu.Lock()
	delete(b.m, key)
	b.mu.Unlock()
}

func (b *Bag) Has(key string) bool {
	_, ok := b.Get(key)
	return ok
}
