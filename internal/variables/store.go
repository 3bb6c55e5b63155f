// Package variables holds per-worker state that ops read and write while
// they run, such as values captured from one op for use by the next.
package variables

import (
	"regexp"
	"sync"
)

// Store is a worker's variable map.
type Store interface {
	// Set stores a variable with the given key and value.
	Set(key, value string)

	// Get retrieves a variable by key. Returns (value, true) if found,
	// or ("", false) if the key is not present.
	Get(key string) (string, bool)

	// GetAll returns a copy of all stored variables.
	GetAll() map[string]string

	// Clear removes all stored variables.
	Clear()
}

// MemoryStore is a map-backed Store. Each worker owns one, so it takes no
// locks.
type MemoryStore struct {
	variables map[string]string
}

// NewStore creates an empty MemoryStore.
func NewStore() Store {
	return &MemoryStore{variables: make(map[string]string)}
}

func (m *MemoryStore) Set(key, value string) { m.variables[key] = value }

func (m *MemoryStore) Get(key string) (string, bool) {
	value, ok := m.variables[key]
	return value, ok
}

func (m *MemoryStore) GetAll() map[string]string {
	result := make(map[string]string, len(m.variables))
	for key, value := range m.variables {
		result[key] = value
	}
	return result
}

func (m *MemoryStore) Clear() { clear(m.variables) }

// Arena hands out one Store per worker slot. A slot keeps its store for
// the life of the arena so a worker that replaces a retired one in the
// same slot sees the same variables.
type Arena struct {
	mu     sync.Mutex
	stores []Store
}

// NewArena returns an empty arena.
func NewArena() *Arena { return &Arena{} }

// Slot returns the store for slot, creating it on first use.
func (a *Arena) Slot(slot int) Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.stores) <= slot {
		a.stores = append(a.stores, nil)
	}
	if a.stores[slot] == nil {
		a.stores[slot] = NewStore()
	}
	return a.stores[slot]
}

// Len is the number of slots allocated so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stores)
}

var placeholderRegex = regexp.MustCompile(`\{\{([^}|]+)(?:\|([^}]*))?\}\}`)

// HasPlaceholders reports whether s contains a {{name}} reference.
func HasPlaceholders(s string) bool {
	return placeholderRegex.MatchString(s)
}

// Expand replaces {{name}} and {{name|default}} with values from store.
// Unknown names without a default are left as they are.
func Expand(s string, store Store) string {
	if store == nil || !HasPlaceholders(s) {
		return s
	}
	return placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderRegex.FindStringSubmatch(match)
		if val, ok := store.Get(parts[1]); ok {
			return val
		}
		if len(match) > len(parts[1])+4 {
			return parts[2]
		}
		return match
	})
}
