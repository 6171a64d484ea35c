package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Guard serializes all processing for a single conversation while letting
// different conversations proceed concurrently. Entries are refcounted and
// removed once idle so the registry never leaks.
type Guard struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*guardEntry
}

type guardEntry struct {
	mu   sync.Mutex
	refs int
}

// NewGuard creates an empty guard registry.
func NewGuard() *Guard {
	return &Guard{locks: make(map[uuid.UUID]*guardEntry)}
}

// Lock acquires the per-conversation mutex, blocking until any in-flight
// pipeline pass for the same conversation completes.
func (g *Guard) Lock(convID uuid.UUID) {
	g.mu.Lock()
	entry, ok := g.locks[convID]
	if !ok {
		entry = &guardEntry{}
		g.locks[convID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the per-conversation mutex and drops the registry entry
// when no other goroutine is waiting on it.
func (g *Guard) Unlock(convID uuid.UUID) {
	g.mu.Lock()
	entry, ok := g.locks[convID]
	if !ok {
		g.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(g.locks, convID)
	}
	g.mu.Unlock()

	entry.mu.Unlock()
}

// Len reports the number of live entries. Used by tests to assert no leaks.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
