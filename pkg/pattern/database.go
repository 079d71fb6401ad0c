package pattern

import (
	"errors"
	"sync"
	"time"
)

// Common database errors.
var (
	ErrNotFound      = errors.New("pattern: not found")
	ErrAlreadyExists = errors.New("pattern: already exists")
	ErrInvalidID     = errors.New("pattern: invalid id")
	ErrInvalidData   = errors.New("pattern: invalid data")
	ErrClosed        = errors.New("pattern: database closed")
)

// Database is the pluggable key-value store patterns live in.
//
// All implementations MUST be thread-safe and MUST hand out copies so
// callers can never mutate stored state behind the database's back.
//
// Implementations:
//   - MemoryDatabase: RWMutex-guarded map, for hot tiers and tests
//   - BadgerDatabase: persistent disk store, for cold/archive tiers
type Database interface {
	// Store inserts a new pattern. Fails with ErrAlreadyExists if the ID
	// is taken.
	Store(p *Pattern) error

	// Retrieve returns a copy of the pattern, or ErrNotFound.
	Retrieve(id PatternID) (*Pattern, error)

	// Update replaces an existing pattern. Fails with ErrNotFound if the
	// ID is unknown.
	Update(p *Pattern) error

	// Delete removes a pattern. Deleting an unknown ID is a no-op.
	Delete(id PatternID) error

	// Count returns the number of stored patterns.
	Count() int64

	// IDs returns a snapshot of all stored pattern IDs in unspecified
	// order.
	IDs() []PatternID

	// Close releases resources. Further calls fail with ErrClosed.
	Close() error
}

// MemoryDatabase is a thread-safe in-memory pattern store.
//
// Use for the hot (Active/Warm) tiers, unit tests, and small datasets.
// Lookups are O(1); memory is bounded only by what the lifecycle manager
// prunes.
type MemoryDatabase struct {
	mu       sync.RWMutex
	patterns map[PatternID]*Pattern
	closed   bool
}

// NewMemoryDatabase creates an empty in-memory pattern store.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{
		patterns: make(map[PatternID]*Pattern),
	}
}

// Store inserts a new pattern, deep-copying it to prevent external
// mutation.
func (m *MemoryDatabase) Store(p *Pattern) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == InvalidPattern {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.patterns[p.ID]; exists {
		return ErrAlreadyExists
	}

	stored := p.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()
	m.patterns[p.ID] = stored
	return nil
}

// Retrieve returns a copy of the pattern with the given ID.
func (m *MemoryDatabase) Retrieve(id PatternID) (*Pattern, error) {
	if id == InvalidPattern {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	p, exists := m.patterns[id]
	if !exists {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Update replaces an existing pattern.
func (m *MemoryDatabase) Update(p *Pattern) error {
	if p == nil {
		return ErrInvalidData
	}
	if p.ID == InvalidPattern {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	existing, exists := m.patterns[p.ID]
	if !exists {
		return ErrNotFound
	}

	stored := p.Clone()
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	m.patterns[p.ID] = stored
	return nil
}

// Delete removes a pattern. Unknown IDs are ignored.
func (m *MemoryDatabase) Delete(id PatternID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.patterns, id)
	return nil
}

// Count returns the number of stored patterns.
func (m *MemoryDatabase) Count() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.patterns))
}

// IDs returns a snapshot of all stored pattern IDs.
func (m *MemoryDatabase) IDs() []PatternID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]PatternID, 0, len(m.patterns))
	for id := range m.patterns {
		ids = append(ids, id)
	}
	return ids
}

// Close marks the database closed. Data is discarded with the process.
func (m *MemoryDatabase) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
