package assoc

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/pattern"
)

// pairKey identifies one ordered (source, target) pair.
type pairKey struct {
	source, target pattern.PatternID
}

// Matrix is the concurrent sparse store for association edges.
//
// Edges live in a stable-index slot slice: removing an edge tombstones
// its slot (and recycles the index for later inserts), so indices held in
// the adjacency maps stay valid until Compact rebuilds everything.
//
// Four derived indices are kept in lockstep with the slot store under the
// write lock:
//   - outgoing adjacency (source → slots, insertion order)
//   - incoming adjacency (target → slots, insertion order)
//   - direct (source, target) → slot lookup
//   - type → slots
//
// Invariant: at most one edge exists per ordered (source, target) pair.
//
// Thread Safety: lookups, propagation, and scalar strength updates run
// concurrently under the read lock; add/remove/compact take the write
// lock. Matrix never hands out live *Edge pointers; accessors return
// owned Snapshots, and in-place mutation goes through Mutate/ForEach
// callbacks that must not retain their argument.
type Matrix struct {
	mu       sync.RWMutex
	slots    []*Edge // nil entries are tombstones
	free     []int   // recyclable tombstoned slot indices
	bySource map[pattern.PatternID][]int
	byTarget map[pattern.PatternID][]int
	byPair   map[pairKey]int
	byType   map[Type][]int
	live     int

	logger *zap.Logger
}

// NewMatrix creates an empty association matrix.
// A nil logger disables logging.
func NewMatrix(logger *zap.Logger) *Matrix {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matrix{
		bySource: make(map[pattern.PatternID][]int),
		byTarget: make(map[pattern.PatternID][]int),
		byPair:   make(map[pairKey]int),
		byType:   make(map[Type][]int),
		logger:   logger.With(zap.String("component", "assoc_matrix")),
	}
}

// AddAssociation inserts an edge. It returns false (and performs no
// mutation) if an edge for the ordered (source, target) pair already
// exists or the edge references an invalid pattern ID.
func (m *Matrix) AddAssociation(e *Edge) bool {
	if e == nil || e.Source == pattern.InvalidPattern || e.Target == pattern.InvalidPattern {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{e.Source, e.Target}
	if _, exists := m.byPair[key]; exists {
		return false
	}

	idx := -1
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[idx] = e
	} else {
		idx = len(m.slots)
		m.slots = append(m.slots, e)
	}

	m.bySource[e.Source] = append(m.bySource[e.Source], idx)
	m.byTarget[e.Target] = append(m.byTarget[e.Target], idx)
	m.byPair[key] = idx
	m.byType[e.Type] = append(m.byType[e.Type], idx)
	m.live++

	m.logger.Debug("association added",
		zap.Uint64("source", uint64(e.Source)),
		zap.Uint64("target", uint64(e.Target)),
		zap.String("type", e.Type.String()),
		zap.Float64("strength", e.Strength()))
	return true
}

// GetAssociation returns an owned snapshot of the edge for the ordered
// pair, or false if no such edge exists.
func (m *Matrix) GetAssociation(source, target pattern.PatternID) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byPair[pairKey{source, target}]
	if !ok {
		return Snapshot{}, false
	}
	return m.slots[idx].snapshot(), true
}

// HasAssociation reports whether an edge exists for the ordered pair.
func (m *Matrix) HasAssociation(source, target pattern.PatternID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byPair[pairKey{source, target}]
	return ok
}

// RemoveAssociation tombstones the edge for the ordered pair and updates
// all indices. Returns false if no such edge exists.
func (m *Matrix) RemoveAssociation(source, target pattern.PatternID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(pairKey{source, target})
}

// removeLocked tombstones one edge. Caller holds the write lock.
func (m *Matrix) removeLocked(key pairKey) bool {
	idx, ok := m.byPair[key]
	if !ok {
		return false
	}
	e := m.slots[idx]

	m.slots[idx] = nil
	m.free = append(m.free, idx)
	delete(m.byPair, key)
	m.bySource[e.Source] = removeIndex(m.bySource[e.Source], idx)
	if len(m.bySource[e.Source]) == 0 {
		delete(m.bySource, e.Source)
	}
	m.byTarget[e.Target] = removeIndex(m.byTarget[e.Target], idx)
	if len(m.byTarget[e.Target]) == 0 {
		delete(m.byTarget, e.Target)
	}
	m.byType[e.Type] = removeIndex(m.byType[e.Type], idx)
	m.live--
	return true
}

// removeIndex filters one slot index out of an adjacency list, keeping
// insertion order intact.
func removeIndex(list []int, idx int) []int {
	for i, v := range list {
		if v == idx {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RemoveAllFor removes every edge touching the given pattern, in either
// direction. Returns the number of edges removed.
func (m *Matrix) RemoveAllFor(id pattern.PatternID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	// Collect keys first; removeLocked mutates the adjacency lists.
	var keys []pairKey
	for _, idx := range m.bySource[id] {
		e := m.slots[idx]
		keys = append(keys, pairKey{e.Source, e.Target})
	}
	for _, idx := range m.byTarget[id] {
		e := m.slots[idx]
		keys = append(keys, pairKey{e.Source, e.Target})
	}
	for _, key := range keys {
		if m.removeLocked(key) {
			removed++
		}
	}
	return removed
}

// RemoveWhere removes every edge the predicate matches, in a single pass
// under the write lock. Returns the number of edges removed.
func (m *Matrix) RemoveWhere(pred func(Snapshot) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []pairKey
	for _, e := range m.slots {
		if e == nil {
			continue
		}
		if pred(e.snapshot()) {
			keys = append(keys, pairKey{e.Source, e.Target})
		}
	}
	for _, key := range keys {
		m.removeLocked(key)
	}
	return len(keys)
}

// Compact physically reclaims tombstoned slots by rebuilding the slot
// store and every index from scratch. This is the only operation that
// renumbers slots; it holds the write lock for its full duration.
func (m *Matrix) Compact() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.free) == 0 {
		return
	}

	slots := make([]*Edge, 0, m.live)
	for _, e := range m.slots {
		if e != nil {
			slots = append(slots, e)
		}
	}

	m.slots = slots
	m.free = nil
	m.bySource = make(map[pattern.PatternID][]int, len(m.bySource))
	m.byTarget = make(map[pattern.PatternID][]int, len(m.byTarget))
	m.byPair = make(map[pairKey]int, len(slots))
	m.byType = make(map[Type][]int, int(numTypes))

	for idx, e := range slots {
		m.bySource[e.Source] = append(m.bySource[e.Source], idx)
		m.byTarget[e.Target] = append(m.byTarget[e.Target], idx)
		m.byPair[pairKey{e.Source, e.Target}] = idx
		m.byType[e.Type] = append(m.byType[e.Type], idx)
	}

	m.logger.Debug("matrix compacted", zap.Int("edges", len(slots)))
}

// StrengthenAssociation applies a positive bounded delta to the pair's
// strength. Returns false if the edge does not exist.
func (m *Matrix) StrengthenAssociation(source, target pattern.PatternID, delta float64) bool {
	if delta < 0 {
		delta = -delta
	}
	return m.addStrength(source, target, delta)
}

// WeakenAssociation applies a negative bounded delta to the pair's
// strength. Returns false if the edge does not exist.
func (m *Matrix) WeakenAssociation(source, target pattern.PatternID, delta float64) bool {
	if delta < 0 {
		delta = -delta
	}
	return m.addStrength(source, target, -delta)
}

func (m *Matrix) addStrength(source, target pattern.PatternID, delta float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byPair[pairKey{source, target}]
	if !ok {
		return false
	}
	m.slots[idx].AddStrength(delta)
	return true
}

// Mutate runs fn against the live edge for the ordered pair under the
// read lock. fn may update the edge's atomic scalar fields and context
// profile but MUST NOT retain the pointer after returning. Returns false
// if the edge does not exist.
func (m *Matrix) Mutate(source, target pattern.PatternID, fn func(*Edge)) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.byPair[pairKey{source, target}]
	if !ok {
		return false
	}
	fn(m.slots[idx])
	return true
}

// ForEach runs fn against every live edge under the read lock, in slot
// order. fn may update atomic scalar fields but MUST NOT retain the
// pointer. Returning false stops iteration early.
func (m *Matrix) ForEach(fn func(*Edge) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.slots {
		if e == nil {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

// ForEachOutgoing runs fn against the live outgoing edges of a pattern,
// in insertion order, under the read lock. Same retention rules as
// ForEach.
func (m *Matrix) ForEachOutgoing(id pattern.PatternID, fn func(*Edge) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, idx := range m.bySource[id] {
		if !fn(m.slots[idx]) {
			return
		}
	}
}

// ForEachIncoming runs fn against the live incoming edges of a pattern,
// in insertion order, under the read lock.
func (m *Matrix) ForEachIncoming(id pattern.PatternID, fn func(*Edge) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, idx := range m.byTarget[id] {
		if !fn(m.slots[idx]) {
			return
		}
	}
}

// MutateOutgoing runs fn once with the pattern's live outgoing edges, in
// insertion order, under the read lock. fn may update atomic scalar
// fields on any of the edges but MUST NOT retain the slice or its
// pointers after returning. Unknown patterns get an empty slice.
func (m *Matrix) MutateOutgoing(id pattern.PatternID, fn func([]*Edge)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]*Edge, 0, len(m.bySource[id]))
	for _, idx := range m.bySource[id] {
		edges = append(edges, m.slots[idx])
	}
	fn(edges)
}

// MutateIncoming is MutateOutgoing for the pattern's incoming edges.
func (m *Matrix) MutateIncoming(id pattern.PatternID, fn func([]*Edge)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]*Edge, 0, len(m.byTarget[id]))
	for _, idx := range m.byTarget[id] {
		edges = append(edges, m.slots[idx])
	}
	fn(edges)
}

// Patterns returns the IDs of every pattern touching at least one live
// edge, in ascending order.
func (m *Matrix) Patterns() []pattern.PatternID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[pattern.PatternID]struct{}, len(m.bySource)+len(m.byTarget))
	for id := range m.bySource {
		seen[id] = struct{}{}
	}
	for id := range m.byTarget {
		seen[id] = struct{}{}
	}
	ids := make([]pattern.PatternID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Outgoing returns snapshots of all outgoing edges of a pattern in
// insertion order. Unknown patterns return an empty slice.
func (m *Matrix) Outgoing(id pattern.PatternID) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indices := m.bySource[id]
	out := make([]Snapshot, 0, len(indices))
	for _, idx := range indices {
		out = append(out, m.slots[idx].snapshot())
	}
	return out
}

// Incoming returns snapshots of all incoming edges of a pattern in
// insertion order.
func (m *Matrix) Incoming(id pattern.PatternID) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indices := m.byTarget[id]
	in := make([]Snapshot, 0, len(indices))
	for _, idx := range indices {
		in = append(in, m.slots[idx].snapshot())
	}
	return in
}

// OfType returns snapshots of all edges of the given type.
func (m *Matrix) OfType(t Type) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	indices := m.byType[t]
	out := make([]Snapshot, 0, len(indices))
	for _, idx := range indices {
		out = append(out, m.slots[idx].snapshot())
	}
	return out
}

// OutDegree returns the number of outgoing edges of a pattern.
func (m *Matrix) OutDegree(id pattern.PatternID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySource[id])
}

// InDegree returns the number of incoming edges of a pattern.
func (m *Matrix) InDegree(id pattern.PatternID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTarget[id])
}

// Degree returns the total number of edges touching a pattern.
func (m *Matrix) Degree(id pattern.PatternID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySource[id]) + len(m.byTarget[id])
}

// Count returns the number of live edges.
func (m *Matrix) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// Stats is a derived, recomputed-on-read snapshot of matrix state.
// It is advisory only and may be stale the moment it returns.
type Stats struct {
	EdgeCount      int
	Tombstones     int
	CountByType    map[string]int
	AvgStrength    float64
	PatternsLinked int
}

// GetStats recomputes aggregate matrix statistics under the read lock.
func (m *Matrix) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		EdgeCount:   m.live,
		Tombstones:  len(m.free),
		CountByType: make(map[string]int, int(numTypes)),
	}

	var total float64
	for _, e := range m.slots {
		if e == nil {
			continue
		}
		stats.CountByType[e.Type.String()]++
		total += e.Strength()
	}
	if m.live > 0 {
		stats.AvgStrength = total / float64(m.live)
	}

	linked := make(map[pattern.PatternID]struct{}, len(m.bySource)+len(m.byTarget))
	for id := range m.bySource {
		linked[id] = struct{}{}
	}
	for id := range m.byTarget {
		linked[id] = struct{}{}
	}
	stats.PatternsLinked = len(linked)
	return stats
}

// checkConsistency verifies that every index agrees with the slot store.
// An inconsistency is a programming error, so it panics rather than
// returning a recoverable error.
func (m *Matrix) checkConsistency() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := 0
	for idx, e := range m.slots {
		if e == nil {
			continue
		}
		live++
		if got, ok := m.byPair[pairKey{e.Source, e.Target}]; !ok || got != idx {
			panic(fmt.Sprintf("assoc: pair index out of sync for slot %d", idx))
		}
	}
	if live != m.live {
		panic(fmt.Sprintf("assoc: live count %d != stored %d", live, m.live))
	}
}
