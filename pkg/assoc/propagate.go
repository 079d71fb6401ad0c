package assoc

import (
	"sort"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Activation is one pattern reached by spreading activation, with the
// activation level it received.
type Activation struct {
	Pattern    pattern.PatternID
	Activation float64
}

// PropagateActivation spreads activation outward from source through the
// association graph, breadth first.
//
// At hop h, a node's incoming activation is the parent's activation
// multiplied by the connecting edge's strength (or contextual strength
// when a context is supplied). A node is expanded further only if its
// received activation is at least minActivation and fewer than maxHops
// hops have been taken.
//
// When a node is reachable over multiple paths its activation is the
// MAXIMUM over all paths, never the sum; summing would let dense graphs
// amplify activation without bound. A per-call visited set prevents
// re-expansion of nodes already expanded at an earlier hop.
//
// The result contains every node reached (excluding the source itself),
// sorted by activation descending; ties keep discovery order, so the
// output is deterministic for a fixed graph.
//
// Unknown sources, non-positive activation, and zero hops all return an
// empty result; the call never fails.
//
// This is the hottest path in the substrate: the per-hop frontier reuses
// its backing slices and the whole traversal runs under a single read
// lock acquisition.
func (m *Matrix) PropagateActivation(source pattern.PatternID, initial float64, maxHops int, minActivation float64, context map[string]float64) []Activation {
	if initial <= 0 || maxHops <= 0 {
		return nil
	}
	if minActivation < 0 {
		minActivation = 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.bySource[source]) == 0 {
		return nil
	}

	// best holds the maximum activation seen per node; order records
	// discovery order for deterministic tie-breaking.
	best := make(map[pattern.PatternID]float64)
	order := make([]pattern.PatternID, 0, 16)
	expanded := map[pattern.PatternID]struct{}{source: {}}

	type frontierNode struct {
		id         pattern.PatternID
		activation float64
	}
	frontier := []frontierNode{{source, initial}}
	next := make([]frontierNode, 0, 16)
	nextBest := make(map[pattern.PatternID]int) // id → index into next

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next = next[:0]
		clear(nextBest)

		for _, fn := range frontier {
			for _, idx := range m.bySource[fn.id] {
				e := m.slots[idx]
				var strength float64
				if context != nil {
					strength = e.ContextualStrength(context)
				} else {
					strength = e.Strength()
				}
				received := fn.activation * strength
				if received <= 0 || received < minActivation {
					continue
				}
				if e.Target == source {
					continue
				}

				prev, seen := best[e.Target]
				if !seen {
					best[e.Target] = received
					order = append(order, e.Target)
				} else if received > prev {
					best[e.Target] = received
				} else {
					// Weaker path to an already-reached node:
					// nothing new to expand.
					continue
				}

				if _, done := expanded[e.Target]; done {
					continue
				}
				// Dedupe within the hop, keeping the max activation.
				if at, queued := nextBest[e.Target]; queued {
					if received > next[at].activation {
						next[at].activation = received
					}
				} else {
					nextBest[e.Target] = len(next)
					next = append(next, frontierNode{e.Target, received})
				}
			}
		}

		// Mark this hop's frontier as expanded before moving on so a
		// node is expanded at most once, at its earliest hop.
		for _, fn := range next {
			expanded[fn.id] = struct{}{}
		}
		frontier, next = next, frontier
	}

	result := make([]Activation, 0, len(order))
	for _, id := range order {
		result = append(result, Activation{Pattern: id, Activation: best[id]})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Activation > result[j].Activation
	})
	return result
}

// TopOutgoing returns the k strongest outgoing associations of a pattern,
// sorted by strength descending with ties in insertion order.
func (m *Matrix) TopOutgoing(id pattern.PatternID, k int) []Snapshot {
	if k <= 0 {
		return nil
	}

	out := m.Outgoing(id)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Strength > out[j].Strength
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
