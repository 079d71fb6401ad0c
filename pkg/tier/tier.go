// Package tier moves patterns between four capacity-bounded storage
// tiers based on their utility scores. Hot patterns stay Active for
// cheap access; cold ones sink toward Archive, where payloads can be
// relocated to persistent storage.
package tier

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/pattern"
)

// Level is one of the four ordered storage tiers.
type Level int

const (
	// Active holds the hottest patterns, kept fully in memory.
	Active Level = iota
	// Warm holds recently useful patterns.
	Warm
	// Cold holds rarely used patterns, candidates for relocation.
	Cold
	// Archive holds patterns kept only for provenance; payloads may
	// live in persistent storage.
	Archive

	numLevels
)

// String returns the lowercase tier name.
func (l Level) String() string {
	switch l {
	case Active:
		return "active"
	case Warm:
		return "warm"
	case Cold:
		return "cold"
	case Archive:
		return "archive"
	default:
		return "unknown"
	}
}

// LevelConfig bounds one tier.
type LevelConfig struct {
	// Capacity is the soft maximum number of patterns in the tier.
	// Must be > 0.
	Capacity int

	// PromoteAbove is the utility above which a pattern in the tier
	// below is promoted into this tier.
	PromoteAbove float64

	// DemoteBelow is the utility below which a pattern in this tier is
	// demoted to the tier below.
	DemoteBelow float64
}

// Config holds the per-tier bounds and transition pacing.
type Config struct {
	// Levels configures Active, Warm, Cold and Archive, in that order.
	Levels [4]LevelConfig

	// TransitionBatchSize caps how many transitions one
	// PerformTierTransitions call may perform. Must be > 0.
	TransitionBatchSize int

	// TransitionInterval paces the optional background loop. Must be
	// > 0 when the loop is started.
	TransitionInterval time.Duration
}

// DefaultConfig returns a small four-tier layout with hysteresis between
// each boundary.
func DefaultConfig() Config {
	return Config{
		Levels: [4]LevelConfig{
			{Capacity: 1000, PromoteAbove: 0.7, DemoteBelow: 0.5},
			{Capacity: 5000, PromoteAbove: 0.4, DemoteBelow: 0.25},
			{Capacity: 20000, PromoteAbove: 0.15, DemoteBelow: 0.08},
			{Capacity: 100000, PromoteAbove: 0, DemoteBelow: 0},
		},
		TransitionBatchSize: 256,
		TransitionInterval:  time.Minute,
	}
}

// Validate rejects non-positive capacities and threshold layouts that
// would let a pattern thrash at a tier boundary. Hysteresis requires each
// tier's promotion threshold to sit strictly above its own demotion
// threshold, and strictly above the demotion threshold that would send
// the pattern right back down.
func (c Config) Validate() error {
	for i, lc := range c.Levels {
		if lc.Capacity <= 0 {
			return fmt.Errorf("tier: %s capacity must be > 0, got %d", Level(i), lc.Capacity)
		}
		if lc.PromoteAbove < 0 || lc.PromoteAbove > 1 || lc.DemoteBelow < 0 || lc.DemoteBelow > 1 {
			return fmt.Errorf("tier: %s thresholds must be in [0, 1]", Level(i))
		}
	}
	for i := 0; i < int(numLevels)-1; i++ {
		upper := c.Levels[i]
		if upper.PromoteAbove <= upper.DemoteBelow {
			return fmt.Errorf("tier: %s promote threshold %g must exceed its demote threshold %g (hysteresis)",
				Level(i), upper.PromoteAbove, upper.DemoteBelow)
		}
	}
	if c.TransitionBatchSize <= 0 {
		return fmt.Errorf("tier: transition batch size must be > 0, got %d", c.TransitionBatchSize)
	}
	return nil
}

// RelocateFunc moves a pattern's payload when it crosses a tier boundary,
// for example copying it into or out of the persistent cold store. It is
// called outside the manager's lock; errors are logged, never fatal; the
// tier assignment stands regardless.
type RelocateFunc func(id pattern.PatternID, from, to Level) error

// Transition records one completed tier move.
type Transition struct {
	Pattern pattern.PatternID
	From    Level
	To      Level
	Utility float64
}

// Stats is a derived, recomputed-on-read snapshot of tier occupancy.
type Stats struct {
	CountByTier [4]int
	Tracked     int
}

// Manager owns the tier assignment of every tracked pattern.
//
// Invariant: each tracked pattern is in exactly one tier at any time; the
// transition path is the only mutation. Capacity is enforced softly at
// transition time; an over-capacity promotion demotes the target tier's
// lowest-utility occupant to make room rather than failing.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	config Config
	tiers  map[pattern.PatternID]Level
	counts [4]int

	relocate RelocateFunc
	logger   *zap.Logger

	loopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewManager builds a tier manager; configuration errors fail fast.
// relocate and logger may be nil.
func NewManager(cfg Config, relocate RelocateFunc, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:   cfg,
		tiers:    make(map[pattern.PatternID]Level),
		relocate: relocate,
		logger:   logger.With(zap.String("component", "tier_manager")),
	}, nil
}

// Track registers a new pattern in the given tier. Already-tracked
// patterns are left where they are (returns false).
func (m *Manager) Track(id pattern.PatternID, level Level) bool {
	if id == pattern.InvalidPattern || level < Active || level >= numLevels {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tiers[id]; ok {
		return false
	}
	m.tiers[id] = level
	m.counts[level]++
	return true
}

// Forget removes a pattern from tier tracking entirely.
func (m *Manager) Forget(id pattern.PatternID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.tiers[id]
	if !ok {
		return false
	}
	delete(m.tiers, id)
	m.counts[level]--
	return true
}

// TierOf returns the pattern's current tier.
func (m *Manager) TierOf(id pattern.PatternID) (Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.tiers[id]
	return level, ok
}

// Count returns the number of patterns in one tier.
func (m *Manager) Count(level Level) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if level < Active || level >= numLevels {
		return 0
	}
	return m.counts[level]
}

// GetStats recomputes tier occupancy.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{CountByTier: m.counts, Tracked: len(m.tiers)}
}

// candidate pairs a pattern with its utility during a transition cycle.
type candidate struct {
	id      pattern.PatternID
	level   Level
	utility float64
}

// PerformTierTransitions runs one bounded transition cycle against the
// supplied utility scores.
//
// Promotions run first, highest utility first, so when capacity is scarce
// the most valuable patterns win the contested slots; a full target tier
// demotes its lowest-utility occupant to make room. Demotions follow for
// patterns below their tier's demotion threshold. The whole cycle
// performs at most TransitionBatchSize moves.
//
// Patterns missing from utilities keep their current tier.
func (m *Manager) PerformTierTransitions(utilities map[pattern.PatternID]float64) []Transition {
	moves := m.transitionLocked(utilities)

	// Relocation callbacks run outside the lock; the assignments are
	// already final and a failed relocation never rolls one back.
	if m.relocate != nil {
		for _, mv := range moves {
			if err := m.relocate(mv.Pattern, mv.From, mv.To); err != nil {
				m.logger.Warn("payload relocation failed",
					zap.Uint64("pattern", uint64(mv.Pattern)),
					zap.String("from", mv.From.String()),
					zap.String("to", mv.To.String()),
					zap.Error(err))
			}
		}
	}
	return moves
}

func (m *Manager) transitionLocked(utilities map[pattern.PatternID]float64) []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	budget := m.config.TransitionBatchSize
	var moves []Transition

	// Gather promotion candidates: anything whose utility clears the
	// tier above's promotion threshold.
	var promos []candidate
	for id, level := range m.tiers {
		if level == Active {
			continue
		}
		u, ok := utilities[id]
		if !ok {
			continue
		}
		target := level - 1
		if u > m.config.Levels[target].PromoteAbove {
			promos = append(promos, candidate{id: id, level: level, utility: u})
		}
	}
	sort.Slice(promos, func(i, j int) bool {
		if promos[i].utility != promos[j].utility {
			return promos[i].utility > promos[j].utility
		}
		return promos[i].id < promos[j].id
	})

	for _, p := range promos {
		if len(moves) >= budget {
			break
		}
		// Re-read the level: an earlier eviction this cycle may have
		// moved the pattern.
		level := m.tiers[p.id]
		if level == Active || level != p.level {
			continue
		}
		target := level - 1
		if m.counts[target] >= m.config.Levels[target].Capacity {
			// Soft capacity: push the weakest occupant down one tier.
			victim, ok := m.lowestOccupantLocked(target, utilities)
			if !ok || len(moves)+2 > budget {
				continue
			}
			moves = append(moves, m.moveLocked(victim, target, target+1, utilities[victim]))
		}
		moves = append(moves, m.moveLocked(p.id, level, target, p.utility))
	}

	// Demotions: anything below its own tier's demotion threshold.
	var demos []candidate
	for id, level := range m.tiers {
		if level >= Archive {
			continue
		}
		u, ok := utilities[id]
		if !ok {
			continue
		}
		if u < m.config.Levels[level].DemoteBelow {
			demos = append(demos, candidate{id: id, level: level, utility: u})
		}
	}
	sort.Slice(demos, func(i, j int) bool {
		if demos[i].utility != demos[j].utility {
			return demos[i].utility < demos[j].utility
		}
		return demos[i].id < demos[j].id
	})

	for _, d := range demos {
		if len(moves) >= budget {
			break
		}
		level := m.tiers[d.id]
		if level != d.level {
			continue
		}
		moves = append(moves, m.moveLocked(d.id, level, level+1, d.utility))
	}

	if len(moves) > 0 {
		m.logger.Debug("tier transitions", zap.Int("moves", len(moves)))
	}
	return moves
}

// lowestOccupantLocked finds the lowest-utility pattern currently in the
// tier. Patterns without a utility score count as utility 0.
func (m *Manager) lowestOccupantLocked(level Level, utilities map[pattern.PatternID]float64) (pattern.PatternID, bool) {
	found := false
	var worst pattern.PatternID
	worstU := 0.0
	for id, l := range m.tiers {
		if l != level {
			continue
		}
		u := utilities[id]
		if !found || u < worstU || (u == worstU && id < worst) {
			found = true
			worst = id
			worstU = u
		}
	}
	return worst, found
}

// moveLocked reassigns one pattern and records the transition.
func (m *Manager) moveLocked(id pattern.PatternID, from, to Level, utility float64) Transition {
	m.tiers[id] = to
	m.counts[from]--
	m.counts[to]++
	return Transition{Pattern: id, From: from, To: to, Utility: utility}
}

// UtilitySource supplies fresh scores to the background loop.
type UtilitySource func() map[pattern.PatternID]float64

// Start launches the optional background transition loop. The loop
// re-runs PerformTierTransitions every TransitionInterval until Stop is
// called; it checks its stop flag once per iteration and finishes the
// in-flight batch before exiting. Returns an error if already running or
// the interval is not positive.
func (m *Manager) Start(source UtilitySource) error {
	if source == nil {
		return fmt.Errorf("tier: utility source must not be nil")
	}
	if m.config.TransitionInterval <= 0 {
		return fmt.Errorf("tier: transition interval must be > 0, got %s", m.config.TransitionInterval)
	}

	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.stopCh != nil {
		return fmt.Errorf("tier: background loop already running")
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(m.config.TransitionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.PerformTierTransitions(source())
			}
		}
	}(m.stopCh, m.doneCh)

	m.logger.Info("tier transition loop started",
		zap.Duration("interval", m.config.TransitionInterval))
	return nil
}

// Stop signals the background loop and waits for it to finish its current
// batch. Safe to call when the loop was never started.
func (m *Manager) Stop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.stopCh = nil
	m.doneCh = nil
	m.logger.Info("tier transition loop stopped")
}
