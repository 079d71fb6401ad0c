package consolidate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/pattern"
)

// ActivityState is the sleep state machine's current phase.
type ActivityState int

const (
	// StateActive means the system is busy; no consolidation happens.
	StateActive ActivityState = iota
	// StateLowActivity means the operation rate has dropped below the
	// threshold but not long enough to sleep yet.
	StateLowActivity
	// StateSleep means activity has stayed low for the required
	// duration; consolidation may run.
	StateSleep
)

// String returns the lowercase state name.
func (s ActivityState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateLowActivity:
		return "low_activity"
	case StateSleep:
		return "sleep"
	default:
		return "unknown"
	}
}

// SleepConfig tunes idle detection and sleep-time strengthening.
type SleepConfig struct {
	// LowActivityThreshold is the operations-per-second rate below which
	// the system counts as idle. Must be > 0.
	LowActivityThreshold float64

	// MinSleepDuration is how long activity must stay low before the
	// state machine enters Sleep. Must be > 0.
	MinSleepDuration time.Duration

	// ConsolidationInterval is the minimum gap between sleep-time
	// consolidations. Must be > 0.
	ConsolidationInterval time.Duration

	// TopN is how many of the highest-utility patterns each
	// consolidation strengthens. Must be > 0.
	TopN int

	// MinUtilityForStrengthening excludes low-value patterns from the
	// boost. Must be in [0, 1).
	MinUtilityForStrengthening float64

	// StrengtheningFactor scales the diminishing-returns boost
	// factor × (1 − utility) applied to each selected pattern's edges.
	// Must be in (0, 1].
	StrengtheningFactor float64

	// RateWindow is the sliding window over which the operation rate is
	// measured. Must be > 0.
	RateWindow time.Duration
}

// DefaultSleepConfig returns standard idle-detection settings.
func DefaultSleepConfig() SleepConfig {
	return SleepConfig{
		LowActivityThreshold:       1.0,
		MinSleepDuration:           30 * time.Second,
		ConsolidationInterval:      5 * time.Minute,
		TopN:                       20,
		MinUtilityForStrengthening: 0.3,
		StrengtheningFactor:        0.1,
		RateWindow:                 10 * time.Second,
	}
}

// Validate rejects out-of-range sleep settings.
func (c SleepConfig) Validate() error {
	if c.LowActivityThreshold <= 0 {
		return fmt.Errorf("consolidate: low activity threshold must be > 0, got %g", c.LowActivityThreshold)
	}
	if c.MinSleepDuration <= 0 {
		return fmt.Errorf("consolidate: min sleep duration must be > 0, got %s", c.MinSleepDuration)
	}
	if c.ConsolidationInterval <= 0 {
		return fmt.Errorf("consolidate: consolidation interval must be > 0, got %s", c.ConsolidationInterval)
	}
	if c.TopN <= 0 {
		return fmt.Errorf("consolidate: top N must be > 0, got %d", c.TopN)
	}
	if c.MinUtilityForStrengthening < 0 || c.MinUtilityForStrengthening >= 1 {
		return fmt.Errorf("consolidate: min utility must be in [0, 1), got %g", c.MinUtilityForStrengthening)
	}
	if c.StrengtheningFactor <= 0 || c.StrengtheningFactor > 1 {
		return fmt.Errorf("consolidate: strengthening factor must be in (0, 1], got %g", c.StrengtheningFactor)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("consolidate: rate window must be > 0, got %s", c.RateWindow)
	}
	return nil
}

// SleepResult reports one sleep-time consolidation.
type SleepResult struct {
	Strengthened   int
	EdgesBoosted   int
	ConsolidatedAt time.Time
}

// SleepConsolidator is the idle-detection state machine. Driven purely by
// a measured operations-per-second rate, it moves
// Active → LowActivity → Sleep, and while asleep it periodically boosts
// the highest-utility patterns, modeling the memory consolidation that
// happens during biological sleep. Waking is likewise purely
// rate-driven.
//
// Thread Safety: all methods are safe for concurrent use.
type SleepConsolidator struct {
	mu     sync.Mutex
	config SleepConfig
	matrix *assoc.Matrix
	logger *zap.Logger

	state             ActivityState
	lowSince          time.Time
	opTimes           []time.Time // operations within RateWindow
	lastConsolidation time.Time

	now func() time.Time
}

// NewSleepConsolidator builds the state machine; configuration errors
// fail fast.
func NewSleepConsolidator(cfg SleepConfig, m *assoc.Matrix, logger *zap.Logger) (*SleepConsolidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("consolidate: matrix must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SleepConsolidator{
		config: cfg,
		matrix: m,
		logger: logger.With(zap.String("component", "sleep_consolidator")),
		state:  StateActive,
		now:    time.Now,
	}, nil
}

// SetClock replaces the consolidator's time source. Intended for tests.
func (sc *SleepConsolidator) SetClock(now func() time.Time) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if now != nil {
		sc.now = now
	}
}

// RecordOperation registers one unit of system activity.
func (sc *SleepConsolidator) RecordOperation() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.opTimes = append(sc.opTimes, sc.now())
	sc.evictLocked()
}

// evictLocked drops operations older than the rate window.
func (sc *SleepConsolidator) evictLocked() {
	cutoff := sc.now().Add(-sc.config.RateWindow)
	idx := 0
	for idx < len(sc.opTimes) && sc.opTimes[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		remaining := len(sc.opTimes) - idx
		copy(sc.opTimes, sc.opTimes[idx:])
		sc.opTimes = sc.opTimes[:remaining]
	}
}

// OperationRate returns the measured operations per second over the rate
// window.
func (sc *SleepConsolidator) OperationRate() float64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.evictLocked()
	return float64(len(sc.opTimes)) / sc.config.RateWindow.Seconds()
}

// State returns the current activity state without advancing it.
func (sc *SleepConsolidator) State() ActivityState {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state
}

// UpdateActivityState advances the state machine from the current
// operation rate and returns the new state.
//
// A rate at or above the threshold always wakes the machine back to
// Active. A low rate moves Active to LowActivity; Sleep is entered only
// after the rate has stayed low for MinSleepDuration.
func (sc *SleepConsolidator) UpdateActivityState() ActivityState {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.evictLocked()
	rate := float64(len(sc.opTimes)) / sc.config.RateWindow.Seconds()
	ts := sc.now()

	if rate >= sc.config.LowActivityThreshold {
		if sc.state != StateActive {
			sc.logger.Debug("woke up", zap.Float64("rate", rate))
		}
		sc.state = StateActive
		sc.lowSince = time.Time{}
		return sc.state
	}

	switch sc.state {
	case StateActive:
		sc.state = StateLowActivity
		sc.lowSince = ts
	case StateLowActivity:
		if ts.Sub(sc.lowSince) >= sc.config.MinSleepDuration {
			sc.state = StateSleep
			sc.logger.Info("entered sleep", zap.Float64("rate", rate))
		}
	case StateSleep:
		// Stays asleep until the rate rises again.
	}
	return sc.state
}

// LastConsolidation returns when the most recent sleep consolidation ran
// (zero if never).
func (sc *SleepConsolidator) LastConsolidation() time.Time {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastConsolidation
}

// TriggerConsolidation runs one sleep-time strengthening pass if the
// machine is asleep and ConsolidationInterval has elapsed since the last
// run. The TopN highest-utility patterns above the minimum utility each
// get their outgoing edges boosted by factor × (1 − utility): the less
// established a valuable pattern is, the bigger its boost. Returns false
// when the preconditions do not hold.
func (sc *SleepConsolidator) TriggerConsolidation(utilities map[pattern.PatternID]float64) (SleepResult, bool) {
	sc.mu.Lock()
	if sc.state != StateSleep {
		sc.mu.Unlock()
		return SleepResult{}, false
	}
	ts := sc.now()
	if !sc.lastConsolidation.IsZero() && ts.Sub(sc.lastConsolidation) < sc.config.ConsolidationInterval {
		sc.mu.Unlock()
		return SleepResult{}, false
	}
	sc.lastConsolidation = ts
	sc.mu.Unlock()

	type scored struct {
		id      pattern.PatternID
		utility float64
	}
	var candidates []scored
	for id, u := range utilities {
		if u >= sc.config.MinUtilityForStrengthening {
			candidates = append(candidates, scored{id, u})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].utility != candidates[j].utility {
			return candidates[i].utility > candidates[j].utility
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > sc.config.TopN {
		candidates = candidates[:sc.config.TopN]
	}

	res := SleepResult{ConsolidatedAt: ts}
	for _, cand := range candidates {
		boost := sc.config.StrengtheningFactor * (1 - cand.utility)
		boosted := 0
		sc.matrix.MutateOutgoing(cand.id, func(edges []*assoc.Edge) {
			for _, e := range edges {
				s := e.Strength()
				e.SetStrength(s + boost*(1-s))
				boosted++
			}
		})
		if boosted > 0 {
			res.Strengthened++
			res.EdgesBoosted += boosted
		}
	}

	sc.logger.Info("sleep consolidation complete",
		zap.Int("patterns", res.Strengthened),
		zap.Int("edges", res.EdgesBoosted))
	return res, true
}
