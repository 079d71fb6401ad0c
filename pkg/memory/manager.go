// Package memory composes the whole substrate behind one facade: the
// association graph and learning pipeline, utility scoring, tiering,
// pruning, consolidation, and forgetting dynamics, driven by a single
// maintenance cycle.
package memory

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/muninn/pkg/assoc"
	"github.com/orneryd/muninn/pkg/consolidate"
	"github.com/orneryd/muninn/pkg/decay"
	"github.com/orneryd/muninn/pkg/learn"
	"github.com/orneryd/muninn/pkg/pattern"
	"github.com/orneryd/muninn/pkg/prune"
	"github.com/orneryd/muninn/pkg/tier"
	"github.com/orneryd/muninn/pkg/utility"
)

// Config composes the configuration of every subsystem.
type Config struct {
	Learning      learn.SystemConfig
	Calculator    utility.CalculatorConfig
	Threshold     utility.ThresholdConfig
	Tier          tier.Config
	Pattern       prune.PatternConfig
	Association   prune.AssociationConfig
	Consolidation consolidate.Config
	Sleep         consolidate.SleepConfig
	Interference  decay.InterferenceConfig

	// DecayLaw and DecayParams select the forgetting curve applied to
	// pattern confidence during maintenance. Edge strengths decay
	// exponentially via the learning system regardless.
	DecayLaw    decay.Law
	DecayParams decay.Params

	// HistoryCapacity bounds the per-pattern utility history ring.
	HistoryCapacity int

	// CompactTombstoneRatio triggers a matrix compaction once tombstones
	// exceed this fraction of total slots. Must be in (0, 1].
	CompactTombstoneRatio float64
}

// DefaultConfig returns a complete default configuration.
func DefaultConfig() Config {
	return Config{
		Learning:              learn.DefaultSystemConfig(),
		Calculator:            utility.DefaultCalculatorConfig(),
		Threshold:             utility.DefaultThresholdConfig(),
		Tier:                  tier.DefaultConfig(),
		Pattern:               prune.DefaultPatternConfig(),
		Association:           prune.DefaultAssociationConfig(),
		Consolidation:         consolidate.DefaultConfig(),
		Sleep:                 consolidate.DefaultSleepConfig(),
		Interference:          decay.DefaultInterferenceConfig(),
		DecayLaw:              decay.PowerLaw,
		DecayParams:           decay.DefaultParams(),
		HistoryCapacity:       32,
		CompactTombstoneRatio: 0.25,
	}
}

// Validate checks the facade-level fields; subsystem configs are
// validated by their own constructors.
func (c Config) Validate() error {
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("memory: history capacity must be > 0, got %d", c.HistoryCapacity)
	}
	if c.CompactTombstoneRatio <= 0 || c.CompactTombstoneRatio > 1 {
		return fmt.Errorf("memory: compact tombstone ratio must be in (0, 1], got %g",
			c.CompactTombstoneRatio)
	}
	return nil
}

// MaintenanceStats reports everything one full maintenance cycle did.
type MaintenanceStats struct {
	Learning          learn.MaintenanceCounts
	Threshold         float64
	Transitions       int
	Patterns          prune.PatternResult
	Associations      prune.AssociationResult
	Merges            consolidate.MergeResult
	Hierarchies       consolidate.HierarchyResult
	Compression       consolidate.CompressionResult
	Sleep             consolidate.SleepResult
	Slept             bool
	ConfidenceDecayed int
	Compacted         bool
	Duration          time.Duration
}

// Manager is the substrate's top-level facade. Construct one with
// NewManager, feed it activations and prediction feedback, and call
// PerformMaintenance on whatever schedule suits the host; maintenance is
// idempotent and skipping it only delays convergence.
//
// Thread Safety: all methods are safe for concurrent use, but
// PerformMaintenance runs are serialized against each other.
type Manager struct {
	config Config

	matrix   *assoc.Matrix
	db       pattern.Database
	learning *learn.System
	access   *utility.AccessTracker
	calc     *utility.Calculator
	history  *utility.Tracker
	thresh   *utility.AdaptiveThresholdManager
	tiers    *tier.Manager
	patterns *prune.PatternPruner
	edges    *prune.AssociationPruner
	consol   *consolidate.Consolidator
	sleep    *consolidate.SleepConsolidator
	decayFn  decay.Function
	interf   *decay.InterferenceCalculator

	logger *zap.Logger

	maintMu sync.Mutex
	now     func() time.Time
}

// Options carries the injected collaborators.
type Options struct {
	// Database is the pattern payload store. Required.
	Database pattern.Database

	// Similarity is the feature similarity metric. nil selects cosine.
	Similarity pattern.Similarity

	// Allocator issues IDs for synthesized parent patterns. nil creates
	// a fresh allocator starting at 1.
	Allocator *pattern.IDAllocator

	// Relocate is the tier-crossing payload relocation hook. Optional.
	Relocate tier.RelocateFunc

	// Logger enables structured logging. nil disables it.
	Logger *zap.Logger
}

// NewManager wires the full substrate. Configuration errors from any
// subsystem fail fast.
func NewManager(cfg Config, opts Options) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Database == nil {
		return nil, fmt.Errorf("memory: database must not be nil")
	}
	sim := opts.Similarity
	if sim == nil {
		sim = pattern.CosineSimilarity{}
	}
	alloc := opts.Allocator
	if alloc == nil {
		alloc = pattern.NewIDAllocator(1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	matrix := assoc.NewMatrix(logger)

	learning, err := learn.NewSystem(cfg.Learning, matrix, opts.Database, sim, logger)
	if err != nil {
		return nil, err
	}
	access := utility.NewAccessTracker()
	calc, err := utility.NewCalculator(cfg.Calculator, access, matrix, opts.Database)
	if err != nil {
		return nil, err
	}
	thresh, err := utility.NewAdaptiveThresholdManager(cfg.Threshold)
	if err != nil {
		return nil, err
	}
	tiers, err := tier.NewManager(cfg.Tier, opts.Relocate, logger)
	if err != nil {
		return nil, err
	}
	patterns, err := prune.NewPatternPruner(cfg.Pattern, matrix, opts.Database, sim, logger)
	if err != nil {
		return nil, err
	}
	edges, err := prune.NewAssociationPruner(cfg.Association, matrix, logger)
	if err != nil {
		return nil, err
	}
	consol, err := consolidate.NewConsolidator(cfg.Consolidation, matrix, opts.Database, sim,
		patterns, access, alloc, logger)
	if err != nil {
		return nil, err
	}
	sleep, err := consolidate.NewSleepConsolidator(cfg.Sleep, matrix, logger)
	if err != nil {
		return nil, err
	}
	decayFn, err := decay.NewFunction(cfg.DecayLaw, cfg.DecayParams)
	if err != nil {
		return nil, err
	}
	interf, err := decay.NewInterferenceCalculator(cfg.Interference, sim)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:   cfg,
		matrix:   matrix,
		db:       opts.Database,
		learning: learning,
		access:   access,
		calc:     calc,
		history:  utility.NewTracker(cfg.HistoryCapacity),
		thresh:   thresh,
		tiers:    tiers,
		patterns: patterns,
		edges:    edges,
		consol:   consol,
		sleep:    sleep,
		decayFn:  decayFn,
		interf:   interf,
		logger:   logger.With(zap.String("component", "memory_manager")),
		now:      time.Now,
	}, nil
}

// SetClock replaces the manager's time source and propagates it to every
// clocked subsystem. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	m.now = now
	m.learning.SetClock(now)
	m.access.SetClock(now)
	m.calc.SetClock(now)
	m.patterns.SetClock(now)
	m.sleep.SetClock(now)
}

// Matrix exposes the association graph.
func (m *Manager) Matrix() *assoc.Matrix { return m.matrix }

// Learning exposes the learning pipeline.
func (m *Manager) Learning() *learn.System { return m.learning }

// Tiers exposes the tier manager.
func (m *Manager) Tiers() *tier.Manager { return m.tiers }

// Sleep exposes the sleep consolidator, whose RecordOperation the host
// should call per unit of work for idle detection.
func (m *Manager) Sleep() *consolidate.SleepConsolidator { return m.sleep }

// RecordPatternActivation registers that a pattern fired: the learning
// pipeline pairs it with recent activations, the access tracker updates
// its statistics, new patterns start in the Active tier, and the sleep
// consolidator counts the operation.
func (m *Manager) RecordPatternActivation(id pattern.PatternID) {
	m.learning.RecordPatternActivation(id)
	m.access.RecordAccess(id)
	m.tiers.Track(id, tier.Active)
	m.sleep.RecordOperation()
}

// FormNewAssociations evaluates accumulated co-occurrence evidence and
// returns the number of new edges created.
func (m *Manager) FormNewAssociations() int {
	m.sleep.RecordOperation()
	return m.learning.FormNewAssociations()
}

// Reinforce applies prediction feedback to the source→predicted edge.
func (m *Manager) Reinforce(source, predicted pattern.PatternID, correct bool) bool {
	m.sleep.RecordOperation()
	return m.learning.Reinforce(source, predicted, correct)
}

// Predict returns the top-k patterns the source predicts. Traversed pairs
// are recorded so the consolidator can later compress hot paths.
func (m *Manager) Predict(source pattern.PatternID, k int) []pattern.PatternID {
	m.sleep.RecordOperation()
	out := m.learning.Predict(source, k)
	for _, id := range out {
		m.access.RecordPairAccess(source, id)
	}
	return out
}

// PropagateActivation spreads activation from source through the graph.
func (m *Manager) PropagateActivation(source pattern.PatternID, initial float64, maxHops int, minActivation float64, context map[string]float64) []assoc.Activation {
	m.sleep.RecordOperation()
	return m.matrix.PropagateActivation(source, initial, maxHops, minActivation, context)
}

// Utility returns a pattern's current utility score.
func (m *Manager) Utility(id pattern.PatternID) float64 {
	return m.calc.Utility(id)
}

// Save persists the association graph to path.
func (m *Manager) Save(path string) error {
	return m.matrix.Save(path)
}

// Load replaces the association graph from path. A corrupt or truncated
// file fails cleanly and leaves the current graph untouched.
func (m *Manager) Load(path string) error {
	return m.matrix.Load(path)
}

// PerformMaintenance runs one full lifecycle cycle:
//
//  1. learning maintenance (edge decay, competition, normalization,
//     weak-edge pruning)
//  2. confidence decay and interference between recently active patterns
//  3. utility scoring, history recording, adaptive threshold update
//  4. tier transitions
//  5. pattern pruning (safety-checked) and redundant-edge pruning
//  6. consolidation (merge, hierarchy, compression), plus sleep-time
//     strengthening when the system is idle
//  7. matrix compaction when tombstones have accumulated
//
// The cycle is idempotent: running it twice in a row does strictly less
// work the second time.
func (m *Manager) PerformMaintenance() MaintenanceStats {
	m.maintMu.Lock()
	defer m.maintMu.Unlock()

	started := m.now()
	var stats MaintenanceStats

	stats.Learning = m.learning.PerformMaintenance()
	stats.ConfidenceDecayed = m.decayConfidence()

	utilities := m.calc.UtilityAll()
	ts := m.now()
	for id, u := range utilities {
		m.history.Record(id, u, ts)
	}

	switch m.config.Threshold.Mode {
	case utility.PercentileMode:
		dist := make([]float64, 0, len(utilities))
		for _, u := range utilities {
			dist = append(dist, u)
		}
		stats.Threshold = m.thresh.UpdateFromUtilities(dist)
	default:
		stats.Threshold = m.thresh.UpdateFromPressure(approxUsedBytes(m.db, m.matrix))
	}

	stats.Transitions = len(m.tiers.PerformTierTransitions(utilities))

	stats.Patterns = m.patterns.PrunePatterns(utilities, stats.Threshold)
	for id := range utilities {
		if _, err := m.db.Retrieve(id); err != nil {
			m.access.Forget(id)
			m.history.Forget(id)
			m.tiers.Forget(id)
		}
	}
	stats.Associations = m.edges.Prune()

	stats.Merges, stats.Hierarchies, stats.Compression = m.consol.Consolidate()

	m.sleep.UpdateActivityState()
	stats.Sleep, stats.Slept = m.sleep.TriggerConsolidation(utilities)

	ms := m.matrix.GetStats()
	if total := ms.EdgeCount + ms.Tombstones; total > 0 &&
		float64(ms.Tombstones)/float64(total) > m.config.CompactTombstoneRatio {
		m.matrix.Compact()
		stats.Compacted = true
	}

	stats.Duration = m.now().Sub(started)
	m.logger.Info("maintenance cycle complete",
		zap.Duration("duration", stats.Duration),
		zap.Float64("threshold", stats.Threshold),
		zap.Int("transitions", stats.Transitions),
		zap.Int("patterns_pruned", stats.Patterns.Pruned),
		zap.Int("edges_pruned", stats.Learning.Pruned+stats.Associations.WeakRemoved+stats.Associations.RedundantRemoved),
		zap.Bool("slept", stats.Slept))
	return stats
}

// decayConfidence applies the configured forgetting curve to every stored
// pattern's confidence, based on time since its last update, and then
// suppresses recently active patterns that interfere with each other.
func (m *Manager) decayConfidence() int {
	ts := m.now()

	// Recently active patterns compete; gather them once.
	var competitors []decay.Competitor
	for _, id := range m.access.TrackedPatterns() {
		stats, ok := m.access.Stats(id)
		if !ok || ts.Sub(stats.LastAccess) > time.Hour {
			continue
		}
		p, err := m.db.Retrieve(id)
		if err != nil {
			continue
		}
		competitors = append(competitors, decay.Competitor{Pattern: p, Strength: p.Confidence})
	}

	decayed := 0
	for _, id := range m.db.IDs() {
		p, err := m.db.Retrieve(id)
		if err != nil {
			continue
		}
		elapsed := ts.Sub(p.UpdatedAt)
		next := m.decayFn.Apply(p.Confidence, elapsed)
		if total := m.interf.TotalInterference(p, competitors); total > 0 {
			next = m.interf.Apply(next, total)
		}
		if next == p.Confidence {
			continue
		}
		p.Confidence = next
		if err := m.db.Update(p); err == nil {
			decayed++
		}
	}
	return decayed
}

// approxUsedBytes is a cheap occupancy estimate for pressure mode: the
// pattern count and edge count weighted by rough per-record footprints.
func approxUsedBytes(db pattern.Database, m *assoc.Matrix) uint64 {
	const (
		perPattern = 512
		perEdge    = 128
	)
	return uint64(db.Count())*perPattern + uint64(m.Count())*perEdge
}

// StartTierLoop launches the background tier transition loop fed by live
// utility scores.
func (m *Manager) StartTierLoop() error {
	return m.tiers.Start(m.calc.UtilityAll)
}

// Close stops background work and closes the pattern store.
func (m *Manager) Close() error {
	m.tiers.Stop()
	return m.db.Close()
}
