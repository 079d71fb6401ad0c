package utility

import (
	"fmt"
	"sort"
	"sync"
)

// ThresholdMode selects how the adaptive threshold is derived.
type ThresholdMode int

const (
	// PressureMode scales the baseline threshold by memory pressure.
	PressureMode ThresholdMode = iota
	// PercentileMode sets the threshold at a percentile of the current
	// utility distribution.
	PercentileMode
)

// ThresholdConfig tunes adaptive threshold computation. The two modes are
// alternatives, not combinable: pressure mode ignores the percentile
// fields and vice versa.
type ThresholdConfig struct {
	Mode ThresholdMode

	// Baseline is the unpressured threshold. Must be in (0, 1).
	Baseline float64

	// PressureFactor scales how strongly memory pressure raises the
	// threshold. Must be >= 0.
	PressureFactor float64

	// TargetBytes is the memory budget pressure is measured against.
	// Must be > 0 in pressure mode.
	TargetBytes uint64

	// MinThreshold and MaxThreshold clamp the result. Must satisfy
	// 0 <= Min < Max <= 1.
	MinThreshold float64
	MaxThreshold float64

	// SmoothingFactor is the EMA blend applied to successive thresholds
	// so the cut line does not oscillate under bursty usage. Must be in
	// (0, 1].
	SmoothingFactor float64

	// TargetEvictionRate is the fraction of patterns that should fall
	// below the threshold in percentile mode. Must be in (0, 1) when
	// that mode is selected.
	TargetEvictionRate float64
}

// DefaultThresholdConfig returns pressure-mode defaults with a 256 MiB
// budget.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Mode:               PressureMode,
		Baseline:           0.2,
		PressureFactor:     0.5,
		TargetBytes:        256 << 20,
		MinThreshold:       0.05,
		MaxThreshold:       0.9,
		SmoothingFactor:    0.3,
		TargetEvictionRate: 0.1,
	}
}

// Validate rejects out-of-range threshold settings.
func (c ThresholdConfig) Validate() error {
	if c.Baseline <= 0 || c.Baseline >= 1 {
		return fmt.Errorf("utility: baseline must be in (0, 1), got %g", c.Baseline)
	}
	if c.PressureFactor < 0 {
		return fmt.Errorf("utility: pressure factor must be >= 0, got %g", c.PressureFactor)
	}
	if c.MinThreshold < 0 || c.MaxThreshold > 1 || c.MinThreshold >= c.MaxThreshold {
		return fmt.Errorf("utility: threshold bounds must satisfy 0 <= min < max <= 1, got [%g, %g]",
			c.MinThreshold, c.MaxThreshold)
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		return fmt.Errorf("utility: smoothing factor must be in (0, 1], got %g", c.SmoothingFactor)
	}
	switch c.Mode {
	case PressureMode:
		if c.TargetBytes == 0 {
			return fmt.Errorf("utility: target bytes must be > 0 in pressure mode")
		}
	case PercentileMode:
		if c.TargetEvictionRate <= 0 || c.TargetEvictionRate >= 1 {
			return fmt.Errorf("utility: target eviction rate must be in (0, 1), got %g", c.TargetEvictionRate)
		}
	default:
		return fmt.Errorf("utility: unknown threshold mode %d", c.Mode)
	}
	return nil
}

// AdaptiveThresholdManager derives the pruning/demotion utility threshold
// from live system state.
//
// Pressure mode: pressure = (used − target) / target, and
// threshold = baseline × (1 + factor × pressure), so a system over budget
// prunes more aggressively and one under budget relaxes toward (and
// below) the baseline. Percentile mode instead places the threshold at
// the target-eviction-rate percentile of the supplied utility
// distribution. Either way the raw value is clamped to
// [MinThreshold, MaxThreshold] and EMA-smoothed against the previous
// value.
//
// Thread Safety: all methods are safe for concurrent use.
type AdaptiveThresholdManager struct {
	mu      sync.Mutex
	config  ThresholdConfig
	current float64
	primed  bool
}

// NewAdaptiveThresholdManager builds a manager; configuration errors fail
// fast.
func NewAdaptiveThresholdManager(cfg ThresholdConfig) (*AdaptiveThresholdManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AdaptiveThresholdManager{config: cfg, current: cfg.Baseline}, nil
}

// Current returns the most recently computed threshold (the baseline
// before any update).
func (m *AdaptiveThresholdManager) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// UpdateFromPressure recomputes the threshold from current memory usage.
// Only valid in pressure mode; other modes leave the threshold untouched.
func (m *AdaptiveThresholdManager) UpdateFromPressure(usedBytes uint64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.Mode != PressureMode {
		return m.current
	}
	pressure := (float64(usedBytes) - float64(m.config.TargetBytes)) / float64(m.config.TargetBytes)
	raw := m.config.Baseline * (1 + m.config.PressureFactor*pressure)
	return m.applyLocked(raw)
}

// UpdateFromUtilities recomputes the threshold as the target-eviction-rate
// percentile of the given utility distribution. Only valid in percentile
// mode; an empty distribution leaves the threshold untouched.
func (m *AdaptiveThresholdManager) UpdateFromUtilities(utilities []float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.Mode != PercentileMode || len(utilities) == 0 {
		return m.current
	}
	sorted := make([]float64, len(utilities))
	copy(sorted, utilities)
	sort.Float64s(sorted)

	idx := int(m.config.TargetEvictionRate * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return m.applyLocked(sorted[idx])
}

// applyLocked clamps and smooths a raw threshold into place.
func (m *AdaptiveThresholdManager) applyLocked(raw float64) float64 {
	if raw < m.config.MinThreshold {
		raw = m.config.MinThreshold
	}
	if raw > m.config.MaxThreshold {
		raw = m.config.MaxThreshold
	}
	if !m.primed {
		// First update adopts the raw value; smoothing starts after.
		m.current = raw
		m.primed = true
		return m.current
	}
	a := m.config.SmoothingFactor
	m.current = (1-a)*m.current + a*raw
	if m.current < m.config.MinThreshold {
		m.current = m.config.MinThreshold
	}
	if m.current > m.config.MaxThreshold {
		m.current = m.config.MaxThreshold
	}
	return m.current
}
