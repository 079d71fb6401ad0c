package utility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdConfigValidate(t *testing.T) {
	cfg := DefaultThresholdConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Baseline = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultThresholdConfig()
	cfg.MinThreshold = 0.9
	cfg.MaxThreshold = 0.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultThresholdConfig()
	cfg.Mode = PercentileMode
	cfg.TargetEvictionRate = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultThresholdConfig()
	cfg.Mode = ThresholdMode(99)
	assert.Error(t, cfg.Validate())
}

func TestPressureModeRaisesUnderPressure(t *testing.T) {
	cfg := DefaultThresholdConfig()
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.Baseline, m.Current(), "baseline before any update")

	// Exactly on budget: pressure 0, threshold stays at baseline.
	got := m.UpdateFromPressure(cfg.TargetBytes)
	assert.InDelta(t, cfg.Baseline, got, 1e-12)

	// 100% over budget: baseline × (1 + 0.5 × 1) = 0.3, smoothed in.
	got = m.UpdateFromPressure(2 * cfg.TargetBytes)
	want := (1-cfg.SmoothingFactor)*cfg.Baseline + cfg.SmoothingFactor*0.3
	assert.InDelta(t, want, got, 1e-12)
	assert.Greater(t, got, cfg.Baseline)
}

func TestPressureModeRelaxesUnderBudget(t *testing.T) {
	cfg := DefaultThresholdConfig()
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	got := m.UpdateFromPressure(cfg.TargetBytes / 2)
	assert.Less(t, got, cfg.Baseline, "half the budget relaxes below baseline")
	assert.GreaterOrEqual(t, got, cfg.MinThreshold)
}

func TestThresholdClamped(t *testing.T) {
	cfg := DefaultThresholdConfig()
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	// Astronomic pressure still clamps at MaxThreshold.
	got := m.UpdateFromPressure(1000 * cfg.TargetBytes)
	assert.Equal(t, cfg.MaxThreshold, got)

	// A strong pressure factor drives the raw value negative at zero
	// usage; the clamp floors it at MinThreshold.
	aggressive := cfg
	aggressive.PressureFactor = 2
	fresh, _ := NewAdaptiveThresholdManager(aggressive)
	got = fresh.UpdateFromPressure(0)
	assert.Equal(t, aggressive.MinThreshold, got)
}

func TestSmoothingDampsOscillation(t *testing.T) {
	cfg := DefaultThresholdConfig()
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	first := m.UpdateFromPressure(2 * cfg.TargetBytes)
	second := m.UpdateFromPressure(cfg.TargetBytes / 4)
	assert.Less(t, second, first, "threshold follows the pressure down")
	assert.Greater(t, second, cfg.MinThreshold, "but smoothing stops it from snapping")
}

func TestFirstUpdateAdoptsRaw(t *testing.T) {
	cfg := DefaultThresholdConfig()
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	// First update adopts the raw value rather than blending with the
	// baseline, so startup converges immediately.
	got := m.UpdateFromPressure(2 * cfg.TargetBytes)
	assert.InDelta(t, 0.3, got, 1e-12)
}

func TestPercentileMode(t *testing.T) {
	cfg := DefaultThresholdConfig()
	cfg.Mode = PercentileMode
	cfg.TargetEvictionRate = 0.2
	m, err := NewAdaptiveThresholdManager(cfg)
	require.NoError(t, err)

	utilities := []float64{0.9, 0.1, 0.5, 0.3, 0.7, 0.2, 0.8, 0.4, 0.6, 0.35}
	got := m.UpdateFromUtilities(utilities)
	// Sorted: 0.1 0.2 0.3 0.35 0.4 ... index 0.2×10 = 2 → 0.3.
	assert.InDelta(t, 0.3, got, 1e-12)

	assert.Equal(t, got, m.UpdateFromUtilities(nil), "empty distribution leaves it untouched")
}

func TestModeMismatchIsNoOp(t *testing.T) {
	pressure, _ := NewAdaptiveThresholdManager(DefaultThresholdConfig())
	before := pressure.Current()
	assert.Equal(t, before, pressure.UpdateFromUtilities([]float64{0.5, 0.6}))

	cfg := DefaultThresholdConfig()
	cfg.Mode = PercentileMode
	percentile, _ := NewAdaptiveThresholdManager(cfg)
	before = percentile.Current()
	assert.Equal(t, before, percentile.UpdateFromPressure(1<<30))
}
