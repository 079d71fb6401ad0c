// Package decay implements the forgetting dynamics for Muninn.
//
// Three interchangeable decay laws model how association strength fades
// with time when nothing reinforces it:
//   - Exponential: s(t) = s₀ · e^(−λt), classic forgetting curve
//   - PowerLaw:    s(t) = s₀ / (1 + t/τ)^β, slower long-tail forgetting,
//     closer to how long-term memory actually behaves
//   - Step:        s(t) = s₀ · f^⌊t/step⌋, discrete consolidation
//     checkpoints
//
// All laws guarantee: the result never exceeds the input, never goes
// below zero, and zero elapsed time is an exact no-op.
//
// The package also provides the InterferenceCalculator: strength loss
// caused not by time but by competition from other recently-active,
// similar patterns.
//
// Example:
//
//	fn, _ := decay.NewFunction(decay.Exponential, decay.Params{Lambda: 0.1})
//	s := fn.Apply(0.8, 2*time.Hour) // 0.8 · e^(−0.2)
//
// ELI12 (Explain Like I'm 12):
//
// Memories are like sandcastles. Exponential decay is the tide washing a
// little away every hour. PowerLaw is a castle that crumbles fast at
// first but the packed-down core lasts for years. Step decay is a castle
// that only loses a chunk when a big wave hits. Interference is a
// different thing entirely: someone builds a bigger, similar castle right
// next to yours and everyone forgets which one was yours.
package decay

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Law names a decay strategy.
type Law string

const (
	// Exponential decay: s(t) = s₀ · e^(−λ·hours).
	Exponential Law = "exponential"
	// PowerLaw decay: s(t) = s₀ / (1 + t/τ)^β.
	PowerLaw Law = "powerlaw"
	// Step decay: s(t) = s₀ · f^⌊t/step⌋.
	Step Law = "step"
)

// Function is a pure decay strategy.
//
// Contract for every implementation:
//   - Apply(s, 0) == s exactly
//   - Apply is monotonically non-increasing in elapsed
//   - 0 ≤ Apply(s, t) ≤ s for s in [0, 1]
type Function interface {
	// Apply returns the strength remaining after elapsed time.
	Apply(strength float64, elapsed time.Duration) float64
	// Name returns the law this function implements.
	Name() Law
}

// Params carries the tunables for all decay laws. Only the fields the
// chosen law uses are validated.
type Params struct {
	// Lambda is the exponential rate constant, per hour. Must be > 0.
	Lambda float64
	// Tau is the power-law time scale in hours. Must be > 0.
	Tau float64
	// Beta is the power-law exponent. Must be > 0.
	Beta float64
	// Factor is the per-step retention for step decay, in (0, 1].
	Factor float64
	// StepInterval is the step width for step decay. Must be > 0.
	StepInterval time.Duration
}

// DefaultParams returns tunables that give a roughly one-week half-life
// under the exponential law, with comparably gentle settings for the
// other two.
func DefaultParams() Params {
	return Params{
		Lambda:       math.Ln2 / (7 * 24), // 7-day half-life
		Tau:          24,
		Beta:         0.5,
		Factor:       0.9,
		StepInterval: 24 * time.Hour,
	}
}

// ErrUnknownLaw is returned for unrecognized decay law names.
var ErrUnknownLaw = errors.New("decay: unknown law")

// NewFunction builds a decay Function by law name, validating the
// relevant parameters. Invalid parameters fail fast.
func NewFunction(law Law, p Params) (Function, error) {
	switch law {
	case Exponential:
		if p.Lambda <= 0 {
			return nil, fmt.Errorf("decay: lambda must be positive, got %g", p.Lambda)
		}
		return &exponential{lambda: p.Lambda}, nil
	case PowerLaw:
		if p.Tau <= 0 {
			return nil, fmt.Errorf("decay: tau must be positive, got %g", p.Tau)
		}
		if p.Beta <= 0 {
			return nil, fmt.Errorf("decay: beta must be positive, got %g", p.Beta)
		}
		return &powerLaw{tau: p.Tau, beta: p.Beta}, nil
	case Step:
		if p.Factor <= 0 || p.Factor > 1 {
			return nil, fmt.Errorf("decay: factor must be in (0, 1], got %g", p.Factor)
		}
		if p.StepInterval <= 0 {
			return nil, fmt.Errorf("decay: step interval must be positive, got %v", p.StepInterval)
		}
		return &step{factor: p.Factor, interval: p.StepInterval}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLaw, law)
	}
}

// clampDecayed bounds the decayed value to [0, original], absorbing
// floating-point drift and NaN instead of propagating it.
func clampDecayed(decayed, original float64) float64 {
	if math.IsNaN(decayed) || decayed < 0 {
		return 0
	}
	if decayed > original {
		return original
	}
	return decayed
}

type exponential struct {
	lambda float64 // per hour
}

func (e *exponential) Apply(strength float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return strength
	}
	return clampDecayed(strength*math.Exp(-e.lambda*elapsed.Hours()), strength)
}

func (e *exponential) Name() Law { return Exponential }

type powerLaw struct {
	tau  float64 // hours
	beta float64
}

func (p *powerLaw) Apply(strength float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return strength
	}
	return clampDecayed(strength/math.Pow(1+elapsed.Hours()/p.tau, p.beta), strength)
}

func (p *powerLaw) Name() Law { return PowerLaw }

type step struct {
	factor   float64
	interval time.Duration
}

func (s *step) Apply(strength float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return strength
	}
	steps := math.Floor(elapsed.Hours() / s.interval.Hours())
	if steps <= 0 {
		return strength
	}
	return clampDecayed(strength*math.Pow(s.factor, steps), strength)
}

func (s *step) Name() Law { return Step }
