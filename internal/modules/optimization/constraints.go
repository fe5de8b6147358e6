// Package optimization turns price history into a long-only, fully-invested
// portfolio allocation.
package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Fixed constraint set: Σw = 1 and 0 ≤ w_i ≤ 1.
const (
	MinWeight = 0.0
	MaxWeight = 1.0
)

// ConstraintsSummary describes the constraint set of one problem for diagnostics.
type ConstraintsSummary struct {
	Assets       int      `json:"assets"`
	MinReturn    float64  `json:"min_return"`
	MaxReturn    float64  `json:"max_return"`
	TargetReturn *float64 `json:"target_return,omitempty"`
}

// ConstraintsManager checks a target return against the attainable range before
// any solver runs.
type ConstraintsManager struct {
	log zerolog.Logger
}

// NewConstraintsManager creates a new constraints manager.
func NewConstraintsManager(log zerolog.Logger) *ConstraintsManager {
	return &ConstraintsManager{
		log: log.With().Str("component", "constraints").Logger(),
	}
}

// ReturnRange is the interval of expected returns reachable on the feasible set.
// On the simplex μᵀw is a convex combination of μ, so it spans [min μ, max μ].
func ReturnRange(stats *Statistics) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < stats.Mean.Len(); i++ {
		m := stats.Mean.AtVec(i)
		lo = math.Min(lo, m)
		hi = math.Max(hi, m)
	}
	return lo, hi
}

// GetConstraintSummary generates a summary of constraints for diagnostics.
func (cm *ConstraintsManager) GetConstraintSummary(stats *Statistics, target *float64) ConstraintsSummary {
	lo, hi := ReturnRange(stats)
	return ConstraintsSummary{
		Assets:       stats.N(),
		MinReturn:    lo,
		MaxReturn:    hi,
		TargetReturn: target,
	}
}

// ValidateTarget returns an InfeasibleConstraintsError when no fully-invested
// long-only portfolio can reach target. A nil target is always feasible.
func (cm *ConstraintsManager) ValidateTarget(stats *Statistics, target *float64) error {
	if target == nil {
		return nil
	}
	if math.IsNaN(*target) || math.IsInf(*target, 0) {
		return NewInfeasibleConstraintsError(fmt.Sprintf("target return %v is not finite", *target), nil)
	}

	lo, hi := ReturnRange(stats)
	slack := 1e-12 * math.Max(1, math.Max(math.Abs(lo), math.Abs(hi)))
	if *target < lo-slack || *target > hi+slack {
		cm.log.Debug().
			Float64("target", *target).
			Float64("min_return", lo).
			Float64("max_return", hi).
			Msg("Target return outside attainable range")
		return NewInfeasibleConstraintsError(
			fmt.Sprintf("target return %.6g outside attainable range [%.6g, %.6g]", *target, lo, hi), nil)
	}
	return nil
}
