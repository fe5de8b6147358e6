package optimization

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
)

// SamplerObjective selects which sampled portfolio the sampler keeps
type SamplerObjective string

const (
	// ObjectiveMaxSharpe keeps the sample with the highest Sharpe ratio
	ObjectiveMaxSharpe SamplerObjective = "max_sharpe"
	// ObjectiveMinVariance keeps the sample with the lowest variance
	ObjectiveMinVariance SamplerObjective = "min_variance"
)

// SamplerSettings configures MonteCarloSampler
type SamplerSettings struct {
	Samples         int
	Seed            int64
	Objective       SamplerObjective
	TargetTolerance float64 // max |μᵀw - target| for a sample to qualify
}

// DefaultSamplerSettings returns 10000 samples keeping the max-Sharpe portfolio
func DefaultSamplerSettings() SamplerSettings {
	return SamplerSettings{
		Samples:         10000,
		Seed:            42,
		Objective:       ObjectiveMaxSharpe,
		TargetTolerance: 1e-5,
	}
}

// MonteCarloSampler draws random fully-invested long-only portfolios and keeps the best.
// It is dominated by MVOptimizer for variance minimization and exists to cross-check it.
type MonteCarloSampler struct {
	settings SamplerSettings
	log      zerolog.Logger
}

// NewMonteCarloSampler creates a sampler; zero-valued settings fall back to defaults.
func NewMonteCarloSampler(settings SamplerSettings, log zerolog.Logger) *MonteCarloSampler {
	d := DefaultSamplerSettings()
	if settings.Samples <= 0 {
		settings.Samples = d.Samples
	}
	if settings.Objective == "" {
		settings.Objective = d.Objective
	}
	if settings.TargetTolerance <= 0 {
		settings.TargetTolerance = d.TargetTolerance
	}
	return &MonteCarloSampler{
		settings: settings,
		log:      log.With().Str("component", "monte_carlo_sampler").Logger(),
	}
}

// Name implements Strategy
func (s *MonteCarloSampler) Name() string {
	return StrategyMonteCarlo
}

// Solve implements Strategy. Deterministic for a given seed.
func (s *MonteCarloSampler) Solve(ctx context.Context, stats *Statistics, target *float64) (*Solution, error) {
	if stats == nil || stats.N() == 0 {
		return nil, NewInsufficientDataError("", "no assets to optimize")
	}

	n := stats.N()
	rng := rand.New(rand.NewSource(s.settings.Seed))
	w := make([]float64, n)
	best := make([]float64, n)
	bestScore := math.Inf(-1)
	qualified := 0

	for i := 0; i < s.settings.Samples; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, NewInfeasibleConstraintsError(
					fmt.Sprintf("sampling interrupted after %d samples (status=%s)", i, StatusInterrupted), err)
			}
		}

		for j := range w {
			w[j] = rng.Float64()
		}
		sum := floats.Sum(w)
		if sum <= 0 {
			continue
		}
		floats.Scale(1/sum, w)

		ret, variance := portfolioMoments(stats, w)
		if target != nil && math.Abs(ret-*target) > s.settings.TargetTolerance {
			continue
		}

		var score float64
		switch s.settings.Objective {
		case ObjectiveMinVariance:
			score = -variance
		default:
			vol := math.Sqrt(variance)
			if vol <= DegenerateVolatilityThreshold {
				continue
			}
			score = ret / vol
		}
		if math.IsNaN(score) {
			continue
		}

		qualified++
		if score > bestScore {
			bestScore = score
			copy(best, w)
		}
	}

	if qualified == 0 {
		msg := fmt.Sprintf("none of %d sampled portfolios qualified", s.settings.Samples)
		if target != nil {
			msg = fmt.Sprintf("none of %d sampled portfolios within %.3g of target return %.6g",
				s.settings.Samples, s.settings.TargetTolerance, *target)
		}
		return nil, NewInfeasibleConstraintsError(msg, nil)
	}

	s.log.Debug().
		Int("samples", s.settings.Samples).
		Int("qualified", qualified).
		Str("objective", string(s.settings.Objective)).
		Float64("best_score", bestScore).
		Msg("Monte Carlo sampling completed")

	return &Solution{
		Weights:    best,
		Iterations: s.settings.Samples,
		Status:     StatusConverged,
	}, nil
}
