package optimization

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Strategy names
const (
	StrategyMinVariance = "min_variance"
	StrategyMonteCarlo  = "monte_carlo"
	StrategyMaxSharpe   = "max_sharpe"
	StrategyHRP         = "hrp"
)

// ErrUnknownStrategy is returned by NewStrategy for an unsupported name
var ErrUnknownStrategy = errors.New("unknown strategy")

// Strategy picks portfolio weights from return statistics.
// Every implementation returns fully-invested, long-only weights.
type Strategy interface {
	Name() string
	Solve(ctx context.Context, stats *Statistics, target *float64) (*Solution, error)
}

// Settings configures every strategy NewStrategy can build.
type Settings struct {
	Solver           SolverSettings
	Sampler          SamplerSettings
	TangencyMaxIters int
	HRPLinkage       string
}

// DefaultSettings returns the default settings for all strategies
func DefaultSettings() Settings {
	return Settings{
		Solver:  DefaultSolverSettings(),
		Sampler: DefaultSamplerSettings(),
	}
}

// Strategies lists the supported strategy names in sorted order
func Strategies() []string {
	names := []string{StrategyMinVariance, StrategyMonteCarlo, StrategyMaxSharpe, StrategyHRP}
	sort.Strings(names)
	return names
}

// NewStrategy builds the named strategy. An empty name selects min_variance.
func NewStrategy(name string, settings Settings, log zerolog.Logger) (Strategy, error) {
	switch name {
	case "", StrategyMinVariance:
		return NewMVOptimizer(settings.Solver, log), nil
	case StrategyMonteCarlo:
		return NewMonteCarloSampler(settings.Sampler, log), nil
	case StrategyMaxSharpe:
		return NewTangencyOptimizer(settings.TangencyMaxIters, log), nil
	case StrategyHRP:
		linkage, err := ParseHRPLinkage(settings.HRPLinkage)
		if err != nil {
			return nil, err
		}
		return NewHRPOptimizer(linkage, log), nil
	default:
		return nil, fmt.Errorf("%w %q (supported: %v)", ErrUnknownStrategy, name, Strategies())
	}
}

// Optimize runs strategy on stats and derives the portfolio statistics.
// It is the stateless entry point: no I/O, no shared state.
func Optimize(ctx context.Context, strategy Strategy, stats *Statistics, target *float64) (*Result, error) {
	if stats == nil || stats.N() == 0 {
		return nil, NewInsufficientDataError("", "no assets to optimize")
	}

	if err := NewConstraintsManager(zerolog.Nop()).ValidateTarget(stats, target); err != nil {
		return nil, err
	}

	solution, err := strategy.Solve(ctx, stats, target)
	if err != nil {
		return nil, err
	}

	ps, err := Evaluate(stats, solution.Weights)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, len(stats.Symbols))
	copy(symbols, stats.Symbols)

	return &Result{
		Symbols:        symbols,
		Weights:        solution.Weights,
		ExpectedReturn: ps.ExpectedReturn,
		Volatility:     ps.Volatility,
		SharpeRatio:    ps.SharpeRatio,
		Strategy:       strategy.Name(),
		Observations:   stats.Observations,
		Iterations:     solution.Iterations,
	}, nil
}

// OptimizeMeanVariance solves the minimum-variance problem for plain inputs with
// default solver settings.
func OptimizeMeanVariance(symbols []string, mean []float64, cov [][]float64, target *float64) (*Result, error) {
	stats, err := NewStatistics(symbols, mean, cov)
	if err != nil {
		return nil, err
	}
	return Optimize(context.Background(), NewMVOptimizer(DefaultSolverSettings(), zerolog.Nop()), stats, target)
}
