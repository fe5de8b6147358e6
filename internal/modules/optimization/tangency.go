package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// TangencyOptimizer finds the maximum-Sharpe (tangency) long-only portfolio.
//
// Weights are parameterized as w = softmax(z), which keeps every iterate fully
// invested and inside [0,1], so the problem is unconstrained in z and can be handed
// to gonum's Nelder-Mead.
type TangencyOptimizer struct {
	maxIterations int
	log           zerolog.Logger
}

// NewTangencyOptimizer creates a max-Sharpe optimizer; maxIterations <= 0 means 5000.
func NewTangencyOptimizer(maxIterations int, log zerolog.Logger) *TangencyOptimizer {
	if maxIterations <= 0 {
		maxIterations = 5000
	}
	return &TangencyOptimizer{
		maxIterations: maxIterations,
		log:           log.With().Str("component", "tangency_optimizer").Logger(),
	}
}

// Name implements Strategy
func (t *TangencyOptimizer) Name() string {
	return StrategyMaxSharpe
}

// softmax writes the softmax of z into w
func softmax(w, z []float64) {
	maxZ := floats.Max(z)
	for i, v := range z {
		w[i] = math.Exp(v - maxZ)
	}
	floats.Scale(1/floats.Sum(w), w)
}

// Solve implements Strategy. A target return is rejected: the tangency portfolio is
// defined by its Sharpe ratio alone.
func (t *TangencyOptimizer) Solve(ctx context.Context, stats *Statistics, target *float64) (*Solution, error) {
	if stats == nil || stats.N() == 0 {
		return nil, NewInsufficientDataError("", "no assets to optimize")
	}
	if target != nil {
		return nil, NewInfeasibleConstraintsError("max_sharpe strategy does not accept a target return", nil)
	}

	n := stats.N()
	if n == 1 {
		return &Solution{Weights: []float64{1}, Status: StatusConverged}, nil
	}

	w := make([]float64, n)
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			softmax(w, z)
			ret, variance := portfolioMoments(stats, w)
			stdDev := math.Sqrt(math.Max(variance, 1e-20))
			return -ret / stdDev
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	initial := make([]float64, n) // softmax(0) is the uniform allocation
	settings := &optimize.Settings{
		MajorIterations: t.maxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 200,
		},
	}

	result, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, NewInfeasibleConstraintsError("max_sharpe optimization failed", err)
	}

	successStatuses := map[optimize.Status]bool{
		optimize.Success:             true,
		optimize.MethodConverge:      true,
		optimize.GradientThreshold:   true,
		optimize.FunctionConvergence: true,
	}
	if !successStatuses[result.Status] {
		return nil, NewInfeasibleConstraintsError(
			fmt.Sprintf("max_sharpe optimization did not converge: status=%v", result.Status), nil)
	}

	weights := make([]float64, n)
	softmax(weights, result.X)

	t.log.Debug().
		Int("func_evaluations", result.Stats.FuncEvaluations).
		Float64("sharpe", -result.F).
		Msg("Tangency optimization converged")

	return &Solution{
		Weights:    weights,
		Iterations: result.Stats.MajorIterations,
		Status:     StatusConverged,
	}, nil
}
