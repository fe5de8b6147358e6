package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver statuses reported in Solution.Status and in failure messages
const (
	StatusConverged      = "converged"
	StatusIterationLimit = "iteration_limit"
	StatusStalled        = "stalled"
	StatusInterrupted    = "interrupted"
)

// SolverSettings bounds the constrained solver.
type SolverSettings struct {
	MaxOuterIterations  int     // multiplier updates for the target-return constraint
	MaxInnerIterations  int     // projected-gradient steps per subproblem
	Tolerance           float64 // target-return residual, in rescaled units (|μ| ≤ 1)
	StepTolerance       float64 // inner stopping criterion on the weight change
	OptimalityTolerance float64 // projected-gradient stationarity required at the solution
}

// DefaultSolverSettings returns the settings used when none are configured
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		MaxOuterIterations:  100,
		MaxInnerIterations:  20000,
		Tolerance:           1e-9,
		StepTolerance:       1e-13,
		OptimalityTolerance: 1e-6,
	}
}

func (s SolverSettings) withDefaults() SolverSettings {
	d := DefaultSolverSettings()
	if s.MaxOuterIterations <= 0 {
		s.MaxOuterIterations = d.MaxOuterIterations
	}
	if s.MaxInnerIterations <= 0 {
		s.MaxInnerIterations = d.MaxInnerIterations
	}
	if s.Tolerance <= 0 {
		s.Tolerance = d.Tolerance
	}
	if s.StepTolerance <= 0 {
		s.StepTolerance = d.StepTolerance
	}
	if s.OptimalityTolerance <= 0 {
		s.OptimalityTolerance = d.OptimalityTolerance
	}
	return s
}

const (
	initialPenalty = 10.0
	maxPenalty     = 1e6
)

// MVOptimizer performs minimum-variance portfolio optimization.
//
// Mathematical formulation:
//   - minimize wᵀΣw
//   - Σw = 1 (fully invested)
//   - 0 ≤ w_i ≤ 1 (no shorting, no leverage)
//   - μᵀw = target_return (only when a target is given)
//
// The budget and box constraints together are exactly the probability simplex, which
// has a cheap Euclidean projection, so they are enforced on every iterate. The target
// return equality is handled with an augmented Lagrangian; each subproblem is a smooth
// convex minimization over the simplex solved by accelerated projected gradient.
type MVOptimizer struct {
	settings SolverSettings
	log      zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer.
func NewMVOptimizer(settings SolverSettings, log zerolog.Logger) *MVOptimizer {
	return &MVOptimizer{
		settings: settings.withDefaults(),
		log:      log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// Name implements Strategy
func (mvo *MVOptimizer) Name() string {
	return StrategyMinVariance
}

// qpProblem is the rescaled problem: Σ/sigmaScale and μ/muScale.
type qpProblem struct {
	n         int
	q         *mat.SymDense
	mu        *mat.VecDense
	target    float64
	hasTarget bool
	lq        float64 // Lipschitz constant of ∇(wᵀQw)
}

func newQPProblem(stats *Statistics, target *float64) (*qpProblem, error) {
	n := stats.N()
	if r, c := stats.Cov.Dims(); r != n || c != n {
		return nil, fmt.Errorf("covariance matrix is %dx%d, expected %dx%d", r, c, n, n)
	}
	if stats.Mean.Len() != n {
		return nil, fmt.Errorf("mean vector length %d doesn't match asset count %d", stats.Mean.Len(), n)
	}

	sigmaScale := 0.0
	for i := 0; i < n; i++ {
		sigmaScale = math.Max(sigmaScale, stats.Cov.At(i, i))
	}
	if sigmaScale <= 0 {
		sigmaScale = 1
	}
	muScale := mat.Norm(stats.Mean, math.Inf(1))
	if muScale <= 0 {
		muScale = 1
	}

	q := mat.NewSymDense(n, nil)
	q.ScaleSym(1/sigmaScale, stats.Cov)
	mu := mat.NewVecDense(n, nil)
	mu.ScaleVec(1/muScale, stats.Mean)

	p := &qpProblem{n: n, q: q, mu: mu}
	if target != nil {
		if math.IsNaN(*target) || math.IsInf(*target, 0) {
			return nil, NewInfeasibleConstraintsError(fmt.Sprintf("target return %v is not finite", *target), nil)
		}
		p.hasTarget = true
		p.target = *target / muScale
	}

	var eig mat.EigenSym
	if !eig.Factorize(q, false) {
		return nil, NewInfeasibleConstraintsError("eigendecomposition of covariance matrix failed", nil)
	}
	values := eig.Values(nil)
	p.lq = 2 * floats.Max(values)
	if p.lq <= 1e-12 {
		// Riskless inputs: the quadratic term is flat, any positive step works
		p.lq = 1
	}

	return p, nil
}

// residual returns μᵀw - target (0 when no target is set)
func (p *qpProblem) residual(w *mat.VecDense) float64 {
	if !p.hasTarget {
		return 0
	}
	return mat.Dot(p.mu, w) - p.target
}

// gradient writes ∇L(w) = 2Qw + (λ + ρ·h(w))μ into dst.
func (p *qpProblem) gradient(dst, w *mat.VecDense, lambda, rho float64) {
	dst.MulVec(p.q, w)
	dst.ScaleVec(2, dst)
	if p.hasTarget {
		dst.AddScaledVec(dst, lambda+rho*p.residual(w), p.mu)
	}
}

// Solve implements Strategy.
func (mvo *MVOptimizer) Solve(ctx context.Context, stats *Statistics, target *float64) (*Solution, error) {
	if stats == nil || stats.N() == 0 {
		return nil, NewInsufficientDataError("", "no assets to optimize")
	}

	p, err := newQPProblem(stats, target)
	if err != nil {
		return nil, err
	}

	// Uniform allocation is feasible for the budget and box constraints
	w := mat.NewVecDense(p.n, nil)
	for i := 0; i < p.n; i++ {
		w.SetVec(i, 1/float64(p.n))
	}

	lambda := 0.0
	rho := initialPenalty
	prevResidual := math.Inf(1)
	iterations := 0
	status := StatusIterationLimit
	outer := 0

	for outer = 0; outer < mvo.settings.MaxOuterIterations; outer++ {
		if err := ctx.Err(); err != nil {
			return nil, NewInfeasibleConstraintsError(
				fmt.Sprintf("solver interrupted after %d iterations (status=%s)", iterations, StatusInterrupted), err)
		}

		n, err := mvo.minimizeSubproblem(ctx, p, w, lambda, rho)
		iterations += n
		if err != nil {
			return nil, NewInfeasibleConstraintsError(
				fmt.Sprintf("solver interrupted after %d iterations (status=%s)", iterations, StatusInterrupted), err)
		}

		h := p.residual(w)
		if math.Abs(h) <= mvo.settings.Tolerance {
			if mvo.stationarity(p, w, lambda+rho*h) <= mvo.settings.OptimalityTolerance {
				status = StatusConverged
				break
			}
		}

		if !p.hasTarget {
			// Without a target the subproblem is the whole problem; a second pass from
			// the current point only helps if the first one hit its iteration cap.
			continue
		}

		lambda += rho * h
		if math.Abs(h) > 0.25*math.Abs(prevResidual) {
			if rho >= maxPenalty && math.Abs(h) >= 0.99*math.Abs(prevResidual) {
				status = StatusStalled
				break
			}
			rho = math.Min(rho*10, maxPenalty)
		}
		prevResidual = h
	}

	if status != StatusConverged {
		h := p.residual(w)
		mvo.log.Debug().
			Str("status", status).
			Int("outer_iterations", outer).
			Int("iterations", iterations).
			Float64("residual", h).
			Msg("Constrained solver did not converge")
		return nil, NewInfeasibleConstraintsError(
			fmt.Sprintf("optimization did not converge: status=%s, target residual=%.3g, iterations=%d",
				status, h, iterations), nil)
	}

	weights := make([]float64, p.n)
	for i := range weights {
		weights[i] = w.AtVec(i)
	}

	mvo.log.Debug().
		Int("assets", p.n).
		Int("iterations", iterations).
		Int("outer_iterations", outer+1).
		Msg("Constrained solver converged")

	return &Solution{
		Weights:    weights,
		Iterations: iterations,
		Status:     StatusConverged,
	}, nil
}

// minimizeSubproblem minimizes the augmented Lagrangian over the simplex, starting
// from and updating w in place. Accelerated projected gradient with adaptive restart.
func (mvo *MVOptimizer) minimizeSubproblem(ctx context.Context, p *qpProblem, w *mat.VecDense, lambda, rho float64) (int, error) {
	step := 1 / (p.lq + rho*mat.Dot(p.mu, p.mu))
	if !p.hasTarget {
		step = 1 / p.lq
	}

	x := mat.VecDenseCopyOf(w)
	y := mat.VecDenseCopyOf(w)
	xNew := mat.NewVecDense(p.n, nil)
	grad := mat.NewVecDense(p.n, nil)
	buf := make([]float64, p.n)
	momentum := 1.0

	k := 0
	for k = 1; k <= mvo.settings.MaxInnerIterations; k++ {
		if k%1000 == 0 {
			if err := ctx.Err(); err != nil {
				w.CopyVec(x)
				return k, err
			}
		}

		p.gradient(grad, y, lambda, rho)
		xNew.AddScaledVec(y, -step, grad)
		projectSimplex(xNew.RawVector().Data, buf)

		// change = ||xNew - x||∞ ; restart momentum when it points uphill
		change := 0.0
		uphill := 0.0
		for i := 0; i < p.n; i++ {
			d := xNew.AtVec(i) - x.AtVec(i)
			change = math.Max(change, math.Abs(d))
			uphill += (y.AtVec(i) - xNew.AtVec(i)) * d
		}

		if change <= mvo.settings.StepTolerance {
			x.CopyVec(xNew)
			break
		}

		next := (1 + math.Sqrt(1+4*momentum*momentum)) / 2
		beta := (momentum - 1) / next
		if uphill > 0 {
			next, beta = 1, 0
		}
		y.AddScaledVec(xNew, beta, xNew)
		y.AddScaledVec(y, -beta, x)
		x.CopyVec(xNew)
		momentum = next
	}

	w.CopyVec(x)
	return k, nil
}

// stationarity is ||w - P(w - ∇L(w)/L)||∞ with the plain Lagrangian gradient 2Qw + λμ,
// i.e. how far one gradient step would still move the weights.
func (mvo *MVOptimizer) stationarity(p *qpProblem, w *mat.VecDense, lambda float64) float64 {
	grad := mat.NewVecDense(p.n, nil)
	p.gradient(grad, w, lambda, 0)
	moved := mat.NewVecDense(p.n, nil)
	moved.AddScaledVec(w, -1/p.lq, grad)
	projectSimplex(moved.RawVector().Data, make([]float64, p.n))

	worst := 0.0
	for i := 0; i < p.n; i++ {
		worst = math.Max(worst, math.Abs(moved.AtVec(i)-w.AtVec(i)))
	}
	return worst
}

// projectSimplex replaces v with its Euclidean projection onto {x : Σx = 1, x ≥ 0}.
// On that set every x_i ≤ 1 automatically, so this is also the projection onto the
// budget-and-box feasible set. buf must have len(v) capacity.
func projectSimplex(v, buf []float64) {
	u := buf[:len(v)]
	copy(u, v)
	sort.Sort(sort.Reverse(sort.Float64Slice(u)))

	cumulative := 0.0
	theta := 0.0
	for j, uj := range u {
		cumulative += uj
		t := (cumulative - 1) / float64(j+1)
		if uj-t > 0 {
			theta = t
		}
	}

	for i := range v {
		v[i] = math.Max(v[i]-theta, 0)
	}
}
