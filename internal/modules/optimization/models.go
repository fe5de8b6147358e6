package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/mat"
)

// Presentation precision. Internal computation always uses full precision.
const (
	WeightDecimals    = 2
	StatisticDecimals = 4
)

// PriceMatrix holds prices aligned on the dates every symbol has a value for.
// Rows[t][s] is the adjusted close of Symbols[s] on Dates[t].
type PriceMatrix struct {
	Symbols []string
	Dates   []time.Time
	Rows    [][]float64
}

// Dims returns (rows, columns)
func (pm PriceMatrix) Dims() (int, int) {
	return len(pm.Rows), len(pm.Symbols)
}

// Statistics is the return distribution the optimizers consume.
type Statistics struct {
	Symbols      []string
	Mean         *mat.VecDense
	Cov          *mat.SymDense
	Observations int // return rows used
}

// N returns the number of assets
func (s *Statistics) N() int {
	return len(s.Symbols)
}

// MeanSlice returns a copy of the mean vector
func (s *Statistics) MeanSlice() []float64 {
	out := make([]float64, s.Mean.Len())
	for i := range out {
		out[i] = s.Mean.AtVec(i)
	}
	return out
}

// NewStatistics builds Statistics from plain slices, validating shape and symmetry.
// Used when the mean vector and covariance matrix come from somewhere other than BuildStatistics.
func NewStatistics(symbols []string, mean []float64, cov [][]float64) (*Statistics, error) {
	n := len(symbols)
	if n == 0 {
		return nil, NewInsufficientDataError("", "no assets provided")
	}
	if len(mean) != n {
		return nil, fmt.Errorf("mean vector length %d doesn't match symbol count %d", len(mean), n)
	}
	if len(cov) != n {
		return nil, fmt.Errorf("covariance matrix size %d doesn't match symbol count %d", len(cov), n)
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(cov[i]), n)
		}
		if cov[i][i] < 0 {
			return nil, fmt.Errorf("covariance matrix has negative variance %g at %d", cov[i][i], i)
		}
		for j := i; j < n; j++ {
			if math.Abs(cov[i][j]-cov[j][i]) > 1e-12*math.Max(1, math.Abs(cov[i][j])) {
				return nil, fmt.Errorf("covariance matrix is not symmetric at (%d,%d)", i, j)
			}
			sym.SetSym(i, j, cov[i][j])
		}
	}

	mu := make([]float64, n)
	copy(mu, mean)
	syms := make([]string, n)
	copy(syms, symbols)

	return &Statistics{
		Symbols: syms,
		Mean:    mat.NewVecDense(n, mu),
		Cov:     sym,
	}, nil
}

// Solution is the raw output of a Strategy, before statistics are derived.
type Solution struct {
	Weights    []float64
	Iterations int
	Status     string
}

// SkippedSymbol records a symbol dropped under the skip fetch policy
type SkippedSymbol struct {
	Symbol string    `json:"symbol"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// Result is an optimization outcome at full precision.
type Result struct {
	Symbols        []string        `json:"symbols"`
	Weights        []float64       `json:"weights"`
	ExpectedReturn float64         `json:"expected_return"`
	Volatility     float64         `json:"volatility"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	Strategy       string          `json:"strategy"`
	Observations   int             `json:"observations"`
	Iterations     int             `json:"iterations"`
	Skipped        []SkippedSymbol `json:"skipped,omitempty"`
	RunID          string          `json:"run_id,omitempty"`
}

// Allocation returns weights keyed by symbol
func (r *Result) Allocation() map[string]float64 {
	out := make(map[string]float64, len(r.Symbols))
	for i, s := range r.Symbols {
		out[s] = r.Weights[i]
	}
	return out
}

// RoundedResult is the presentation form of Result.
// Weights are rounded independently and are not renormalized, so their sum may differ
// from 1 by up to N * 0.005.
type RoundedResult struct {
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	Allocation     map[string]float64 `json:"allocation"`
	Strategy       string             `json:"strategy,omitempty"`
	Observations   int                `json:"observations,omitempty"`
	Skipped        []SkippedSymbol    `json:"skipped,omitempty"`
	RunID          string             `json:"run_id,omitempty"`
}

// Rounded converts the result to its presentation form
func (r *Result) Rounded() RoundedResult {
	allocation := make(map[string]float64, len(r.Symbols))
	for i, s := range r.Symbols {
		allocation[s] = roundTo(r.Weights[i], WeightDecimals)
	}
	return RoundedResult{
		ExpectedReturn: roundTo(r.ExpectedReturn, StatisticDecimals),
		Volatility:     roundTo(r.Volatility, StatisticDecimals),
		SharpeRatio:    roundTo(r.SharpeRatio, StatisticDecimals),
		Allocation:     allocation,
		Strategy:       r.Strategy,
		Observations:   r.Observations,
		Skipped:        r.Skipped,
		RunID:          r.RunID,
	}
}

func roundTo(value float64, places int32) float64 {
	// decimal panics on non-finite input
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	return decimal.NewFromFloat(value).Round(places).InexactFloat64()
}
