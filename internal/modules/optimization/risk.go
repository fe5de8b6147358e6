package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DegenerateVolatilityThreshold is the volatility at or below which a portfolio is
// treated as riskless and its Sharpe ratio as undefined.
const DegenerateVolatilityThreshold = 1e-12

// PortfolioStats holds the derived statistics of one weight vector
type PortfolioStats struct {
	ExpectedReturn float64
	Volatility     float64
	SharpeRatio    float64
}

// portfolioMoments returns wᵀμ and wᵀΣw without any degeneracy checks.
func portfolioMoments(stats *Statistics, weights []float64) (float64, float64) {
	w := mat.NewVecDense(len(weights), weights)
	ret := mat.Dot(stats.Mean, w)
	variance := mat.Inner(w, stats.Cov, w)
	if variance < 0 {
		// PSD matrices can still produce tiny negative quadratic forms in floating point
		variance = 0
	}
	return ret, variance
}

// Evaluate derives expected return, volatility and Sharpe ratio for weights.
// Returns a DegenerateVolatilityError when the volatility is zero.
func Evaluate(stats *Statistics, weights []float64) (PortfolioStats, error) {
	if len(weights) != stats.N() {
		return PortfolioStats{}, fmt.Errorf("weight vector length %d doesn't match asset count %d", len(weights), stats.N())
	}

	ret, variance := portfolioMoments(stats, weights)
	vol := math.Sqrt(variance)
	if vol <= DegenerateVolatilityThreshold || math.IsNaN(vol) {
		return PortfolioStats{}, NewDegenerateVolatilityError(vol)
	}

	return PortfolioStats{
		ExpectedReturn: ret,
		Volatility:     vol,
		SharpeRatio:    ret / vol,
	}, nil
}

// CorrelationPair is a pair of assets whose return correlation is at or above a threshold
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1"`
	Symbol2     string  `json:"symbol2"`
	Correlation float64 `json:"correlation"`
}

// HighCorrelationThreshold is the default cutoff for HighCorrelations
const HighCorrelationThreshold = 0.80

// correlation returns ρ_ij from the covariance matrix, or 0 when either variance is zero.
func correlation(cov mat.Symmetric, i, j int) float64 {
	vi, vj := cov.At(i, i), cov.At(j, j)
	if vi <= 0 || vj <= 0 {
		return 0
	}
	return cov.At(i, j) / math.Sqrt(vi*vj)
}

// HighCorrelations lists asset pairs whose absolute correlation is at least threshold.
// Highly correlated inputs are where the optimizer tends to concentrate weight, so the
// service logs them.
func HighCorrelations(stats *Statistics, threshold float64) []CorrelationPair {
	n := stats.N()
	pairs := make([]CorrelationPair, 0)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := correlation(stats.Cov, i, j)
			if math.Abs(rho) >= threshold {
				pairs = append(pairs, CorrelationPair{
					Symbol1:     stats.Symbols[i],
					Symbol2:     stats.Symbols[j],
					Correlation: rho,
				})
			}
		}
	}
	return pairs
}
