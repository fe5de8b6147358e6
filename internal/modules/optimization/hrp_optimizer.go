package optimization

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// HRPLinkage selects how cluster distances are computed
type HRPLinkage string

const (
	hrpLinkageSingle   HRPLinkage = "single"
	hrpLinkageComplete HRPLinkage = "complete"
	hrpLinkageAverage  HRPLinkage = "average"
)

// ParseHRPLinkage validates a linkage name; empty means single linkage.
func ParseHRPLinkage(name string) (HRPLinkage, error) {
	switch HRPLinkage(name) {
	case "":
		return hrpLinkageSingle, nil
	case hrpLinkageSingle, hrpLinkageComplete, hrpLinkageAverage:
		return HRPLinkage(name), nil
	default:
		return "", fmt.Errorf("unknown HRP linkage %q", name)
	}
}

// HRPOptimizer performs Hierarchical Risk Parity allocation.
//
//  1. Distance d_ij = sqrt((1 - ρ_ij) / 2) from the covariance's correlations
//  2. Agglomerative clustering; ties go to the pair with the lowest leaf indices
//  3. The root cluster's leaf order is the quasi-diagonal order
//  4. Recursive bisection, splitting weight by inverse cluster variance
//
// The weights are fully invested and long-only by construction but are not
// variance-minimal, and no target return can be imposed.
type HRPOptimizer struct {
	linkage HRPLinkage
	log     zerolog.Logger
}

// NewHRPOptimizer creates a new HRP optimizer.
func NewHRPOptimizer(linkage HRPLinkage, log zerolog.Logger) *HRPOptimizer {
	if linkage == "" {
		linkage = hrpLinkageSingle
	}
	return &HRPOptimizer{
		linkage: linkage,
		log:     log.With().Str("component", "hrp_optimizer").Logger(),
	}
}

// cluster is a dendrogram node. leaves is kept in quasi-diagonal order: the
// child holding the lower asset index comes first.
type cluster struct {
	leaves  []int
	minLeaf int
}

func mergeClusters(a, b cluster) cluster {
	if b.minLeaf < a.minLeaf {
		a, b = b, a
	}
	leaves := make([]int, 0, len(a.leaves)+len(b.leaves))
	leaves = append(leaves, a.leaves...)
	leaves = append(leaves, b.leaves...)
	return cluster{leaves: leaves, minLeaf: a.minLeaf}
}

// Name implements Strategy
func (hrp *HRPOptimizer) Name() string {
	return StrategyHRP
}

// Solve implements Strategy.
func (hrp *HRPOptimizer) Solve(ctx context.Context, stats *Statistics, target *float64) (*Solution, error) {
	if stats == nil || stats.N() == 0 {
		return nil, NewInsufficientDataError("", "no assets to optimize")
	}
	if target != nil {
		return nil, NewInfeasibleConstraintsError("hrp strategy does not accept a target return", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewInfeasibleConstraintsError("hrp allocation interrupted", err)
	}

	n := stats.N()
	if n == 1 {
		return &Solution{Weights: []float64{1}, Status: StatusConverged}, nil
	}

	order := clusterOrder(correlationDistance(stats.Cov), linkageFunc(hrp.linkage))
	if len(order) != n {
		return nil, fmt.Errorf("invalid HRP order length %d", len(order))
	}

	weights := bisectionWeights(stats, order)
	sum := floats.Sum(weights)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, NewInfeasibleConstraintsError(fmt.Sprintf("invalid HRP weight sum: %v", sum), nil)
	}
	floats.Scale(1/sum, weights)

	hrp.log.Debug().
		Str("linkage", string(hrp.linkage)).
		Ints("order", order).
		Msg("HRP allocation completed")

	return &Solution{Weights: weights, Status: StatusConverged}, nil
}

// correlationDistance maps covariance to d_ij = sqrt((1-ρ_ij)/2), clamping ρ to [-1, 1].
func correlationDistance(cov mat.Symmetric) *mat.SymDense {
	n := cov.SymmetricDim()
	dist := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			rho := math.Max(-1, math.Min(1, correlation(cov, i, j)))
			dist.SetSym(i, j, math.Sqrt((1-rho)/2))
		}
	}
	return dist
}

// linkageFunc returns the inter-cluster distance for a linkage
func linkageFunc(linkage HRPLinkage) func(dist mat.Symmetric, a, b cluster) float64 {
	switch linkage {
	case hrpLinkageComplete:
		return func(dist mat.Symmetric, a, b cluster) float64 {
			return pairwise(dist, a, b, math.Inf(-1), math.Max)
		}
	case hrpLinkageAverage:
		return func(dist mat.Symmetric, a, b cluster) float64 {
			total := pairwise(dist, a, b, 0, func(acc, d float64) float64 { return acc + d })
			return total / float64(len(a.leaves)*len(b.leaves))
		}
	default:
		return func(dist mat.Symmetric, a, b cluster) float64 {
			return pairwise(dist, a, b, math.Inf(1), math.Min)
		}
	}
}

// pairwise folds every leaf-to-leaf distance between a and b into init
func pairwise(dist mat.Symmetric, a, b cluster, init float64, fold func(acc, d float64) float64) float64 {
	acc := init
	for _, i := range a.leaves {
		for _, j := range b.leaves {
			acc = fold(acc, dist.At(i, j))
		}
	}
	return acc
}

// clusterOrder merges the closest pair until one cluster remains and returns its leaves.
func clusterOrder(dist *mat.SymDense, linkage func(mat.Symmetric, cluster, cluster) float64) []int {
	n := dist.SymmetricDim()
	clusters := make([]cluster, n)
	for i := range clusters {
		clusters[i] = cluster{leaves: []int{i}, minLeaf: i}
	}

	for len(clusters) > 1 {
		bi, bj := 0, 1
		best := linkage(dist, clusters[0], clusters[1])
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := linkage(dist, clusters[i], clusters[j])
				if d < best || (d == best && pairBefore(clusters[i], clusters[j], clusters[bi], clusters[bj])) {
					best, bi, bj = d, i, j
				}
			}
		}

		merged := mergeClusters(clusters[bi], clusters[bj])
		// bj > bi, so removing bj first keeps bi valid
		clusters = append(clusters[:bj], clusters[bj+1:]...)
		clusters = append(clusters[:bi], clusters[bi+1:]...)
		clusters = append(clusters, merged)
	}

	return clusters[0].leaves
}

// pairBefore orders candidate pairs by their sorted (minLeaf, minLeaf) keys
func pairBefore(a1, b1, a2, b2 cluster) bool {
	lo1, hi1 := a1.minLeaf, b1.minLeaf
	if hi1 < lo1 {
		lo1, hi1 = hi1, lo1
	}
	lo2, hi2 := a2.minLeaf, b2.minLeaf
	if hi2 < lo2 {
		lo2, hi2 = hi2, lo2
	}
	if lo1 != lo2 {
		return lo1 < lo2
	}
	return hi1 < hi2
}

// bisectionWeights splits the budget down the ordered leaves, giving each half
// weight in inverse proportion to its cluster variance.
func bisectionWeights(stats *Statistics, order []int) []float64 {
	weights := make([]float64, stats.N())
	for i := range weights {
		weights[i] = 1
	}

	pending := [][]int{order}
	for len(pending) > 0 {
		items := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if len(items) <= 1 {
			continue
		}

		left, right := items[:len(items)/2], items[len(items)/2:]
		vLeft := clusterVariance(stats, left)
		vRight := clusterVariance(stats, right)

		alpha := 0.5
		if vLeft+vRight > 0 {
			alpha = 1 - vLeft/(vLeft+vRight)
		}
		for _, i := range left {
			weights[i] *= alpha
		}
		for _, i := range right {
			weights[i] *= 1 - alpha
		}
		pending = append(pending, left, right)
	}
	return weights
}

// clusterVariance is the variance of the inverse-variance portfolio over members.
func clusterVariance(stats *Statistics, members []int) float64 {
	const minVariance = 1e-12

	w := make([]float64, stats.N())
	for _, i := range members {
		w[i] = 1 / math.Max(stats.Cov.At(i, i), minVariance)
	}
	sum := floats.Sum(w)
	if sum <= 0 {
		return 0
	}
	floats.Scale(1/sum, w)

	_, variance := portfolioMoments(stats, w)
	return variance
}
