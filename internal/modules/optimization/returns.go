package optimization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/allocator/internal/domain"
)

// CheckSeries reports whether a symbol's series carries any usable price.
// An empty or all-missing series is an InsufficientDataError for that symbol.
func CheckSeries(symbol string, series domain.PriceSeries) error {
	if len(series) == 0 {
		return NewInsufficientDataError(symbol, "empty price series")
	}
	if err := series.Validate(); err != nil {
		return NewInsufficientDataError(symbol, err.Error())
	}
	for _, p := range series {
		if isUsablePrice(p.AdjClose) {
			return nil
		}
	}
	return NewInsufficientDataError(symbol, "price series has no usable values")
}

func isUsablePrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// AlignPrices builds a PriceMatrix over the dates shared by every symbol, in the given
// symbol order. Dates are compared by calendar day. Rows with a missing value for any
// symbol are dropped.
func AlignPrices(series map[string]domain.PriceSeries, symbols []string) (PriceMatrix, error) {
	if len(symbols) == 0 {
		return PriceMatrix{}, NewInsufficientDataError("", "no symbols with usable data")
	}

	byDate := make([]map[time.Time]float64, len(symbols))
	for i, symbol := range symbols {
		s := series[symbol]
		if err := CheckSeries(symbol, s); err != nil {
			return PriceMatrix{}, err
		}
		m := make(map[time.Time]float64, len(s))
		for _, p := range s {
			if isUsablePrice(p.AdjClose) {
				m[domain.TruncateDay(p.Date)] = p.AdjClose
			}
		}
		byDate[i] = m
	}

	// Intersect on the first symbol's dates
	dates := make([]time.Time, 0, len(byDate[0]))
	for d := range byDate[0] {
		shared := true
		for _, m := range byDate[1:] {
			if _, ok := m[d]; !ok {
				shared = false
				break
			}
		}
		if shared {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	rows := make([][]float64, len(dates))
	for t, d := range dates {
		row := make([]float64, len(symbols))
		for s := range symbols {
			row[s] = byDate[s][d]
		}
		rows[t] = row
	}

	syms := make([]string, len(symbols))
	copy(syms, symbols)

	return PriceMatrix{Symbols: syms, Dates: dates, Rows: rows}, nil
}

// calculateReturns computes simple returns between consecutive rows and drops rows
// containing a non-finite change. Returns the kept rows and the number dropped.
func calculateReturns(pm PriceMatrix) ([][]float64, int) {
	rows, cols := pm.Dims()
	kept := make([][]float64, 0, rows-1)
	dropped := 0

	for t := 1; t < rows; t++ {
		row := make([]float64, cols)
		finite := true
		for s := 0; s < cols; s++ {
			r := pm.Rows[t][s]/pm.Rows[t-1][s] - 1
			if math.IsNaN(r) || math.IsInf(r, 0) {
				finite = false
				break
			}
			row[s] = r
		}
		if !finite {
			dropped++
			continue
		}
		kept = append(kept, row)
	}

	return kept, dropped
}

// BuildStatistics turns a PriceMatrix into the mean return vector and covariance matrix.
//
// Covariance uses the sample (n-1) denominator. When exactly one return row survives,
// the population (n) denominator is used instead, which makes every entry zero.
func BuildStatistics(pm PriceMatrix) (*Statistics, error) {
	rows, cols := pm.Dims()
	if cols < 1 {
		return nil, NewInsufficientDataError("", "price matrix has no columns")
	}
	if rows < 2 {
		return nil, NewInsufficientDataError("", fmt.Sprintf("need at least 2 aligned price rows, got %d", rows))
	}

	returns, dropped := calculateReturns(pm)
	if len(returns) == 0 {
		return nil, NewNoUsableReturnsError(fmt.Sprintf("all %d return rows contained non-finite values", dropped))
	}

	n := len(returns)
	data := make([]float64, 0, n*cols)
	for _, row := range returns {
		data = append(data, row...)
	}
	x := mat.NewDense(n, cols, data)

	mean := mat.NewVecDense(cols, nil)
	col := make([]float64, n)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		mean.SetVec(j, stat.Mean(col, nil))
	}

	cov := mat.NewSymDense(cols, nil)
	if n >= 2 {
		stat.CovarianceMatrix(cov, x, nil)
	} else {
		populationCovariance(cov, x, mean)
	}

	syms := make([]string, cols)
	copy(syms, pm.Symbols)

	return &Statistics{
		Symbols:      syms,
		Mean:         mean,
		Cov:          cov,
		Observations: n,
	}, nil
}

// populationCovariance fills dst with the n-denominator covariance of x's columns.
func populationCovariance(dst *mat.SymDense, x *mat.Dense, mean *mat.VecDense) {
	n, cols := x.Dims()
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			var sum float64
			for k := 0; k < n; k++ {
				sum += (x.At(k, i) - mean.AtVec(i)) * (x.At(k, j) - mean.AtVec(j))
			}
			dst.SetSym(i, j, sum/float64(n))
		}
	}
}
