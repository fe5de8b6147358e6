package testing

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// FixtureStart is the first date of every generated series
var FixtureStart = time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC)

// RandomWalk generates n consecutive daily closes from a seeded geometric random walk.
func RandomWalk(seed int64, n int, drift, vol float64) domain.PriceSeries {
	rng := rand.New(rand.NewSource(seed))
	out := make(domain.PriceSeries, n)
	price := 100.0
	for i := 0; i < n; i++ {
		out[i] = domain.PricePoint{Date: FixtureStart.AddDate(0, 0, i), AdjClose: price}
		price *= math.Exp(drift + vol*rng.NormFloat64())
	}
	return out
}

// StaticProvider serves fixed series and errors keyed by symbol.
// Unknown symbols yield an empty series, as real providers do.
type StaticProvider struct {
	Series map[string]domain.PriceSeries
	Errors map[string]error
}

// NewStaticProvider creates a provider with three random-walk symbols: AAPL, MSFT, GOOG
func NewStaticProvider(days int) *StaticProvider {
	return &StaticProvider{
		Series: map[string]domain.PriceSeries{
			"AAPL": RandomWalk(1, days, 0.0008, 0.015),
			"MSFT": RandomWalk(2, days, 0.0006, 0.012),
			"GOOG": RandomWalk(3, days, 0.0005, 0.018),
		},
		Errors: map[string]error{},
	}
}

// GetAdjustedCloses implements domain.PriceProvider
func (p *StaticProvider) GetAdjustedCloses(_ context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	if err, ok := p.Errors[symbol]; ok {
		return nil, err
	}
	return p.Series[symbol].Between(start, end), nil
}
