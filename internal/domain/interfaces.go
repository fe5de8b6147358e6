package domain

import (
	"context"
	"time"
)

// PriceProvider supplies adjusted closing prices for a symbol over a date range.
// An unknown symbol may yield an empty series rather than an error; callers must
// treat both as "no usable data" for that symbol.
type PriceProvider interface {
	GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error)
}

// PriceProviderFunc adapts a plain function to PriceProvider
type PriceProviderFunc func(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error)

// GetAdjustedCloses calls f
func (f PriceProviderFunc) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error) {
	return f(ctx, symbol, start, end)
}
