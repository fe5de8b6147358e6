// Package alpaca provides daily adjusted closes from the Alpaca market data API.
package alpaca

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// barsClient is the subset of marketdata.Client the provider uses
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// Config holds Alpaca credentials; BaseURL may be empty for the production data API
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string // "iex" (free tier) or "sip"
}

// Client implements domain.PriceProvider on top of the Alpaca SDK
type Client struct {
	bars barsClient
	feed marketdata.Feed
	log  zerolog.Logger
}

// NewClient creates a new Alpaca market data client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	md := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
	})
	return newClient(md, cfg.Feed, log)
}

func newClient(bars barsClient, feed string, log zerolog.Logger) *Client {
	f := marketdata.Feed(feed)
	if f == "" {
		f = marketdata.IEX
	}
	return &Client{
		bars: bars,
		feed: f,
		log:  log.With().Str("client", "alpaca").Logger(),
	}
}

// GetAdjustedCloses implements domain.PriceProvider.
// Bars are requested with split and dividend adjustment so Close is an adjusted close.
func (c *Client) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The SDK call is not context-aware; run it aside so cancellation still returns promptly
	type result struct {
		bars []marketdata.Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bars, err := c.bars.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.All,
			Start:      domain.TruncateDay(start),
			End:        domain.TruncateDay(end).AddDate(0, 0, 1),
			Feed:       c.feed,
		})
		done <- result{bars: bars, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", symbol, res.err)
	}

	series := toSeries(res.bars, start, end)

	c.log.Debug().
		Str("symbol", symbol).
		Int("bars", len(res.bars)).
		Int("points", len(series)).
		Msg("Fetched daily bars")

	return series, nil
}

// toSeries keeps positive closes within [start, end], one per day, oldest first
func toSeries(bars []marketdata.Bar, start, end time.Time) domain.PriceSeries {
	byDay := make(map[time.Time]float64, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		byDay[domain.TruncateDay(b.Timestamp)] = b.Close
	}

	series := make(domain.PriceSeries, 0, len(byDay))
	for d, px := range byDay {
		series = append(series, domain.PricePoint{Date: d, AdjClose: px})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	return series.Between(domain.TruncateDay(start), domain.TruncateDay(end))
}
