package prices

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/allocator/internal/domain"
)

// sharedFetchTimeout bounds an upstream fetch once it no longer follows its caller's context
const sharedFetchTimeout = 2 * time.Minute

// CachedProvider is a read-through cache in front of another PriceProvider.
//
// A request is served from SQLite when the symbol's recorded coverage spans it.
// Otherwise the whole range is fetched upstream and stored. Coverage never extends past
// yesterday, since today's bar may still change.
// Concurrent misses for the same symbol and range share one upstream fetch.
type CachedProvider struct {
	upstream domain.PriceProvider
	repo     *Repository
	group    singleflight.Group
	now      func() time.Time
	log      zerolog.Logger
}

// NewCachedProvider creates a cache over upstream
func NewCachedProvider(upstream domain.PriceProvider, repo *Repository, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		upstream: upstream,
		repo:     repo,
		now:      time.Now,
		log:      log.With().Str("component", "price_cache").Logger(),
	}
}

// GetAdjustedCloses implements domain.PriceProvider
func (p *CachedProvider) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	start = domain.TruncateDay(start)
	end = domain.TruncateDay(end)

	coverage, ok, err := p.repo.GetCoverage(ctx, symbol)
	if err != nil {
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache lookup failed, fetching upstream")
	} else if ok && coverage.Contains(start, end) {
		series, err := p.repo.GetPrices(ctx, symbol, start, end)
		if err == nil {
			p.log.Debug().Str("symbol", symbol).Int("count", len(series)).Msg("Cache hit")
			return series, nil
		}
		p.log.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed, fetching upstream")
	}

	key := symbol + "|" + start.Format(domain.DateLayout) + "|" + end.Format(domain.DateLayout)
	ch := p.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller giving up does not fail the others sharing the fetch
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return p.fetchAndStore(fetchCtx, symbol, start, end)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			p.log.Debug().Str("symbol", symbol).Msg("Joined in-flight fetch")
		}
		return res.Val.(domain.PriceSeries), nil
	}
}

// fetchAndStore is the cache-miss path behind the singleflight group.
func (p *CachedProvider) fetchAndStore(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	series, err := p.upstream.GetAdjustedCloses(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	// Only completed days are recorded as covered
	yesterday := domain.TruncateDay(p.now()).AddDate(0, 0, -1)
	coveredEnd := end
	if coveredEnd.After(yesterday) {
		coveredEnd = yesterday
	}
	if len(series) > 0 && !coveredEnd.Before(start) {
		stored := series.Between(start, coveredEnd)
		if err := p.repo.Store(ctx, symbol, stored, start, coveredEnd); err != nil {
			// The fetch succeeded; a cache write failure only costs a refetch next time
			p.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache prices")
		}
	}

	return series, nil
}

// Warm fetches each symbol once so later requests for the range are served locally.
func (p *CachedProvider) Warm(ctx context.Context, symbols []string, start, end time.Time) error {
	for _, symbol := range symbols {
		if _, err := p.GetAdjustedCloses(ctx, symbol, start, end); err != nil {
			return fmt.Errorf("failed to warm cache for %s: %w", symbol, err)
		}
	}
	return nil
}
