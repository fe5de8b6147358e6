package prices

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	testingpkg "github.com/aristath/allocator/internal/testing"
)

type countingProvider struct {
	inner domain.PriceProvider
	calls int32
}

func (c *countingProvider) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.GetAdjustedCloses(ctx, symbol, start, end)
}

func newTestCachedProvider(t *testing.T, now time.Time) (*CachedProvider, *countingProvider, *testingpkg.StaticProvider) {
	repo, _ := newTestRepository(t)
	static := testingpkg.NewStaticProvider(60)
	upstream := &countingProvider{inner: static}
	provider := NewCachedProvider(upstream, repo, zerolog.Nop())
	provider.now = func() time.Time { return now }
	return provider, upstream, static
}

func TestCachedProvider_ServesCoveredRangeFromCache(t *testing.T) {
	provider, upstream, static := newTestCachedProvider(t, day(100))
	ctx := context.Background()

	first, err := provider.GetAdjustedCloses(ctx, "AAPL", day(0), day(29))
	require.NoError(t, err)
	require.Len(t, first, 30)

	second, err := provider.GetAdjustedCloses(ctx, "AAPL", day(5), day(20))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.calls))
	require.Len(t, second, 16)
	assert.InDelta(t, static.Series["AAPL"][5].AdjClose, second[0].AdjClose, 1e-12)

	// Outside the coverage goes upstream again
	_, err = provider.GetAdjustedCloses(ctx, "AAPL", day(0), day(40))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.calls))
}

func TestCachedProvider_DoesNotCoverToday(t *testing.T) {
	// "now" falls inside the requested range
	provider, upstream, _ := newTestCachedProvider(t, day(20).Add(15*time.Hour))
	ctx := context.Background()

	_, err := provider.GetAdjustedCloses(ctx, "MSFT", day(0), day(20))
	require.NoError(t, err)

	coverage, ok, err := provider.repo.GetCoverage(ctx, "MSFT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, coverage.End.Equal(day(19)))

	// Ranges ending today always refetch
	_, err = provider.GetAdjustedCloses(ctx, "MSFT", day(0), day(20))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.calls))

	// Completed days are served locally
	_, err = provider.GetAdjustedCloses(ctx, "MSFT", day(0), day(19))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.calls))
}

func TestCachedProvider_UpstreamErrorIsReturned(t *testing.T) {
	provider, _, static := newTestCachedProvider(t, day(100))
	static.Errors["FAIL"] = errors.New("HTTP 404")

	_, err := provider.GetAdjustedCloses(context.Background(), "FAIL", day(0), day(10))
	assert.ErrorContains(t, err, "HTTP 404")

	_, ok, err := provider.repo.GetCoverage(context.Background(), "FAIL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachedProvider_EmptySeriesNotCached(t *testing.T) {
	provider, upstream, _ := newTestCachedProvider(t, day(100))
	ctx := context.Background()

	series, err := provider.GetAdjustedCloses(ctx, "UNKNOWN", day(0), day(10))
	require.NoError(t, err)
	assert.Empty(t, series)

	_, err = provider.GetAdjustedCloses(ctx, "UNKNOWN", day(0), day(10))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.calls))
}

func TestCachedProvider_Warm(t *testing.T) {
	provider, upstream, static := newTestCachedProvider(t, day(100))
	ctx := context.Background()

	require.NoError(t, provider.Warm(ctx, []string{"AAPL", "GOOG"}, day(0), day(30)))
	assert.Equal(t, int32(2), atomic.LoadInt32(&upstream.calls))

	static.Errors["BAD"] = errors.New("boom")
	err := provider.Warm(ctx, []string{"BAD"}, day(0), day(30))
	assert.ErrorContains(t, err, "BAD")
}

type gatedProvider struct {
	countingProvider
	release chan struct{}
}

func (g *gatedProvider) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	<-g.release
	return g.countingProvider.GetAdjustedCloses(ctx, symbol, start, end)
}

func TestCachedProvider_CoalescesConcurrentMisses(t *testing.T) {
	repo, _ := newTestRepository(t)
	upstream := &gatedProvider{
		countingProvider: countingProvider{inner: testingpkg.NewStaticProvider(60)},
		release:          make(chan struct{}),
	}
	provider := NewCachedProvider(upstream, repo, zerolog.Nop())
	provider.now = func() time.Time { return day(100) }

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			series, err := provider.GetAdjustedCloses(context.Background(), "AAPL", day(0), day(29))
			if err == nil && len(series) != 30 {
				err = errors.New("unexpected series length")
			}
			errs[i] = err
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(upstream.release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// Late arrivals hit the cache, so upstream is called exactly once either way
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.calls))
}

func TestCachedProvider_JoinedCallerSurvivesLeaderCancel(t *testing.T) {
	repo, _ := newTestRepository(t)
	upstream := &gatedProvider{
		countingProvider: countingProvider{inner: testingpkg.NewStaticProvider(60)},
		release:          make(chan struct{}),
	}
	provider := NewCachedProvider(upstream, repo, zerolog.Nop())
	provider.now = func() time.Time { return day(100) }

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := provider.GetAdjustedCloses(leaderCtx, "AAPL", day(0), day(29))
		leaderErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type outcome struct {
		series domain.PriceSeries
		err    error
	}
	follower := make(chan outcome, 1)
	go func() {
		series, err := provider.GetAdjustedCloses(context.Background(), "AAPL", day(0), day(29))
		follower <- outcome{series, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(upstream.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Len(t, got.series, 30)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upstream.calls))
}
