package optimization

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

// randomWalk generates n daily closes with the given drift and volatility
func randomWalk(seed int64, n int, drift, vol float64) domain.PriceSeries {
	rng := rand.New(rand.NewSource(seed))
	out := make(domain.PriceSeries, n)
	price := 100.0
	start := time.Date(2023, time.January, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out[i] = domain.PricePoint{Date: start.AddDate(0, 0, i), AdjClose: price}
		price *= math.Exp(drift + vol*rng.NormFloat64())
	}
	return out
}

type fakeProvider struct {
	series map[string]domain.PriceSeries
	errs   map[string]error
	calls  int32
}

func (f *fakeProvider) GetAdjustedCloses(ctx context.Context, symbol string, _, _ time.Time) (domain.PriceSeries, error) {
	atomic.AddInt32(&f.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.errs[symbol]; ok {
		return nil, err
	}
	return f.series[symbol], nil
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		series: map[string]domain.PriceSeries{
			"AAPL": randomWalk(1, 120, 0.0008, 0.015),
			"MSFT": randomWalk(2, 120, 0.0006, 0.012),
			"GOOG": randomWalk(3, 120, 0.0005, 0.018),
		},
		errs: map[string]error{},
	}
}

func testRequest(symbols ...string) Request {
	return Request{
		Symbols: symbols,
		Start:   time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestNormalizeSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL", "MSFT"}, NormalizeSymbols([]string{" aapl", "AAPL", "", "msft ", "Msft"}))
	assert.Empty(t, NormalizeSymbols([]string{" ", ""}))
}

func TestParseFetchPolicy(t *testing.T) {
	p, err := ParseFetchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FetchPolicySkip, p)

	p, err = ParseFetchPolicy("ABORT")
	require.NoError(t, err)
	assert.Equal(t, FetchPolicyAbort, p)

	_, err = ParseFetchPolicy("retry")
	assert.Error(t, err)
}

func TestOptimizerService_Recommend(t *testing.T) {
	provider := newFakeProvider()
	service := NewOptimizerService(provider, DefaultServiceConfig(), zerolog.Nop())

	result, err := service.Recommend(context.Background(), testRequest("aapl", "MSFT", "goog", "AAPL"))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, result.Symbols)
	assertFeasible(t, result.Weights)
	assert.Equal(t, 119, result.Observations)
	assert.Equal(t, StrategyMinVariance, result.Strategy)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Skipped)
	assert.Equal(t, int32(3), atomic.LoadInt32(&provider.calls))
}

func TestOptimizerService_NoSymbols(t *testing.T) {
	service := NewOptimizerService(newFakeProvider(), DefaultServiceConfig(), zerolog.Nop())

	_, err := service.Recommend(context.Background(), testRequest(" ", ""))
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestOptimizerService_SkipPolicy(t *testing.T) {
	provider := newFakeProvider()
	provider.errs["FAIL"] = errors.New("HTTP 404")
	provider.series["EMPTY"] = domain.PriceSeries{}

	service := NewOptimizerService(provider, DefaultServiceConfig(), zerolog.Nop())
	result, err := service.Recommend(context.Background(), testRequest("AAPL", "FAIL", "MSFT", "EMPTY"))
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, result.Symbols)
	require.Len(t, result.Skipped, 2)
	assert.Equal(t, "FAIL", result.Skipped[0].Symbol)
	assert.Equal(t, KindDataFetch, result.Skipped[0].Kind)
	assert.Contains(t, result.Skipped[0].Reason, "HTTP 404")
	assert.Equal(t, "EMPTY", result.Skipped[1].Symbol)
	assert.Equal(t, KindInsufficientData, result.Skipped[1].Kind)
}

func TestOptimizerService_SkipPolicyNothingUsable(t *testing.T) {
	provider := newFakeProvider()
	provider.errs["FAIL"] = errors.New("HTTP 500")

	service := NewOptimizerService(provider, DefaultServiceConfig(), zerolog.Nop())
	_, err := service.Recommend(context.Background(), testRequest("FAIL", "UNKNOWN"))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestOptimizerService_AbortPolicy(t *testing.T) {
	provider := newFakeProvider()
	provider.errs["FAIL"] = errors.New("HTTP 404")

	config := DefaultServiceConfig()
	config.FetchPolicy = FetchPolicyAbort
	service := NewOptimizerService(provider, config, zerolog.Nop())

	_, err := service.Recommend(context.Background(), testRequest("AAPL", "FAIL", "MSFT"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataFetch)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "FAIL", oe.Symbol)
}

func TestOptimizerService_StrategySelection(t *testing.T) {
	service := NewOptimizerService(newFakeProvider(), DefaultServiceConfig(), zerolog.Nop())

	req := testRequest("AAPL", "MSFT", "GOOG")
	req.Strategy = StrategyHRP
	result, err := service.Recommend(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StrategyHRP, result.Strategy)

	req.Strategy = "unknown"
	_, err = service.Recommend(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestOptimizerService_InfeasibleTarget(t *testing.T) {
	service := NewOptimizerService(newFakeProvider(), DefaultServiceConfig(), zerolog.Nop())

	req := testRequest("AAPL", "MSFT")
	req.TargetReturn = float64Ptr(1.0)
	_, err := service.Recommend(context.Background(), req)
	assert.ErrorIs(t, err, ErrInfeasibleConstraints)
}

func TestOptimizerService_DeadlineMapsToInfeasible(t *testing.T) {
	for _, policy := range []FetchPolicy{FetchPolicySkip, FetchPolicyAbort} {
		t.Run(string(policy), func(t *testing.T) {
			config := DefaultServiceConfig()
			config.FetchPolicy = policy
			service := NewOptimizerService(newFakeProvider(), config, zerolog.Nop())

			ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
			defer cancel()

			_, err := service.Recommend(ctx, testRequest("AAPL", "MSFT"))
			require.Error(t, err)
			assert.Equal(t, KindInfeasibleConstraints, KindOf(err))
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			assert.NotErrorIs(t, err, ErrInsufficientData)
			assert.NotErrorIs(t, err, ErrDataFetch)
			assert.Contains(t, err.Error(), "timed out")
		})
	}
}

func TestOptimizerService_CancelledDuringFetch(t *testing.T) {
	service := NewOptimizerService(newFakeProvider(), DefaultServiceConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.Recommend(ctx, testRequest("AAPL", "MSFT", "GOOG"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInfeasibleConstraints)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "cancelled")
}
