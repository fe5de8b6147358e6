package optimization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/allocator/internal/domain"
)

// FetchPolicy decides what happens when one symbol's history can't be used
type FetchPolicy string

const (
	// FetchPolicySkip drops the symbol, records it in Result.Skipped and continues
	FetchPolicySkip FetchPolicy = "skip"
	// FetchPolicyAbort fails the whole request on the first bad symbol
	FetchPolicyAbort FetchPolicy = "abort"
)

// ParseFetchPolicy validates a policy name; empty means skip.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch FetchPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FetchPolicySkip:
		return FetchPolicySkip, nil
	case FetchPolicyAbort:
		return FetchPolicyAbort, nil
	default:
		return "", fmt.Errorf("invalid fetch policy %q (must be skip or abort)", s)
	}
}

// ServiceConfig configures OptimizerService
type ServiceConfig struct {
	FetchPolicy      FetchPolicy
	FetchConcurrency int
	SolveTimeout     time.Duration
	DefaultStrategy  string
	Strategies       Settings
}

// DefaultServiceConfig returns the configuration used when none is given
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		FetchPolicy:      FetchPolicySkip,
		FetchConcurrency: 4,
		SolveTimeout:     30 * time.Second,
		DefaultStrategy:  StrategyMinVariance,
		Strategies:       DefaultSettings(),
	}
}

// Request is one allocation request
type Request struct {
	Symbols      []string
	Start        time.Time
	End          time.Time
	TargetReturn *float64
	Strategy     string // empty selects the configured default
}

// OptimizerService fetches price history and runs a strategy over it.
// It holds no per-request state and is safe for concurrent use.
type OptimizerService struct {
	provider    domain.PriceProvider
	constraints *ConstraintsManager
	config      ServiceConfig
	log         zerolog.Logger
}

// NewOptimizerService creates a new optimizer service.
func NewOptimizerService(provider domain.PriceProvider, config ServiceConfig, log zerolog.Logger) *OptimizerService {
	if config.FetchPolicy == "" {
		config.FetchPolicy = FetchPolicySkip
	}
	if config.FetchConcurrency <= 0 {
		config.FetchConcurrency = 1
	}
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = StrategyMinVariance
	}
	return &OptimizerService{
		provider:    provider,
		constraints: NewConstraintsManager(log),
		config:      config,
		log:         log.With().Str("component", "optimizer_service").Logger(),
	}
}

// NormalizeSymbols trims, upper-cases and de-duplicates symbols, keeping first occurrence order.
func NormalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Recommend runs one allocation request end to end.
func (s *OptimizerService) Recommend(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	log := s.log.With().Str("run_id", runID).Logger()
	started := time.Now()

	symbols := NormalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, NewNoSymbolsError()
	}

	strategyName := req.Strategy
	if strategyName == "" {
		strategyName = s.config.DefaultStrategy
	}
	strategy, err := NewStrategy(strategyName, s.config.Strategies, s.log)
	if err != nil {
		return nil, err
	}

	log.Info().
		Strs("symbols", symbols).
		Str("start", req.Start.Format(domain.DateLayout)).
		Str("end", req.End.Format(domain.DateLayout)).
		Str("strategy", strategy.Name()).
		Bool("has_target", req.TargetReturn != nil).
		Msg("Starting optimization")

	series, skipped, err := s.fetchAll(ctx, symbols, req.Start, req.End)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(KindOf(err))).Msg("Price fetch failed")
		return nil, err
	}

	usable := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := series[sym]; ok {
			usable = append(usable, sym)
		}
	}
	if len(usable) == 0 {
		return nil, NewInsufficientDataError("", "no symbol returned usable price history")
	}

	pm, err := AlignPrices(series, usable)
	if err != nil {
		return nil, err
	}
	stats, err := BuildStatistics(pm)
	if err != nil {
		return nil, err
	}

	if pairs := HighCorrelations(stats, HighCorrelationThreshold); len(pairs) > 0 {
		for _, p := range pairs {
			log.Debug().
				Str("symbol1", p.Symbol1).
				Str("symbol2", p.Symbol2).
				Float64("correlation", p.Correlation).
				Msg("Highly correlated inputs")
		}
	}
	summary := s.constraints.GetConstraintSummary(stats, req.TargetReturn)
	log.Debug().
		Int("assets", summary.Assets).
		Float64("min_return", summary.MinReturn).
		Float64("max_return", summary.MaxReturn).
		Int("observations", stats.Observations).
		Msg("Statistics built")

	solveCtx := ctx
	if s.config.SolveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.config.SolveTimeout)
		defer cancel()
	}

	result, err := Optimize(solveCtx, strategy, stats, req.TargetReturn)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = NewInfeasibleConstraintsError(
				fmt.Sprintf("optimization timed out after %s", s.config.SolveTimeout), err)
		}
		log.Warn().Err(err).Str("kind", string(KindOf(err))).Msg("Optimization failed")
		return nil, err
	}

	result.Skipped = skipped
	result.RunID = runID

	log.Info().
		Float64("expected_return", result.ExpectedReturn).
		Float64("volatility", result.Volatility).
		Float64("sharpe_ratio", result.SharpeRatio).
		Int("iterations", result.Iterations).
		Int("skipped", len(skipped)).
		Dur("duration", time.Since(started)).
		Msg("Optimization completed")

	return result, nil
}

// fetchAll retrieves every symbol's history concurrently. Under the skip policy a
// failing symbol is recorded and omitted; under abort the first failure is returned.
func (s *OptimizerService) fetchAll(ctx context.Context, symbols []string, start, end time.Time) (map[string]domain.PriceSeries, []SkippedSymbol, error) {
	var mu sync.Mutex
	series := make(map[string]domain.PriceSeries, len(symbols))
	failures := make(map[string]*Error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.FetchConcurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			ps, err := s.provider.GetAdjustedCloses(gctx, symbol, start, end)
			if err != nil && ctx.Err() != nil {
				// The caller gave up; this is not the symbol's fault
				return interruptedError(ctx)
			}
			if err == nil {
				err = CheckSeries(symbol, ps)
			} else {
				err = NewDataFetchError(symbol, err)
			}

			if err != nil {
				var oe *Error
				errors.As(err, &oe)
				if s.config.FetchPolicy == FetchPolicyAbort {
					return oe
				}
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("Skipping symbol")
				mu.Lock()
				failures[symbol] = oe
				mu.Unlock()
				return nil
			}

			mu.Lock()
			series[symbol] = ps
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return nil, nil, interruptedError(ctx)
	}

	// Report skips in request order
	skipped := make([]SkippedSymbol, 0, len(failures))
	for _, symbol := range symbols {
		if oe, ok := failures[symbol]; ok {
			reason := oe.Message
			if oe.Err != nil {
				reason = reason + ": " + oe.Err.Error()
			}
			skipped = append(skipped, SkippedSymbol{Symbol: symbol, Kind: oe.Kind, Reason: reason})
		}
	}

	return series, skipped, nil
}

// interruptedError maps an expired or cancelled request context into the
// non-convergence channel, keeping the context error matchable.
func interruptedError(ctx context.Context) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return NewInfeasibleConstraintsError("optimization timed out while fetching prices", ctx.Err())
	}
	return NewInfeasibleConstraintsError("optimization cancelled while fetching prices", ctx.Err())
}
