package di

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		DataDir:          t.TempDir(),
		Port:             5000,
		FetchPolicy:      string(optimization.FetchPolicySkip),
		FetchConcurrency: 2,
		DefaultStrategy:  optimization.StrategyMinVariance,
		SolverTolerance:  1e-9,
		SamplerSamples:   100,
		PriceCache: config.PriceCacheConfig{
			Enabled:       true,
			RetentionDays: 30,
			PruneSchedule: "0 0 3 * * *",

			MaintenanceSchedule: "0 30 3 * * 0",
		},
		PriceSource:  config.PriceSourceYahoo,
		YahooBaseURL: "http://127.0.0.1:1",
	}
}

func TestWire(t *testing.T) {
	container, err := Wire(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.NotNil(t, container.HistoryDB)
	assert.NotNil(t, container.YahooClient)
	assert.NotNil(t, container.PriceRepo)
	assert.NotNil(t, container.OptimizerService)
	assert.NotNil(t, container.ChartService)
	assert.NotNil(t, container.Scheduler)
	require.NotNil(t, container.PruneJob)
	assert.Equal(t, "price_cache_prune", container.PruneJob.Name())
	require.NotNil(t, container.MaintenanceJob)
	assert.Equal(t, "cache_maintenance", container.MaintenanceJob.Name())

	_, cached := container.PriceProvider.(*prices.CachedProvider)
	assert.True(t, cached)
}

func TestWire_CacheDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceCache.Enabled = false

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.Nil(t, container.HistoryDB)
	assert.Nil(t, container.PruneJob)
	assert.Nil(t, container.MaintenanceJob)
	assert.Equal(t, container.YahooClient, container.PriceProvider)
}

func TestWire_Alpaca(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceSource = config.PriceSourceAlpaca
	cfg.Alpaca = config.AlpacaConfig{APIKey: "key", APISecret: "secret"}

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	assert.Nil(t, container.YahooClient)
	assert.NotNil(t, container.AlpacaClient)
	_, cached := container.PriceProvider.(*prices.CachedProvider)
	assert.True(t, cached)
}

func TestWire_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceCache.PruneSchedule = "not a schedule"

	_, err := Wire(cfg, zerolog.Nop())
	assert.Error(t, err)
}
