package di

import (
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/clients/alpaca"
	"github.com/aristath/allocator/internal/clients/yahoo"
	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
)

// InitializeServices builds the market-data chain and the optimizer service.
// The upstream client is fronted by the SQLite cache when history.db is open.
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) {
	switch cfg.PriceSource {
	case config.PriceSourceAlpaca:
		container.AlpacaClient = alpaca.NewClient(alpaca.Config{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			Feed:      cfg.Alpaca.Feed,
		}, log)
		container.PriceProvider = container.AlpacaClient
	default:
		container.YahooClient = yahoo.NewClient(cfg.YahooBaseURL, log)
		container.PriceProvider = container.YahooClient
	}

	if container.HistoryDB != nil {
		container.PriceRepo = prices.NewRepository(container.HistoryDB, log)
		container.PriceProvider = prices.NewCachedProvider(container.PriceProvider, container.PriceRepo, log)
	}

	container.OptimizerService = optimization.NewOptimizerService(container.PriceProvider, cfg.ServiceConfig(), log)
	container.ChartService = charts.NewService(log)
}
