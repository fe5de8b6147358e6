// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/aristath/allocator/internal/clients/alpaca"
	"github.com/aristath/allocator/internal/clients/yahoo"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/aristath/allocator/internal/scheduler"
)

// Container holds all dependencies for the application.
// HistoryDB, PriceRepo and the background jobs are nil when the price cache is disabled.
type Container struct {
	// Databases
	HistoryDB *database.DB

	// Clients; exactly one is set, per PRICE_SOURCE
	YahooClient  *yahoo.Client
	AlpacaClient *alpaca.Client

	// Repositories
	PriceRepo *prices.Repository

	// Services
	PriceProvider    domain.PriceProvider
	OptimizerService *optimization.OptimizerService
	ChartService     *charts.Service

	// Background jobs
	Scheduler      *scheduler.Scheduler
	PruneJob       *prices.PruneJob
	MaintenanceJob *reliability.MaintenanceJob
}

// Close releases the container's databases
func (c *Container) Close() error {
	if c.HistoryDB != nil {
		return c.HistoryDB.Close()
	}
	return nil
}
