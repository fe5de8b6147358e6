// Package prices provides a SQLite read-through cache of daily adjusted closes.
package prices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
)

// Coverage is the inclusive date range for which a symbol's cached rows are complete
type Coverage struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether [start, end] lies within the coverage
func (c Coverage) Contains(start, end time.Time) bool {
	return !start.Before(c.Start) && !end.After(c.End)
}

// Repository handles cached price database operations
// Database: history.db (daily_prices, price_coverage tables)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new price repository
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// GetPrices returns cached closes for symbol with start <= date <= end, oldest first
func (r *Repository) GetPrices(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	query := `SELECT date, adj_close FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`

	rows, err := r.db.QueryContext(ctx, query, symbol, start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	series := make(domain.PriceSeries, 0)
	for rows.Next() {
		var dateStr string
		var adjClose float64
		if err := rows.Scan(&dateStr, &adjClose); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		date, err := time.Parse(domain.DateLayout, dateStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cached date %q for %s: %w", dateStr, symbol, err)
		}
		series = append(series, domain.PricePoint{Date: date, AdjClose: adjClose})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return series, nil
}

// GetCoverage returns the symbol's cached coverage; ok is false when nothing is cached
func (r *Repository) GetCoverage(ctx context.Context, symbol string) (Coverage, bool, error) {
	var startStr, endStr string
	err := r.db.QueryRowContext(ctx,
		"SELECT start_date, end_date FROM price_coverage WHERE symbol = ?", symbol,
	).Scan(&startStr, &endStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Coverage{}, false, nil
	}
	if err != nil {
		return Coverage{}, false, fmt.Errorf("failed to query coverage for %s: %w", symbol, err)
	}

	start, err := time.Parse(domain.DateLayout, startStr)
	if err != nil {
		return Coverage{}, false, fmt.Errorf("invalid coverage start %q: %w", startStr, err)
	}
	end, err := time.Parse(domain.DateLayout, endStr)
	if err != nil {
		return Coverage{}, false, fmt.Errorf("invalid coverage end %q: %w", endStr, err)
	}

	return Coverage{Start: start, End: end}, true, nil
}

// Store upserts series and records [start, end] as covered. A range that overlaps or
// touches the existing coverage extends it; a disjoint range replaces it.
func (r *Repository) Store(ctx context.Context, symbol string, series domain.PriceSeries, start, end time.Time) error {
	existing, ok, err := r.GetCoverage(ctx, symbol)
	if err != nil {
		return err
	}

	coverage := Coverage{Start: start, End: end}
	if ok && !start.After(existing.End.AddDate(0, 0, 1)) && !end.Before(existing.Start.AddDate(0, 0, -1)) {
		if existing.Start.Before(coverage.Start) {
			coverage.Start = existing.Start
		}
		if existing.End.After(coverage.End) {
			coverage.End = existing.End
		}
	}

	now := time.Now().Unix()
	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_prices (symbol, date, adj_close, fetched_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET adj_close = excluded.adj_close, fetched_at = excluded.fetched_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare price upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range series {
			if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format(domain.DateLayout), p.AdjClose, now); err != nil {
				return fmt.Errorf("failed to upsert price for %s on %s: %w", symbol, p.Date.Format(domain.DateLayout), err)
			}
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO price_coverage (symbol, start_date, end_date, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET start_date = excluded.start_date, end_date = excluded.end_date, updated_at = excluded.updated_at`,
			symbol, coverage.Start.Format(domain.DateLayout), coverage.End.Format(domain.DateLayout), now)
		if err != nil {
			return fmt.Errorf("failed to update coverage for %s: %w", symbol, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().
		Str("symbol", symbol).
		Int("rows", len(series)).
		Str("coverage_start", coverage.Start.Format(domain.DateLayout)).
		Str("coverage_end", coverage.End.Format(domain.DateLayout)).
		Msg("Stored prices")

	return nil
}

// DeleteOlderThan removes rows dated before cutoff and trims coverage to match.
// Returns the number of price rows deleted.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffStr := cutoff.Format(domain.DateLayout)
	var deleted int64

	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM daily_prices WHERE date < ?", cutoffStr)
		if err != nil {
			return fmt.Errorf("failed to delete old prices: %w", err)
		}
		deleted, _ = result.RowsAffected()

		if _, err := tx.ExecContext(ctx, "DELETE FROM price_coverage WHERE end_date < ?", cutoffStr); err != nil {
			return fmt.Errorf("failed to delete expired coverage: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE price_coverage SET start_date = ? WHERE start_date < ?", cutoffStr, cutoffStr); err != nil {
			return fmt.Errorf("failed to trim coverage: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// CountRows returns the number of cached price rows
func (r *Repository) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count daily prices: %w", err)
	}
	return n, nil
}
