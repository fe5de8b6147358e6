// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"
)

// PricePoint is one adjusted closing price observation
type PricePoint struct {
	Date     time.Time `json:"date"`
	AdjClose float64   `json:"adj_close"`
}

// PriceSeries is a chronologically ordered sequence of adjusted closes for one symbol.
// Dates are strictly increasing; the series is owned by the caller and treated as read-only.
type PriceSeries []PricePoint

// Validate checks that dates are strictly increasing (which also rules out duplicates).
func (s PriceSeries) Validate() error {
	for i := 1; i < len(s); i++ {
		if !s[i].Date.After(s[i-1].Date) {
			return fmt.Errorf("price series not strictly increasing at index %d (%s after %s)",
				i, s[i].Date.Format(DateLayout), s[i-1].Date.Format(DateLayout))
		}
	}
	return nil
}

// Dates returns the observation dates in order
func (s PriceSeries) Dates() []time.Time {
	dates := make([]time.Time, len(s))
	for i, p := range s {
		dates[i] = p.Date
	}
	return dates
}

// Between returns the sub-series with start <= date <= end.
func (s PriceSeries) Between(start, end time.Time) PriceSeries {
	out := make(PriceSeries, 0, len(s))
	for _, p := range s {
		if p.Date.Before(start) || p.Date.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// DateLayout is the calendar-date format used at every boundary (requests, cache keys, logs)
const DateLayout = "2006-01-02"

// TruncateDay normalizes a timestamp to midnight UTC of its calendar day.
// Providers report closes with exchange-local timestamps; alignment works on calendar days.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
