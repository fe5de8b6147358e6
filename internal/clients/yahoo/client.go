// Package yahoo fetches daily adjusted closes from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// DefaultBaseURL is the public Yahoo Finance API host
const DefaultBaseURL = "https://query1.finance.yahoo.com"

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Client is a Yahoo Finance chart API client. It implements domain.PriceProvider.
type Client struct {
	client  *http.Client
	baseURL string
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client; an empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetAdjustedCloses returns daily adjusted closes for symbol with start <= date <= end.
// Adjusted close is preferred; bars with neither a usable adjusted close nor a close are skipped.
func (c *Client) GetAdjustedCloses(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	start = domain.TruncateDay(start)
	end = domain.TruncateDay(end)

	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", strconv.FormatInt(start.Unix(), 10))
	// period2 is exclusive
	params.Add("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	params.Add("events", "div,splits")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch historical data: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result chartResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Chart.Error != nil {
		return nil, fmt.Errorf("Yahoo Finance API error: %s: %s", result.Chart.Error.Code, result.Chart.Error.Description)
	}

	if len(result.Chart.Result) == 0 {
		c.log.Warn().Str("symbol", symbol).Msg("No historical data returned")
		return domain.PriceSeries{}, nil
	}

	chartData := result.Chart.Result[0]
	var closes, adjCloses []*float64
	if len(chartData.Indicators.Quote) > 0 {
		closes = chartData.Indicators.Quote[0].Close
	}
	if len(chartData.Indicators.AdjClose) > 0 {
		adjCloses = chartData.Indicators.AdjClose[0].AdjClose
	}

	prices := make(domain.PriceSeries, 0, len(chartData.Timestamp))
	for i, ts := range chartData.Timestamp {
		price := valueAt(adjCloses, i)
		if price <= 0 {
			price = valueAt(closes, i)
		}
		// Yahoo returns null bars for halted days
		if price <= 0 {
			continue
		}

		date := domain.TruncateDay(time.Unix(ts, 0))
		if date.Before(start) || date.After(end) {
			continue
		}
		// Intraday duplicates of the last bar replace the earlier value
		if n := len(prices); n > 0 && !date.After(prices[n-1].Date) {
			if date.Equal(prices[n-1].Date) {
				prices[n-1].AdjClose = price
			}
			continue
		}

		prices = append(prices, domain.PricePoint{Date: date, AdjClose: price})
	}

	c.log.Debug().
		Str("symbol", symbol).
		Str("start", start.Format(domain.DateLayout)).
		Str("end", end.Format(domain.DateLayout)).
		Int("count", len(prices)).
		Msg("Fetched historical prices")

	return prices, nil
}

func valueAt(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	return *values[i]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
