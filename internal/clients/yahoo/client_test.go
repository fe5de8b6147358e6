package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

func unix(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 14, 30, 0, 0, time.UTC).Unix()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestGetAdjustedCloses(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	var gotUA string

	body := `{"chart":{"result":[{
		"timestamp":[` +
		itoa(unix(2024, 1, 2)) + `,` + itoa(unix(2024, 1, 3)) + `,` + itoa(unix(2024, 1, 4)) + `,` + itoa(unix(2024, 1, 5)) + `],
		"indicators":{
			"quote":[{"close":[100.0, 101.0, null, 103.0]}],
			"adjclose":[{"adjclose":[99.5, null, null, 102.5]}]
		}}],"error":null}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient(server.URL, zerolog.Nop())
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	series, err := client.GetAdjustedCloses(context.Background(), "AAPL", start, end)
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1d", gotQuery["interval"][0])
	assert.Equal(t, itoa(start.Unix()), gotQuery["period1"][0])
	assert.Equal(t, itoa(end.AddDate(0, 0, 1).Unix()), gotQuery["period2"][0])
	assert.Contains(t, gotUA, "Mozilla")

	require.Len(t, series, 3)
	assert.Equal(t, domain.PricePoint{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), AdjClose: 99.5}, series[0])
	// Missing adjusted close falls back to close
	assert.Equal(t, 101.0, series[1].AdjClose)
	// Fully null bar skipped
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), series[2].Date)
	assert.NoError(t, series.Validate())
}

func TestGetAdjustedCloses_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, zerolog.Nop()).GetAdjustedCloses(context.Background(), "NOPE", time.Now().AddDate(0, -1, 0), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGetAdjustedCloses_ChartError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Bad Request","description":"Invalid input"}}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, zerolog.Nop()).GetAdjustedCloses(context.Background(), "X", time.Now().AddDate(0, -1, 0), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid input")
}

func TestGetAdjustedCloses_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[],"error":null}}`))
	}))
	defer server.Close()

	series, err := NewClient(server.URL, zerolog.Nop()).GetAdjustedCloses(context.Background(), "X", time.Now().AddDate(0, -1, 0), time.Now())
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestGetAdjustedCloses_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[],"error":null}}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(server.URL, zerolog.Nop()).GetAdjustedCloses(ctx, "X", time.Now().AddDate(0, -1, 0), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}
