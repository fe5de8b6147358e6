package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/optimization/handlers"
)

func parse(t *testing.T, now time.Time, args ...string) (optimization.Request, error) {
	t.Helper()
	var req optimization.Request
	var buildErr error
	app := &cli.App{
		Name:  "allocate",
		Flags: flags(),
		Action: func(c *cli.Context) error {
			req, buildErr = buildRequest(c, now)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"allocate"}, args...)))
	return req, buildErr
}

func TestBuildRequest(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	req, err := parse(t, now, "--symbols", "AAPL,MSFT", "--symbols", "GOOG", "--end", "2023-12-31", "--target", "0.001", "--strategy", "hrp")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, req.Symbols)
	assert.Equal(t, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), req.Start)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), req.End)
	require.NotNil(t, req.TargetReturn)
	assert.Equal(t, 0.001, *req.TargetReturn)
	assert.Equal(t, optimization.StrategyHRP, req.Strategy)
}

func TestBuildRequest_Defaults(t *testing.T) {
	now := time.Date(2024, 3, 15, 18, 0, 0, 0, time.UTC)

	req, err := parse(t, now, "--symbols", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), req.End)
	assert.Nil(t, req.TargetReturn)
	assert.Empty(t, req.Strategy)
}

func TestBuildRequest_InvalidDate(t *testing.T) {
	_, err := parse(t, time.Now(), "--symbols", "AAPL", "--start", "2022/01/01")
	assert.ErrorContains(t, err, "--start")
}

func TestWriteChart(t *testing.T) {
	result := &optimization.Result{
		Symbols:  []string{"AAPL", "MSFT"},
		Weights:  []float64{0.25, 0.75},
		Strategy: optimization.StrategyMinVariance,
	}
	svc := charts.NewService(zerolog.Nop())
	dir := t.TempDir()

	path := filepath.Join(dir, "allocation.svg")
	require.NoError(t, writeChart(svc, result, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")

	assert.Error(t, writeChart(svc, result, filepath.Join(dir, "allocation.gif")))
}

type stubRecommender struct {
	result *optimization.Result
	err    error
}

func (s *stubRecommender) Recommend(context.Context, optimization.Request) (*optimization.Result, error) {
	return s.result, s.err
}

// runAllocate drives allocate through a cli.App without exiting the process
func runAllocate(t *testing.T, svc recommender, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:           "allocate",
		Flags:          flags(),
		Writer:         &out,
		ExitErrHandler: func(*cli.Context, error) {},
		Action: func(c *cli.Context) error {
			req, err := buildRequest(c, time.Now())
			if err != nil {
				return err
			}
			return allocate(c, svc, charts.NewService(zerolog.Nop()), req)
		},
	}
	err := app.Run(append([]string{"allocate"}, args...))
	return &out, err
}

func TestAllocate_PrintsRoundedResult(t *testing.T) {
	svc := &stubRecommender{result: &optimization.Result{
		Symbols:        []string{"AAPL", "MSFT"},
		Weights:        []float64{0.254, 0.746},
		ExpectedReturn: 0.000812345,
		Volatility:     0.0123456,
		SharpeRatio:    0.0658,
		Strategy:       optimization.StrategyMinVariance,
	}}

	out, err := runAllocate(t, svc, "--symbols", "AAPL,MSFT")
	require.NoError(t, err)

	var rounded optimization.RoundedResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &rounded))
	assert.Equal(t, map[string]float64{"AAPL": 0.25, "MSFT": 0.75}, rounded.Allocation)
	assert.Equal(t, 0.0008, rounded.ExpectedReturn)
}

func TestAllocate_DomainFailurePrintsKindAndExitsTwo(t *testing.T) {
	svc := &stubRecommender{err: optimization.NewInfeasibleConstraintsError("target above attainable range", nil)}

	out, err := runAllocate(t, svc, "--symbols", "AAPL,MSFT", "--target", "1")
	require.Error(t, err)

	var exitErr cli.ExitCoder
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.ExitCode())

	var body handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, string(optimization.KindInfeasibleConstraints), body.Kind)
	assert.Contains(t, body.Error, "target above attainable range")
}

func TestAllocate_OtherErrorsPassThrough(t *testing.T) {
	svc := &stubRecommender{err: optimization.ErrUnknownStrategy}

	out, err := runAllocate(t, svc, "--symbols", "AAPL")
	require.ErrorIs(t, err, optimization.ErrUnknownStrategy)
	assert.Empty(t, out.String())
}
