// Package main is a one-shot command-line front end for the allocation engine.
//
//	allocate --symbols AAPL,MSFT,GOOG --start 2022-01-01 --end 2024-01-01 --target 0.0008
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/di"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/charts"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:   "allocate",
		Usage:  "compute a long-only allocation from historical prices",
		Flags:  flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "symbols",
			Aliases:  []string{"s"},
			Usage:    "comma-separated ticker symbols",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "start",
			Usage: "first date of the price window (YYYY-MM-DD)",
			Value: "2022-01-01",
		},
		&cli.StringFlag{
			Name:  "end",
			Usage: "last date of the price window (YYYY-MM-DD, default today)",
		},
		&cli.Float64Flag{
			Name:  "target",
			Usage: "target expected daily return",
		},
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "one of " + strings.Join(optimization.Strategies(), ", "),
		},
		&cli.BoolFlag{
			Name:  "cache",
			Usage: "read and write the SQLite price cache in DATA_DIR",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   "warn",
			EnvVars: []string{"LOG_LEVEL"},
		},
		&cli.BoolFlag{
			Name:  "full-precision",
			Usage: "print unrounded weights and statistics",
		},
		&cli.PathFlag{
			Name:  "chart",
			Usage: "also write an allocation pie chart to this .png or .svg file",
		},
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.PriceCache.Enabled = c.Bool("cache")

	log := logger.New(logger.Config{
		Level:  c.String("log-level"),
		Pretty: true,
	})

	req, err := buildRequest(c, time.Now())
	if err != nil {
		return err
	}

	container, err := di.Wire(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	return allocate(c, container.OptimizerService, container.ChartService, req)
}

// recommender is the slice of the optimizer service the CLI drives
type recommender interface {
	Recommend(ctx context.Context, req optimization.Request) (*optimization.Result, error)
}

// allocate runs one request and prints its JSON. A domain failure prints
// {"error","kind"} and exits with code 2.
func allocate(c *cli.Context, svc recommender, chartService *charts.Service, req optimization.Request) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")

	result, err := svc.Recommend(c.Context, req)
	if err != nil {
		if kind := optimization.KindOf(err); kind != "" {
			if encErr := enc.Encode(handlers.ErrorResponse{Error: err.Error(), Kind: string(kind)}); encErr != nil {
				return encErr
			}
			return cli.Exit("", 2)
		}
		return err
	}

	if path := c.Path("chart"); path != "" {
		if err := writeChart(chartService, result, path); err != nil {
			return err
		}
	}

	var out interface{} = result.Rounded()
	if c.Bool("full-precision") {
		out = result
	}
	return enc.Encode(out)
}

func writeChart(svc *charts.Service, result *optimization.Result, path string) error {
	format, err := charts.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return err
	}
	img, err := svc.RenderAllocation(result, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, img, 0644); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

func buildRequest(c *cli.Context, now time.Time) (optimization.Request, error) {
	var symbols []string
	for _, s := range c.StringSlice("symbols") {
		symbols = append(symbols, strings.Split(s, ",")...)
	}

	start, err := time.Parse(domain.DateLayout, c.String("start"))
	if err != nil {
		return optimization.Request{}, fmt.Errorf("invalid --start: %w", err)
	}
	end := domain.TruncateDay(now)
	if c.String("end") != "" {
		if end, err = time.Parse(domain.DateLayout, c.String("end")); err != nil {
			return optimization.Request{}, fmt.Errorf("invalid --end: %w", err)
		}
	}

	req := optimization.Request{
		Symbols:  symbols,
		Start:    start,
		End:      end,
		Strategy: c.String("strategy"),
	}
	if c.IsSet("target") {
		target := c.Float64("target")
		req.TargetReturn = &target
	}
	return req, nil
}
