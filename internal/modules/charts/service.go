// Package charts renders allocation results as images.
package charts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	charts "github.com/vicanso/go-charts/v2"

	"github.com/aristath/allocator/internal/modules/optimization"
)

// Format is an image encoding
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// ParseFormat accepts "png" and "svg"; empty means png
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatPNG:
		return FormatPNG, nil
	case FormatSVG:
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("unsupported chart format %q (supported: png, svg)", s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatSVG {
		return "image/svg+xml"
	}
	return "image/png"
}

// minSliceWeight hides positions that round to zero at presentation precision
const minSliceWeight = 0.005

// Slice is one labelled pie segment
type Slice struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Service renders allocation charts
type Service struct {
	width  int
	height int
	log    zerolog.Logger
}

// NewService creates a new charts service
func NewService(log zerolog.Logger) *Service {
	return &Service{
		width:  800,
		height: 600,
		log:    log.With().Str("service", "charts").Logger(),
	}
}

// Slices returns the visible positions, largest first
func Slices(result *optimization.Result) []Slice {
	slices := make([]Slice, 0, len(result.Symbols))
	for i, sym := range result.Symbols {
		if result.Weights[i] < minSliceWeight {
			continue
		}
		slices = append(slices, Slice{Symbol: sym, Weight: result.Weights[i]})
	}
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].Weight > slices[j].Weight })
	return slices
}

// RenderAllocation draws the allocation as a pie chart with the portfolio statistics as subtitle.
func (s *Service) RenderAllocation(result *optimization.Result, format Format) ([]byte, error) {
	slices := Slices(result)
	if len(slices) == 0 {
		return nil, fmt.Errorf("allocation has no visible positions")
	}

	values := make([]float64, len(slices))
	labels := make([]string, len(slices))
	for i, sl := range slices {
		values[i] = sl.Weight
		labels[i] = fmt.Sprintf("%s (%.1f%%)", sl.Symbol, sl.Weight*100)
	}

	rounded := result.Rounded()
	subtitle := fmt.Sprintf("return %.4f • volatility %.4f • sharpe %.4f",
		rounded.ExpectedReturn, rounded.Volatility, rounded.SharpeRatio)

	opts := []charts.OptionFunc{
		charts.TitleTextOptionFunc("Allocation • "+result.Strategy, subtitle),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: labels,
			Top:  charts.PositionBottom,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(s.width),
		charts.HeightOptionFunc(s.height),
	}
	if format == FormatSVG {
		opts = append(opts, charts.SVGTypeOption())
	}

	p, err := charts.PieRender(values, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to render allocation chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocation chart: %w", err)
	}

	s.log.Debug().
		Int("slices", len(slices)).
		Str("format", string(format)).
		Int("bytes", len(buf)).
		Msg("Rendered allocation chart")

	return buf, nil
}
