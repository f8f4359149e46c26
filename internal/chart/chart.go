// Package chart renders the pipeline's PNG charts with gonum/plot.
//
// Each chart kind is written to one fixed path and overwritten on every run.
// Runs that render concurrently race on those files; the last writer wins.
package chart

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/estate-predictor/backend/internal/aggregate"
	"github.com/estate-predictor/backend/internal/failure"
	"github.com/estate-predictor/backend/pkg/logger"
)

var (
	orange = color.NRGBA{R: 255, G: 165, A: 178}
	red    = color.NRGBA{R: 214, G: 39, B: 40, A: 255}
	blue   = color.NRGBA{R: 31, G: 119, B: 180, A: 255}
	gray   = color.NRGBA{R: 127, G: 127, B: 127, A: 255}
	dashed = []vg.Length{vg.Points(4), vg.Points(3)}

	numbers = message.NewPrinter(language.English)
)

type Config struct {
	WidthIn  float64
	HeightIn float64
	// Scatter points at or above PriceFilter on either axis are left out.
	PriceFilter  float64
	AxisMax      float64
	TickInterval float64
}

func DefaultConfig() Config {
	return Config{
		WidthIn:      8,
		HeightIn:     8,
		PriceFilter:  250_000_000,
		AxisMax:      200_000_000,
		TickInterval: 50_000_000,
	}
}

type Renderer struct {
	cfg Config
}

func NewRenderer(cfg Config) *Renderer {
	def := DefaultConfig()
	if cfg.WidthIn <= 0 {
		cfg.WidthIn = def.WidthIn
	}
	if cfg.HeightIn <= 0 {
		cfg.HeightIn = def.HeightIn
	}
	if cfg.AxisMax <= 0 {
		cfg.AxisMax = def.AxisMax
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PriceFilter <= 0 {
		cfg.PriceFilter = def.PriceFilter
	}
	return &Renderer{cfg: cfg}
}

// Scatter plots predicted against actual held-out prices with a y = x
// reference line. Predictions are truncated to whole currency units before
// filtering.
func (r *Renderer) Scatter(path string, actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return failure.Newf(failure.KindConfiguration, "scatter chart",
			"%d actual values for %d predictions", len(actual), len(predicted))
	}

	p := plot.New()
	p.Title.Text = "Comparison of Actual vs Predicted Prices"
	p.X.Label.Text = "Actual Price (x 1,000,000)"
	p.Y.Label.Text = "Predicted Price (x 1,000,000)"

	grid := plotter.NewGrid()
	grid.Vertical.Dashes = dashed
	grid.Horizontal.Dashes = dashed
	p.Add(grid)

	pts := make(plotter.XYs, 0, len(actual))
	for i, a := range actual {
		pred := math.Trunc(predicted[i])
		if a < r.cfg.PriceFilter && pred < r.cfg.PriceFilter {
			pts = append(pts, plotter.XY{X: a, Y: pred})
		}
	}
	if len(pts) > 0 {
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to build scatter: %w", err)
		}
		s.GlyphStyle.Color = orange
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
	}

	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: r.cfg.AxisMax, Y: r.cfg.AxisMax}})
	if err != nil {
		return fmt.Errorf("failed to build reference line: %w", err)
	}
	diagonal.LineStyle.Color = red
	diagonal.LineStyle.Width = vg.Points(2)
	diagonal.LineStyle.Dashes = dashed
	p.Add(diagonal)

	p.X.Min, p.X.Max = 0, r.cfg.AxisMax
	p.Y.Min, p.Y.Max = 0, r.cfg.AxisMax
	ticks := r.millionTicks()
	p.X.Tick.Marker = ticks
	p.Y.Tick.Marker = ticks

	return r.save(p, path, "scatter", zap.Int("points", len(pts)), zap.Int("filtered", len(actual)-len(pts)))
}

// Trend plots the mean actual transaction price per year.
func (r *Renderer) Trend(path string, years []aggregate.YearMean) error {
	p := plot.New()
	p.Title.Text = "Average Transaction Price by Year"
	p.X.Label.Text = "Transaction Year"
	p.Y.Label.Text = "Average Price"
	p.Add(plotter.NewGrid())

	if len(years) > 0 {
		pts := make(plotter.XYs, len(years))
		ticks := make(plot.ConstantTicks, len(years))
		for i, y := range years {
			pts[i] = plotter.XY{X: float64(y.Year), Y: y.MeanPrice}
			ticks[i] = plot.Tick{Value: float64(y.Year), Label: strconv.Itoa(y.Year)}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("failed to build trend line: %w", err)
		}
		line.LineStyle.Color = blue
		line.LineStyle.Width = vg.Points(1.5)
		points.GlyphStyle.Color = blue
		points.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(line, points)
		p.X.Tick.Marker = ticks
		if len(years) == 1 {
			p.X.Min, p.X.Max = pts[0].X-1, pts[0].X+1
		}
	}

	return r.save(p, path, "trend", zap.Int("years", len(years)))
}

// WardComparison draws mean predicted and mean actual price side by side per
// ward.
func (r *Renderer) WardComparison(path string, rows []aggregate.WardRow) error {
	p := plot.New()
	p.Title.Text = "Mean Price by Ward"
	p.Y.Label.Text = "Price (x 1,000,000)"
	p.Legend.Top = true

	if len(rows) > 0 {
		names := make([]string, len(rows))
		predicted := make(plotter.Values, len(rows))
		actual := make(plotter.Values, len(rows))
		for i, row := range rows {
			names[i] = row.Ward
			predicted[i] = float64(row.Predicted) / 1e6
			actual[i] = float64(row.Actual) / 1e6
		}

		width := vg.Points(12)
		predBars, err := plotter.NewBarChart(predicted, width)
		if err != nil {
			return fmt.Errorf("failed to build predicted bars: %w", err)
		}
		predBars.Color = orange
		predBars.Offset = -width / 2

		actualBars, err := plotter.NewBarChart(actual, width)
		if err != nil {
			return fmt.Errorf("failed to build actual bars: %w", err)
		}
		actualBars.Color = gray
		actualBars.Offset = width / 2

		p.Add(predBars, actualBars)
		p.Legend.Add("Predicted", predBars)
		p.Legend.Add("Actual", actualBars)
		p.NominalX(names...)
	}

	return r.save(p, path, "ward comparison", zap.Int("wards", len(rows)))
}

func (r *Renderer) millionTicks() plot.ConstantTicks {
	var ticks plot.ConstantTicks
	for v := 0.0; v <= r.cfg.AxisMax+r.cfg.TickInterval/2; v += r.cfg.TickInterval {
		ticks = append(ticks, plot.Tick{Value: v, Label: numbers.Sprintf("%d", int64(v/1e6))})
	}
	return ticks
}

func (r *Renderer) save(p *plot.Plot, path, kind string, fields ...zap.Field) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failure.New(failure.KindIO, "save chart", err)
	}
	w := vg.Length(r.cfg.WidthIn) * vg.Inch
	h := vg.Length(r.cfg.HeightIn) * vg.Inch
	if err := p.Save(w, h, path); err != nil {
		return failure.New(failure.KindIO, "save chart", err)
	}
	logger.Info("Chart saved", append([]zap.Field{zap.String("kind", kind), zap.String("path", path)}, fields...)...)
	return nil
}
