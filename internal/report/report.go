// Package report renders recorded sessions as an interactive HTML chart page
// and as a static PNG plot.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/inspec/internal/session"
)

// ErrNoData is returned when a session has no minutes to draw.
var ErrNoData = errors.New("session has no recorded minutes")

// RenderHTML writes a go-echarts page with the per-minute variance and sleep
// levels and a bar chart of event counts.
func RenderHTML(w io.Writer, sess session.Session, minutes []session.Minute, events []session.Event) error {
	if len(minutes) == 0 {
		return ErrNoData
	}

	x := make([]string, len(minutes))
	mean := make([]opts.LineData, len(minutes))
	peak := make([]opts.LineData, len(minutes))
	rem := make([]opts.LineData, len(minutes))
	nrem := make([]opts.LineData, len(minutes))
	quality := make([]opts.LineData, len(minutes))
	for i, m := range minutes {
		x[i] = session.MinuteStamp(m.Minute)
		mean[i] = opts.LineData{Value: m.MeanVariance}
		peak[i] = opts.LineData{Value: m.PeakVariance}
		rem[i] = opts.LineData{Value: m.MaxREM}
		nrem[i] = opts.LineData{Value: m.MaxNREM}
		quality[i] = opts.LineData{Value: m.Quality}
	}

	subtitle := fmt.Sprintf("researcher=%s started=%s", sess.Researcher, sess.StartedAt.Format("2006-01-02 15:04"))

	variance := charts.NewLine()
	variance.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "INSPEC session", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Variance", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	variance.SetXAxis(x).
		AddSeries("mean", mean).
		AddSeries("peak", peak)

	levels := charts.NewLine()
	levels.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Levels"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	levels.SetXAxis(x).
		AddSeries("rem", rem).
		AddSeries("nrem1", nrem).
		AddSeries("quality", quality)

	page := components.NewPage()
	page.PageTitle = "INSPEC session " + sess.ID
	page.AddCharts(variance, levels)

	if len(events) > 0 {
		names, counts := countEvents(events)
		bars := make([]opts.BarData, len(counts))
		for i, c := range counts {
			bars[i] = opts.BarData{Value: c}
		}
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
			charts.WithTitleOpts(opts.Title{Title: "Events"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		bar.SetXAxis(names).
			AddSeries("events", bars,
				charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			)
		page.AddCharts(bar)
	}

	return page.Render(w)
}

func countEvents(events []session.Event) ([]string, []int) {
	byName := make(map[string]int)
	for _, e := range events {
		byName[e.Name]++
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	counts := make([]int, len(names))
	for i, n := range names {
		counts[i] = byName[n]
	}
	return names, counts
}

// PNG dimensions.
const (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 4 * vg.Inch
)

// RenderPNG writes a gonum/plot PNG of mean variance with the REM and NREM1
// levels scaled onto the same axis.
func RenderPNG(w io.Writer, sess session.Session, minutes []session.Minute) error {
	if len(minutes) == 0 {
		return ErrNoData
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s", sess.StartedAt.Format("2006-01-02 15:04"))
	p.X.Label.Text = "Minute"
	p.Y.Label.Text = "Variance"

	meanPts := make(plotter.XYs, len(minutes))
	remPts := make(plotter.XYs, len(minutes))
	nremPts := make(plotter.XYs, len(minutes))
	peakVariance := 0.0
	for _, m := range minutes {
		peakVariance = max(peakVariance, m.MeanVariance)
	}
	// Levels run 0..8; stretch them to the variance range so both read.
	levelScale := 1.0
	if peakVariance > 0 {
		levelScale = peakVariance / 8
	}
	for i, m := range minutes {
		x := float64(m.Minute)
		meanPts[i] = plotter.XY{X: x, Y: m.MeanVariance}
		remPts[i] = plotter.XY{X: x, Y: float64(m.MaxREM) * levelScale}
		nremPts[i] = plotter.XY{X: x, Y: float64(m.MaxNREM) * levelScale}
	}

	series := []struct {
		name string
		pts  plotter.XYs
		c    color.Color
	}{
		{"mean variance", meanPts, color.RGBA{R: 31, G: 119, B: 180, A: 255}},
		{"rem (scaled)", remPts, color.RGBA{R: 214, G: 39, B: 40, A: 255}},
		{"nrem1 (scaled)", nremPts, color.RGBA{R: 44, G: 160, B: 44, A: 255}},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return err
		}
		line.Color = s.c
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
