package monitor

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

const radToDeg = 180 / math.Pi

// RenderReport writes an HTML page summarising intr: the vertical model of
// every scanline, the points assigned to each, the horizontal sampling,
// and, when traces are given, the unassigned count per iteration.
func RenderReport(w io.Writer, intr *intrinsics.Intrinsics, traces []debug.IterationTrace, title string) error {
	if intr == nil {
		return fmt.Errorf("render report: nil intrinsics")
	}
	subtitle := fmt.Sprintf("scanlines=%d points=%d unassigned=%d iterations=%d end=%s",
		intr.ScanlinesCount, intr.PointsCount, intr.UnassignedPoints, intr.VerticalIterations, intr.EndReason)

	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		verticalChart(intr, title, subtitle),
		pointsChart(intr),
		columnsChart(intr),
	)
	if len(traces) > 0 {
		page.AddCharts(convergenceChart(traces))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteReport renders the report to path, creating parent directories.
func WriteReport(path string, intr *intrinsics.Intrinsics, traces []debug.IterationTrace, title string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := RenderReport(f, intr, traces, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func verticalChart(intr *intrinsics.Intrinsics, title, subtitle string) *charts.Scatter {
	accepted := make([]opts.ScatterData, 0, len(intr.Scanlines))
	heuristic := make([]opts.ScatterData, 0)
	for i := range intr.Scanlines {
		s := &intr.Scanlines[i]
		pt := opts.ScatterData{
			Name:  "scanline " + strconv.Itoa(s.ID),
			Value: []interface{}{s.VerticalAngle.Value * radToDeg, s.VerticalOffset.Value},
		}
		if s.Uncertainty.IsAccepted() {
			accepted = append(accepted, pt)
		} else {
			heuristic = append(heuristic, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "1000px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Vertical model", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "angle (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "offset (m)", NameLocation: "middle", NameGap: 40}),
	)
	scatter.AddSeries("accepted", accepted, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	if len(heuristic) > 0 {
		scatter.AddSeries("heuristic", heuristic, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	return scatter
}

func scanlineLabels(intr *intrinsics.Intrinsics) []string {
	x := make([]string, len(intr.Scanlines))
	for i := range intr.Scanlines {
		x[i] = strconv.Itoa(intr.Scanlines[i].ID)
	}
	return x
}

func pointsChart(intr *intrinsics.Intrinsics) *charts.Bar {
	y := make([]opts.BarData, len(intr.Scanlines))
	for i := range intr.Scanlines {
		y[i] = opts.BarData{Value: intr.Scanlines[i].PointsCount}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Points per scanline"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scanline"}),
	)
	bar.SetXAxis(scanlineLabels(intr)).AddSeries("points", y)
	return bar
}

func columnsChart(intr *intrinsics.Intrinsics) *charts.Bar {
	measured := make([]opts.BarData, len(intr.Scanlines))
	borrowed := make([]opts.BarData, len(intr.Scanlines))
	for i := range intr.Scanlines {
		s := &intr.Scanlines[i]
		if s.HorizontalHeuristic {
			measured[i] = opts.BarData{Value: 0}
			borrowed[i] = opts.BarData{Value: s.ColumnsPerTurn}
			continue
		}
		measured[i] = opts.BarData{Value: s.ColumnsPerTurn}
		borrowed[i] = opts.BarData{Value: 0}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Columns per turn"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scanline"}),
	)
	bar.SetXAxis(scanlineLabels(intr)).
		AddSeries("measured", measured, charts.WithBarChartOpts(opts.BarChart{Stack: "columns"})).
		AddSeries("fallback", borrowed, charts.WithBarChartOpts(opts.BarChart{Stack: "columns"}))
	return bar
}

func convergenceChart(traces []debug.IterationTrace) *charts.Line {
	x := make([]string, len(traces))
	unassigned := make([]opts.LineData, len(traces))
	votes := make([]opts.LineData, len(traces))
	for i := range traces {
		x[i] = strconv.Itoa(traces[i].Iteration)
		unassigned[i] = opts.LineData{Value: traces[i].Unassigned}
		votes[i] = opts.LineData{Value: traces[i].PeakVotes}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1000px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Convergence"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
	)
	line.SetXAxis(x).
		AddSeries("unassigned points", unassigned).
		AddSeries("peak votes", votes)
	return line
}
