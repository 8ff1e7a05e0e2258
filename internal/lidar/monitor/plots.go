// Package monitor renders diagnostics of intrinsics estimation runs: PNG
// plots of iteration traces, accumulator windows and range images
// (gonum/plot), and an HTML scanline report (go-echarts).
package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/rangeimage"
)

var (
	colourUnassigned = color.RGBA{R: 160, G: 160, B: 160, A: 255}
	colourAssigned   = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	colourBand       = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	colourLimit      = color.RGBA{R: 40, G: 90, B: 220, A: 255}
)

// PlotIteration draws the (1/r, phi) plane of one iteration: points still
// unassigned, points already assigned, the candidate band members and the
// band limits.
func PlotIteration(tr *debug.IterationTrace, path string) error {
	if tr == nil || len(tr.Ranges) == 0 {
		return fmt.Errorf("plot iteration: empty trace")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Iteration %d - %s (votes=%d)", tr.Iteration, tr.Outcome, tr.PeakVotes)
	p.X.Label.Text = "1/r (1/m)"
	p.Y.Label.Text = "phi (rad)"

	n := len(tr.Ranges)
	if len(tr.Phis) != n || len(tr.InScanline) != n || len(tr.UnassignedMask) != n ||
		len(tr.LowerLimit) != n || len(tr.UpperLimit) != n {
		return fmt.Errorf("plot iteration: mismatched arrays")
	}

	var unassigned, assigned, band, lower, upper plotter.XYs
	for i, r := range tr.Ranges {
		x := 1 / r
		switch {
		case tr.InScanline[i]:
			band = append(band, plotter.XY{X: x, Y: tr.Phis[i]})
			lower = append(lower, plotter.XY{X: x, Y: tr.LowerLimit[i]})
			upper = append(upper, plotter.XY{X: x, Y: tr.UpperLimit[i]})
		case tr.UnassignedMask[i]:
			unassigned = append(unassigned, plotter.XY{X: x, Y: tr.Phis[i]})
		default:
			assigned = append(assigned, plotter.XY{X: x, Y: tr.Phis[i]})
		}
	}

	layers := []struct {
		name string
		pts  plotter.XYs
		c    color.Color
		r    float64
	}{
		{"assigned", assigned, colourAssigned, 0.5},
		{"unassigned", unassigned, colourUnassigned, 0.5},
		{"band limits", lower, colourLimit, 0.3},
		{"", upper, colourLimit, 0.3},
		{"candidate", band, colourBand, 1},
	}
	for _, l := range layers {
		if len(l.pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(l.pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = l.c
		s.GlyphStyle.Radius = vg.Points(l.r)
		p.Add(s)
		if l.name != "" {
			p.Legend.Add(l.name, s)
		}
	}
	p.Legend.Top = true

	return save(p, 10*vg.Inch, 6*vg.Inch, path)
}

// PlotAssignment draws the (1/r, phi) plane coloured by scanline row.
// Unassigned points (row < 0) are grey.
func PlotAssignment(ranges, phis []float64, rows []int, scanlines int, path string) error {
	if len(ranges) == 0 || len(ranges) != len(phis) || len(ranges) != len(rows) {
		return fmt.Errorf("plot assignment: mismatched arrays")
	}
	byRow := make([]plotter.XYs, scanlines)
	var rest plotter.XYs
	for i, r := range ranges {
		pt := plotter.XY{X: 1 / r, Y: phis[i]}
		if row := rows[i]; row >= 0 && row < scanlines {
			byRow[row] = append(byRow[row], pt)
			continue
		}
		rest = append(rest, pt)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scanline assignment (%d scanlines)", scanlines)
	p.X.Label.Text = "1/r (1/m)"
	p.Y.Label.Text = "phi (rad)"

	colours := generateColors(scanlines)
	for row, pts := range byRow {
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = colours[row]
		s.GlyphStyle.Radius = vg.Points(0.6)
		p.Add(s)
	}
	if len(rest) > 0 {
		s, err := plotter.NewScatter(rest)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = colourUnassigned
		s.GlyphStyle.Radius = vg.Points(0.6)
		p.Add(s)
		p.Legend.Add("unassigned", s)
	}
	return save(p, 10*vg.Inch, 8*vg.Inch, path)
}

// windowGrid adapts an accumulator window to plotter.GridXYZ.
type windowGrid struct{ w debug.AccumulatorWindow }

func (g windowGrid) Dims() (c, r int) { return g.w.Cols, g.w.Rows }
func (g windowGrid) Z(c, r int) float64 {
	return float64(g.w.Votes[r*g.w.Cols+c])
}
func (g windowGrid) X(c int) float64 { return g.w.OffsetStart + float64(c)*g.w.OffsetStep }
func (g windowGrid) Y(r int) float64 { return g.w.AngleStart + float64(r)*g.w.AngleStep }

// PlotAccumulatorWindow draws the votes around a peak as a heatmap.
func PlotAccumulatorWindow(w debug.AccumulatorWindow, title, path string) error {
	if w.Rows == 0 || w.Cols == 0 || len(w.Votes) != w.Rows*w.Cols {
		return fmt.Errorf("plot accumulator: empty window")
	}
	g := windowGrid{w}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "offset (m)"
	p.Y.Label.Text = "angle (rad)"
	p.Add(heatMap(g))
	return save(p, 8*vg.Inch, 6*vg.Inch, path)
}

// imageGrid adapts a range image to plotter.GridXYZ. Row 0 is drawn at the
// bottom; empty cells are NaN.
type imageGrid struct{ img *rangeimage.RangeImage }

func (g imageGrid) Dims() (c, r int) { return g.img.Width, g.img.Height }
func (g imageGrid) Z(c, r int) float64 {
	if !g.img.HasReturn(r, c) {
		return math.NaN()
	}
	return g.img.At(r, c)
}
func (g imageGrid) X(c int) float64 { return float64(c) }
func (g imageGrid) Y(r int) float64 { return float64(r) }

// PlotRangeImage draws a range image as a heatmap.
func PlotRangeImage(img *rangeimage.RangeImage, path string) error {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return fmt.Errorf("plot range image: empty image")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Range image %dx%d (coverage %.1f%%)", img.Width, img.Height, 100*img.Coverage())
	p.X.Label.Text = "column"
	p.Y.Label.Text = "scanline"
	p.Add(heatMap(imageGrid{img}))

	// Keep cells roughly square up to a sensible page width.
	width := vg.Length(math.Max(math.Min(float64(img.Width)*2, 3000), 400))
	height := vg.Length(math.Max(float64(img.Height)*6, 200))
	return save(p, width, height, path)
}

func heatMap(g plotter.GridXYZ) *plotter.HeatMap {
	cm := moreland.Kindlmann()
	cm.SetMin(0)
	cm.SetMax(1)
	h := plotter.NewHeatMap(g, cm.Palette(255))
	h.NaN = color.Transparent

	min, max := math.Inf(1), math.Inf(-1)
	c, r := g.Dims()
	for i := 0; i < c; i++ {
		for j := 0; j < r; j++ {
			if v := g.Z(i, j); !math.IsNaN(v) {
				min = math.Min(min, v)
				max = math.Max(max, v)
			}
		}
	}
	if math.IsInf(min, 1) {
		min, max = 0, 1
	}
	if max <= min {
		max = min + 1
	}
	h.Min, h.Max = min, max
	return h
}

func save(p *plot.Plot, w, h vg.Length, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("save plot %s: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteIterationPlots renders the band plot and the accumulator window of
// every trace into dir. It returns the number of files written.
func WriteIterationPlots(dir string, traces []debug.IterationTrace) (int, error) {
	n := 0
	for i := range traces {
		tr := &traces[i]
		if err := PlotIteration(tr, filepath.Join(dir, fmt.Sprintf("iter_%04d_band.png", tr.Iteration))); err != nil {
			return n, fmt.Errorf("iteration %d: %w", tr.Iteration, err)
		}
		n++
		if tr.Window.Rows == 0 || tr.Window.Cols == 0 {
			continue
		}
		title := fmt.Sprintf("Iteration %d - accumulator around (%.4f, %.5f)", tr.Iteration, tr.PeakOffset, tr.PeakAngle)
		if err := PlotAccumulatorWindow(tr.Window, title, filepath.Join(dir, fmt.Sprintf("iter_%04d_hough.png", tr.Iteration))); err != nil {
			return n, fmt.Errorf("iteration %d: %w", tr.Iteration, err)
		}
		n++
	}
	return n, nil
}

// generateColors creates a palette of distinct colours, one per scanline.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
