package monitor

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/rangeimage"
)

func sampleTrace() debug.IterationTrace {
	const n = 50
	tr := debug.IterationTrace{
		Iteration:  2,
		Outcome:    "accepted",
		PeakVotes:  20,
		PeakOffset: 0.1,
		PeakAngle:  0.05,
		Window: debug.AccumulatorWindow{
			Rows: 3, Cols: 4, OffsetStart: 0.098, AngleStart: 0.0499,
			OffsetStep: 1e-3, AngleStep: 1e-4,
			Votes: []int32{0, 1, 2, 0, 3, 20, 4, 1, 0, 2, 1, 0},
		},
	}
	for i := 0; i < n; i++ {
		r := 5 + float64(i)
		phi := 0.05 + 0.1/r
		if i%3 == 0 {
			phi = -0.1
		}
		tr.Ranges = append(tr.Ranges, r)
		tr.Phis = append(tr.Phis, phi)
		tr.LowerLimit = append(tr.LowerLimit, phi-1e-3)
		tr.UpperLimit = append(tr.UpperLimit, phi+1e-3)
		tr.InScanline = append(tr.InScanline, i%3 != 0)
		tr.UnassignedMask = append(tr.UnassignedMask, i%2 == 0)
	}
	return tr
}

func assertFile(t *testing.T, path string) {
	t.Helper()
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, st.Size(), int64(0))
}

func TestWriteIterationPlots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	n, err := WriteIterationPlots(dir, []debug.IterationTrace{sampleTrace()})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assertFile(t, filepath.Join(dir, "iter_0002_band.png"))
	assertFile(t, filepath.Join(dir, "iter_0002_hough.png"))
}

func TestPlotIteration_Errors(t *testing.T) {
	t.Parallel()
	assert.Error(t, PlotIteration(nil, filepath.Join(t.TempDir(), "x.png")))
	tr := sampleTrace()
	tr.Phis = tr.Phis[:3]
	assert.Error(t, PlotIteration(&tr, filepath.Join(t.TempDir(), "x.png")))
	assert.Error(t, PlotAccumulatorWindow(debug.AccumulatorWindow{}, "", filepath.Join(t.TempDir(), "x.png")))
}

func TestPlotAssignment(t *testing.T) {
	t.Parallel()
	tr := sampleTrace()
	rows := make([]int, len(tr.Ranges))
	for i := range rows {
		rows[i] = i%4 - 1
	}
	path := filepath.Join(t.TempDir(), "assign.png")
	require.NoError(t, PlotAssignment(tr.Ranges, tr.Phis, rows, 3, path))
	assertFile(t, path)
	assert.Error(t, PlotAssignment(tr.Ranges, tr.Phis[:1], rows, 3, path))
}

func TestPlotRangeImage(t *testing.T) {
	t.Parallel()
	img := rangeimage.New(64, 4, false)
	for c := 0; c < 64; c += 2 {
		img.Set(c%4, c, 5+float64(c), 0)
	}
	path := filepath.Join(t.TempDir(), "sub", "image.png")
	require.NoError(t, PlotRangeImage(img, path))
	assertFile(t, path)

	// A uniform image still renders.
	flat := rangeimage.New(8, 2, false)
	require.NoError(t, PlotRangeImage(flat, filepath.Join(t.TempDir(), "flat.png")))
	assert.Error(t, PlotRangeImage(rangeimage.New(0, 0, false), path))
}

func TestGenerateColors(t *testing.T) {
	t.Parallel()
	assert.Nil(t, generateColors(0))
	cs := generateColors(5)
	require.Len(t, cs, 5)
	assert.NotEqual(t, cs[0], cs[1])
}

func reportModel() *intrinsics.Intrinsics {
	res := 2 * math.Pi / 1024
	return &intrinsics.Intrinsics{
		Scanlines: []intrinsics.Scanline{
			{ID: 0, VerticalAngle: intrinsics.ValueConfInterval{Value: -0.1}, VerticalOffset: intrinsics.ValueConfInterval{Value: 0.05},
				HorizontalResolution: res, ColumnsPerTurn: 1024, Uncertainty: intrinsics.Accepted(-10), PointsCount: 900},
			{ID: 1, VerticalAngle: intrinsics.ValueConfInterval{Value: 0.1}, VerticalOffset: intrinsics.ValueConfInterval{Value: 0.04},
				HorizontalResolution: res, ColumnsPerTurn: 1024, HorizontalHeuristic: true, VerticalHeuristic: true, PointsCount: 2},
		},
		ScanlinesCount:     2,
		PointsCount:        902,
		VerticalIterations: 2,
		EndReason:          intrinsics.Converged,
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	tr := sampleTrace()
	require.NoError(t, RenderReport(&buf, reportModel(), []debug.IterationTrace{tr}, "frame 7"))
	html := buf.String()
	for _, want := range []string{"Vertical model", "Points per scanline", "Columns per turn", "Convergence", "heuristic"} {
		assert.True(t, strings.Contains(html, want), "report lacks %q", want)
	}

	assert.Error(t, RenderReport(&buf, nil, nil, ""))

	path := filepath.Join(t.TempDir(), "out", "report.html")
	require.NoError(t, WriteReport(path, reportModel(), nil, "frame 7"))
	assertFile(t, path)
}
