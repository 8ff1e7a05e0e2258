package rangeimage

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
)

const columns = 360

func vci(v, half float64) intrinsics.ValueConfInterval {
	return intrinsics.ValueConfInterval{Value: v, CI: intrinsics.Interval{Lower: v - half, Upper: v + half}}
}

func testModel() *intrinsics.Intrinsics {
	res := 2 * math.Pi / columns
	mk := func(id int, off, angle float64) intrinsics.Scanline {
		return intrinsics.Scanline{
			ID:                   id,
			DiscoveryIndex:       id,
			VerticalOffset:       vci(off, 1e-6),
			VerticalAngle:        vci(angle, 1e-6),
			HorizontalResolution: res,
			HorizontalOffset:     0.003,
			ColumnsPerTurn:       columns,
			Uncertainty:          intrinsics.Accepted(-100),
		}
	}
	return &intrinsics.Intrinsics{
		Scanlines:      []intrinsics.Scanline{mk(0, -0.05, -0.1), mk(1, 0.08, 0.12)},
		ScanlinesCount: 2,
	}
}

func pointAt(s *intrinsics.Scanline, col int, r float64, intensity float32) l1points.Point {
	phi := s.ExpectedPhi(r)
	theta := s.HorizontalOffset + float64(col)*s.HorizontalResolution
	return l1points.Point{
		X:         r * math.Cos(phi) * math.Cos(theta),
		Y:         r * math.Cos(phi) * math.Sin(theta),
		Z:         r * math.Sin(phi),
		Intensity: intensity,
	}
}

// modelCloud returns points on the model in row-major cell order, skipping
// every third column.
func modelCloud(in *intrinsics.Intrinsics) []l1points.Point {
	var pts []l1points.Point
	for row := range in.Scanlines {
		for col := 0; col < columns; col++ {
			if col%3 == 1 {
				continue
			}
			r := 5 + float64((row*7+col)%30) + 0.25
			pts = append(pts, pointAt(&in.Scanlines[row], col, r, float32(col%200)))
		}
	}
	return pts
}

func TestProjectUnproject_RoundTrip(t *testing.T) {
	t.Parallel()
	in := testModel()
	pts := modelCloud(in)

	img := Project(in, pts)
	require.Equal(t, columns, img.Width)
	require.Equal(t, 2, img.Height)
	assert.Equal(t, 0, img.Dropped)
	assert.InDelta(t, 2.0/3.0, img.Coverage(), 1e-9)
	assert.True(t, img.HasReturn(0, 0))
	assert.False(t, img.HasReturn(0, 1))

	back := Unproject(in, img)
	require.Len(t, back, len(pts))
	for i := range pts {
		assert.InDelta(t, pts[i].X, back[i].X, 1e-6, "point %d", i)
		assert.InDelta(t, pts[i].Y, back[i].Y, 1e-6, "point %d", i)
		assert.InDelta(t, pts[i].Z, back[i].Z, 1e-6, "point %d", i)
		assert.Equal(t, pts[i].Intensity, back[i].Intensity)
	}
}

func TestProject_DropsAndConflicts(t *testing.T) {
	t.Parallel()
	in := testModel()
	s := &in.Scanlines[1]

	between := pointAt(s, 10, 12, 0)
	between.Z = 12 * math.Sin(0.01) // far from both beams
	pts := []l1points.Point{
		pointAt(s, 5, 10, 1),
		pointAt(s, 5, 6, 2),
		pointAt(s, 5, 8, 3),
		between,
		{}, // degenerate
		{X: math.NaN(), Y: 1, Z: 1},
	}
	img := Project(in, pts)
	assert.Equal(t, 3, img.Dropped)
	assert.InDelta(t, 6, img.At(1, 5), 1e-9, "nearest return wins")
	assert.Equal(t, float32(2), img.IntensityAt(1, 5))

	// A zero tolerance still keeps points inside the confidence band.
	img = ProjectWithTolerance(in, pts[:1], 0)
	assert.Equal(t, 0, img.Dropped)

	empty := Project(&intrinsics.Intrinsics{}, pts)
	assert.Equal(t, len(pts), empty.Dropped)
	assert.Equal(t, 0, empty.Width)
}

func TestUnproject_Mismatch(t *testing.T) {
	t.Parallel()
	in := testModel()
	assert.Empty(t, Unproject(in, New(columns, 3, false)))
	assert.Empty(t, Unproject(in, nil))
	assert.Empty(t, Unproject(in, &RangeImage{Width: columns, Height: 2, Ranges: []float64{1}}))
	assert.Empty(t, Unproject(in, New(columns, 2, false)), "no returns")
}

func TestColumn_Wraps(t *testing.T) {
	t.Parallel()
	s := &testModel().Scanlines[0]
	res := s.HorizontalResolution
	assert.Equal(t, 0, Column(s.HorizontalOffset, s))
	assert.Equal(t, 0, Column(s.HorizontalOffset+2*math.Pi, s))
	assert.Equal(t, columns-1, Column(s.HorizontalOffset-res, s))
	assert.Equal(t, 180, Column(s.HorizontalOffset+math.Pi-2*math.Pi, s))
	assert.Equal(t, 0, Column(s.HorizontalOffset-res/4, s), "rounds to the nearest column")
}

func TestRangeImage_Accessors(t *testing.T) {
	t.Parallel()
	img := New(4, 2, false)
	img.Set(1, 3, 7.5, 9)
	img.Set(5, 5, 1, 1) // ignored
	assert.Equal(t, 7.5, img.At(1, 3))
	assert.Equal(t, NoReturn, img.At(-1, 0))
	assert.Equal(t, float32(0), img.IntensityAt(1, 3))
	assert.InDelta(t, 1.0/8.0, img.Coverage(), 1e-12)
	assert.Equal(t, 0.0, New(0, 0, false).Coverage())
	assert.NoError(t, img.Validate())
	img.Ranges = img.Ranges[:3]
	assert.Error(t, img.Validate())
}

func TestBinary_RoundTrip(t *testing.T) {
	t.Parallel()
	in := testModel()
	img := Project(in, modelCloud(in))
	img.Dropped = 4

	var buf bytes.Buffer
	require.NoError(t, WriteBinary(&buf, img))
	got, err := ReadBinary(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(img, got); diff != "" {
		t.Errorf("range image mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "nested", "image.bin")
	require.NoError(t, WriteBinaryFile(path, img))
	got, err = ReadBinaryFile(path)
	require.NoError(t, err)
	assert.Equal(t, img.Ranges, got.Ranges)

	_, err = ReadBinary(bytes.NewReader([]byte("not gzip")))
	assert.Error(t, err)
	_, err = ReadBinaryFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}
