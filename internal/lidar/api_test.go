package lidar

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidar-intrinsics/internal/testutil"
)

func gridSpec() testutil.CloudSpec {
	spec := testutil.ThreeBeamSpec()
	spec.Resolution = 2 * math.Pi / 1024
	spec.Phase = 0.001
	return spec
}

// matchPoints pairs each point of got with a distinct point of want within
// tol metres and returns the largest distance it used.
func matchPoints(t *testing.T, want, got []Point, tol float64) float64 {
	t.Helper()
	used := make([]bool, len(want))
	worst := 0.0
	for i, g := range got {
		best, bestD := -1, tol
		for j, w := range want {
			if used[j] {
				continue
			}
			if d := math.Sqrt((g.X-w.X)*(g.X-w.X) + (g.Y-w.Y)*(g.Y-w.Y) + (g.Z-w.Z)*(g.Z-w.Z)); d <= bestD {
				best, bestD = j, d
			}
		}
		if best < 0 {
			t.Fatalf("point %d (%.4f, %.4f, %.4f) has no source within %g m", i, g.X, g.Y, g.Z, tol)
		}
		used[best] = true
		worst = math.Max(worst, bestD)
	}
	return worst
}

func TestEstimateProjectUnproject(t *testing.T) {
	t.Parallel()
	points := testutil.SyntheticCloud(gridSpec())

	intr, err := EstimateIntrinsics(context.Background(), points, DefaultEstimatorConfig())
	require.NoError(t, err)
	require.Equal(t, 3, intr.ScanlinesCount)
	for _, s := range intr.Scanlines {
		assert.Equal(t, 1024, s.ColumnsPerTurn, "scanline %d", s.ID)
		assert.False(t, s.HorizontalHeuristic)
	}

	img := ProjectToRangeImage(points, intr)
	require.NotNil(t, img)
	assert.Equal(t, 1024, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, 0, img.Dropped)

	back := UnprojectToPointCloud(img, intr)
	require.Len(t, back, len(points))

	// Ranges are kept exactly; direction comes from the fitted model, so
	// each return lands within a few micrometres of its source. Returns
	// are centimetres apart, which keeps the matching unambiguous.
	worst := matchPoints(t, points, back, 1e-5)
	assert.Less(t, worst, 1e-5)
}

func TestEstimateIntrinsicsDetailed(t *testing.T) {
	t.Parallel()
	points := testutil.SyntheticCloud(gridSpec())
	d, err := EstimateIntrinsicsDetailed(context.Background(), points, DefaultEstimatorConfig())
	require.NoError(t, err)
	assert.Len(t, d.Iterations, d.Intrinsics.VerticalIterations)
	assert.Len(t, d.PointScanlines, len(points))
}

func TestEstimateIntrinsics_Errors(t *testing.T) {
	t.Parallel()
	_, err := EstimateIntrinsics(context.Background(), nil, DefaultEstimatorConfig())
	require.Error(t, err)
	assert.Equal(t, InvalidInput, CodeOf(err))

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "point cloud is empty or contains no valid points", ErrorMessage(e.Code))
	assert.Equal(t, "no error", ErrorMessage(None))
}

func TestIntrinsicsJSON(t *testing.T) {
	t.Parallel()
	intr, err := EstimateIntrinsics(context.Background(), testutil.SyntheticCloud(gridSpec()), DefaultEstimatorConfig())
	require.NoError(t, err)

	uncertaintyEqual := cmp.Comparer(func(a, b Uncertainty) bool { return a.Equal(b) })

	s, err := IntrinsicsToJSONString(intr)
	require.NoError(t, err)
	fromString, err := IntrinsicsFromJSONString(s)
	require.NoError(t, err)
	if diff := cmp.Diff(intr, fromString, uncertaintyEqual); diff != "" {
		t.Errorf("string round trip (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "intrinsics.json")
	require.NoError(t, IntrinsicsToJSONFile(intr, path))
	fromFile, err := IntrinsicsFromJSONFile(path)
	require.NoError(t, err)
	if diff := cmp.Diff(intr, fromFile, uncertaintyEqual); diff != "" {
		t.Errorf("file round trip (-want +got):\n%s", diff)
	}

	_, err = IntrinsicsFromJSONString(`{"scanlines": [{}]}`)
	assert.Equal(t, SerializationError, CodeOf(err))
}
