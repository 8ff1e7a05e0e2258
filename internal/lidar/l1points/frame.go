package l1points

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// Point is a Cartesian LiDAR return in the sensor frame.
type Point struct {
	X, Y, Z   float64
	Intensity float32
}

// degenerateEps is the smallest range (and horizontal range) a point may
// have before it is dropped.
const degenerateEps = 1e-9

// FrameConfig controls point validation.
type FrameConfig struct {
	MinPoints      int     // fewer valid points fails with InsufficientPoints
	CoordsEpsFloor float64 // lower bound for the coordinate quantisation
}

// DefaultFrameConfig returns the defaults used by the estimator.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{MinPoints: 3, CoordsEpsFloor: 5e-7}
}

// Frame holds the valid points of one cloud as parallel slices, together
// with their spherical coordinates. Index i in every slice refers to the
// same point; Source[i] is its index in the input.
type Frame struct {
	X, Y, Z   []float64
	Intensity []float32

	Ranges    []float64
	RangesXY  []float64
	InvRanges []float64
	Phis      []float64 // asin(z/r)
	Thetas    []float64 // atan2(y, x)

	Source []int

	MinRange  float64
	MaxRange  float64
	CoordsEps float64
	Dropped   int
}

// Valid reports whether p can be converted to spherical coordinates.
func Valid(p Point) bool {
	if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
		return false
	}
	rxy := math.Hypot(p.X, p.Y)
	return rxy > degenerateEps && math.Hypot(rxy, p.Z) > degenerateEps
}

// Spherical returns (r, phi, theta) for p. It does not check validity.
func Spherical(p Point) (r, phi, theta float64) {
	r = math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
	phi = math.Asin(clamp(p.Z/r, -1, 1))
	theta = math.Atan2(p.Y, p.X)
	return r, phi, theta
}

// NewFrame validates points and derives the spherical arrays.
func NewFrame(points []Point, cfg FrameConfig) (*Frame, error) {
	if len(points) == 0 {
		return nil, intrinsics.Errorf(intrinsics.InvalidInput, "empty point cloud")
	}

	f := &Frame{}
	for i, p := range points {
		if !Valid(p) {
			f.Dropped++
			continue
		}
		f.X = append(f.X, p.X)
		f.Y = append(f.Y, p.Y)
		f.Z = append(f.Z, p.Z)
		f.Intensity = append(f.Intensity, p.Intensity)
		f.Source = append(f.Source, i)
	}

	n := len(f.X)
	if n == 0 {
		return nil, intrinsics.Errorf(intrinsics.InvalidInput, "all %d points are degenerate or non-finite", len(points))
	}
	if n < cfg.MinPoints {
		return nil, intrinsics.Errorf(intrinsics.InsufficientPoints, "%d valid points, need at least %d", n, cfg.MinPoints)
	}

	f.Ranges = make([]float64, n)
	f.RangesXY = make([]float64, n)
	f.InvRanges = make([]float64, n)
	f.Phis = make([]float64, n)
	f.Thetas = make([]float64, n)
	for i := 0; i < n; i++ {
		p := Point{X: f.X[i], Y: f.Y[i], Z: f.Z[i]}
		r, phi, theta := Spherical(p)
		f.Ranges[i] = r
		f.RangesXY[i] = math.Hypot(p.X, p.Y)
		f.InvRanges[i] = 1 / r
		f.Phis[i] = phi
		f.Thetas[i] = theta
	}
	f.MinRange = floats.Min(f.Ranges)
	f.MaxRange = floats.Max(f.Ranges)
	f.CoordsEps = cfg.CoordsEpsFloor
	if eps := coordsEps(f.X, f.Y, f.Z); !math.IsInf(eps, 1) && eps > f.CoordsEps {
		f.CoordsEps = eps
	}
	return f, nil
}

// Len returns the number of valid points.
func (f *Frame) Len() int { return len(f.Ranges) }

// NewUnassignedMask returns a mask with every point unassigned.
func (f *Frame) NewUnassignedMask() []bool {
	m := make([]bool, f.Len())
	for i := range m {
		m[i] = true
	}
	return m
}

// Point returns the i-th valid point.
func (f *Frame) Point(i int) Point {
	return Point{X: f.X[i], Y: f.Y[i], Z: f.Z[i], Intensity: f.Intensity[i]}
}

// coordsEps estimates the quantisation of the input coordinates as the
// smallest positive gap between sorted values on any axis. Returns +Inf
// when no axis has two distinct values.
func coordsEps(axes ...[]float64) float64 {
	eps := math.Inf(1)
	for _, axis := range axes {
		sorted := append([]float64(nil), axis...)
		sort.Float64s(sorted)
		for i := 1; i < len(sorted); i++ {
			if d := sorted[i] - sorted[i-1]; d > 0 && d < eps {
				eps = d
			}
		}
	}
	return eps
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
