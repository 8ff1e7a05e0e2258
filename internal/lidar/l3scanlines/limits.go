package l3scanlines

import (
	"math"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
)

// Limits is the angular band of a candidate beam evaluated at every point
// of the frame, assigned or not.
type Limits struct {
	Lower   []float64
	Upper   []float64
	Mask    []bool // Lower[i] <= phi[i] <= Upper[i]
	Indices []int  // positions where Mask is set
}

// ErrorBounds returns, per point, the largest error in phi (plus the offset
// correction term) that coordinate quantisation of f.CoordsEps can cause for
// a beam with the given offset.
func ErrorBounds(f *l1points.Frame, offset float64) []float64 {
	eps := f.CoordsEps
	xyBound := eps * math.Sqrt2
	rBound := eps * math.Sqrt(3)
	absOff := math.Abs(offset)

	out := make([]float64, f.Len())
	for i := range out {
		rxy := f.RangesXY[i]
		r := f.Ranges[i]
		phis := (xyBound*math.Abs(f.Z[i]) + eps*rxy) / (rxy*rxy - xyBound*rxy)
		correction := absOff * rBound / (r*r - rBound*r)
		out[i] = phis + correction
	}
	return out
}

// ComputeLimits evaluates the band around (offset, angle) widened by the
// offset and angle margins and by the per-point error bounds.
func ComputeLimits(f *l1points.Frame, bounds []float64, offset, angle, offsetMargin, angleMargin float64) Limits {
	n := f.Len()
	l := Limits{
		Lower: make([]float64, n),
		Upper: make([]float64, n),
		Mask:  make([]bool, n),
	}
	for i := 0; i < n; i++ {
		inv := f.InvRanges[i]
		l.Lower[i] = angle + clamp((offset-offsetMargin)*inv, -1, 1) - angleMargin - bounds[i]
		l.Upper[i] = angle + clamp((offset+offsetMargin)*inv, -1, 1) + angleMargin + bounds[i]
		if phi := f.Phis[i]; l.Lower[i] <= phi && phi <= l.Upper[i] {
			l.Mask[i] = true
			l.Indices = append(l.Indices, i)
		}
	}
	return l
}

func sameMask(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
