package l3scanlines

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// ErrDegenerateFit is returned when the fitted points do not determine a
// line, for example when every point has the same range.
var ErrDegenerateFit = errors.New("degenerate line fit")

// LineFit is a weighted least squares fit of phi = Angle + Offset*invR.
type LineFit struct {
	Offset   float64 // slope
	Angle    float64 // intercept
	OffsetCI intrinsics.Interval
	AngleCI  intrinsics.Interval

	OffsetVar     float64
	AngleVar      float64
	SSR           float64 // weighted sum of squared residuals
	LogLikelihood float64
	N             int
}

// confidenceLevel is the two-sided coverage of the reported intervals.
const confidenceLevel = 0.95

const smallestNormal = 0x1p-1022

// FitLine fits phi against invR with weights 1/bound^2 and derives Student-t
// intervals from the weighted residual dispersion (df = n-2).
func FitLine(invR, phi, bounds []float64) (LineFit, error) {
	n := len(invR)
	if n != len(phi) || n != len(bounds) {
		return LineFit{}, fmt.Errorf("fit: mismatched lengths %d, %d, %d", len(invR), len(phi), len(bounds))
	}
	if n < 3 {
		return LineFit{}, fmt.Errorf("fit: need at least 3 points, got %d: %w", n, ErrDegenerateFit)
	}

	w := make([]float64, n)
	var s, sx, sxx, sumLogW float64
	for i := 0; i < n; i++ {
		if !(bounds[i] > 0) {
			return LineFit{}, fmt.Errorf("fit: non-positive error bound at %d: %w", i, ErrDegenerateFit)
		}
		w[i] = 1 / (bounds[i] * bounds[i])
		s += w[i]
		sx += w[i] * invR[i]
		sxx += w[i] * invR[i] * invR[i]
		sumLogW += math.Log(w[i])
	}
	// Relative threshold: identical ranges leave only rounding noise.
	delta := s*sxx - sx*sx
	if !(delta > 1e-12*s*sxx) || math.IsInf(delta, 0) {
		return LineFit{}, ErrDegenerateFit
	}

	angle, offset := stat.LinearRegression(invR, phi, w, false)

	var ssr float64
	for i := 0; i < n; i++ {
		res := phi[i] - angle - offset*invR[i]
		ssr += w[i] * res * res
	}
	// A perfect fit would make the likelihood unbounded.
	if ssr < smallestNormal {
		ssr = smallestNormal
	}

	df := float64(n - 2)
	sigma2 := ssr / df
	fit := LineFit{
		Offset:    offset,
		Angle:     angle,
		OffsetVar: sigma2 * s / delta,
		AngleVar:  sigma2 * sxx / delta,
		SSR:       ssr,
		N:         n,
	}

	half := float64(n) / 2
	fit.LogLikelihood = -math.Log(ssr)*half - (1+math.Log(math.Pi/half))*half + 0.5*sumLogW

	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - (1-confidenceLevel)/2)
	oh := t * math.Sqrt(fit.OffsetVar)
	ah := t * math.Sqrt(fit.AngleVar)
	fit.OffsetCI = intrinsics.Interval{Lower: offset - oh, Upper: offset + oh}
	fit.AngleCI = intrinsics.Interval{Lower: angle - ah, Upper: angle + ah}

	if math.IsNaN(offset) || math.IsNaN(angle) || math.IsNaN(oh) || math.IsNaN(ah) {
		return LineFit{}, ErrDegenerateFit
	}
	return fit, nil
}
