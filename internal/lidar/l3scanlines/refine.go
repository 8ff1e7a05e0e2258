package l3scanlines

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l2hough"
)

// Config controls candidate refinement.
type Config struct {
	FitMinRange      float64 // first pass ignores closer points when enough remain
	MaxFitAttempts   int
	MaxOffsetCIWidth float64 // wider offset intervals fall back to the heuristic
	MinPoints        int     // fewer band members cannot be fitted
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{FitMinRange: 2.0, MaxFitAttempts: 10, MaxOffsetCIWidth: 1e-2, MinPoints: 3}
}

// Outcome classifies a refinement.
type Outcome int

const (
	// Failed means no scanline could be derived from the candidate.
	Failed Outcome = iota
	// Accepted is a confirmed fit with a narrow offset interval.
	Accepted
	// Heuristic is a scanline borrowed from its recorded neighbours. It is
	// kept but carries a rejected uncertainty.
	Heuristic
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Heuristic:
		return "heuristic"
	}
	return "failed"
}

// Estimate is the result of refining one Hough candidate.
type Estimate struct {
	Outcome     Outcome
	Offset      intrinsics.ValueConfInterval
	Angle       intrinsics.ValueConfInterval
	Uncertainty intrinsics.Uncertainty

	// Limits is the final band: the confirmed fit band, the heuristic band,
	// or the Hough band when refinement failed.
	Limits      Limits
	HoughLimits Limits
	FitAttempts int
	CITooWide   bool
}

// Refiner turns Hough candidates of one frame into scanline estimates.
type Refiner struct {
	frame *l1points.Frame
	cfg   Config
}

// NewRefiner returns a refiner for frame.
func NewRefiner(frame *l1points.Frame, cfg Config) *Refiner {
	if cfg.MinPoints < 3 {
		cfg.MinPoints = 3
	}
	if cfg.MaxFitAttempts < 1 {
		cfg.MaxFitAttempts = 1
	}
	return &Refiner{frame: frame, cfg: cfg}
}

// Refine fits the beam suggested by peak. offsetMargin and angleMargin are
// the Hough cell resolution. recorded holds the scanlines found so far and
// is only read by the neighbour heuristic.
func (rf *Refiner) Refine(peak l2hough.Peak, offsetMargin, angleMargin float64, recorded []intrinsics.Scanline) Estimate {
	f := rf.frame
	bounds := ErrorBounds(f, peak.Offset)
	hough := ComputeLimits(f, bounds, peak.Offset, peak.Angle, offsetMargin, angleMargin)
	est := Estimate{Outcome: Failed, Limits: hough, HoughLimits: hough}

	if len(hough.Indices) == 0 {
		return est
	}

	needHeuristic := true
	if len(hough.Indices) >= rf.cfg.MinPoints {
		res := rf.tryFit(bounds, hough, offsetMargin, angleMargin)
		est.FitAttempts = res.attempts
		est.CITooWide = res.ciTooWide
		needHeuristic = res.ciTooWide

		if res.confirmed && !res.ciTooWide {
			minR := f.MinRange
			offCI := res.fit.OffsetCI.Clamp(-minR, minR)
			est.Outcome = Accepted
			est.Offset = intrinsics.ValueConfInterval{Value: clamp(res.fit.Offset, offCI.Lower, offCI.Upper), CI: offCI}
			est.Angle = intrinsics.ValueConfInterval{Value: res.fit.Angle, CI: res.fit.AngleCI}
			est.Uncertainty = intrinsics.Accepted(-res.fit.LogLikelihood)
			est.Limits = res.limits
			return est
		}
	}

	if needHeuristic {
		if h, ok := rf.heuristic(hough.Indices, recorded); ok {
			h.HoughLimits = hough
			h.FitAttempts = est.FitAttempts
			h.CITooWide = est.CITooWide
			return h
		}
	}
	return est
}

type fitResult struct {
	fit       LineFit
	limits    Limits
	confirmed bool
	ciTooWide bool
	attempts  int
}

// tryFit alternates fitting the band members and recomputing the band until
// the membership is unchanged on two consecutive passes.
func (rf *Refiner) tryFit(bounds []float64, limits Limits, offsetMargin, angleMargin float64) fitResult {
	f := rf.frame
	const (
		initial = iota
		converged
		confirmed
	)
	state := initial
	var res fitResult

	for attempt := 0; attempt < rf.cfg.MaxFitAttempts; attempt++ {
		if len(limits.Indices) < rf.cfg.MinPoints {
			break
		}
		res.attempts++

		members := limits.Indices
		if state == initial {
			var far []int
			for _, i := range members {
				if f.Ranges[i] >= rf.cfg.FitMinRange {
					far = append(far, i)
				}
			}
			if len(far) >= rf.cfg.MinPoints {
				members = far
			}
		}

		invR := make([]float64, len(members))
		phi := make([]float64, len(members))
		b := make([]float64, len(members))
		for k, i := range members {
			invR[k] = f.InvRanges[i]
			phi[k] = f.Phis[i]
			b[k] = bounds[i]
		}

		fit, err := FitLine(invR, phi, b)
		if err != nil {
			if errors.Is(err, ErrDegenerateFit) {
				res.ciTooWide = true
			}
			break
		}
		res.fit = fit
		if fit.OffsetCI.Diff() > rf.cfg.MaxOffsetCIWidth {
			res.ciTooWide = true
			break
		}

		bounds = ErrorBounds(f, fit.Offset)
		next := ComputeLimits(f, bounds, fit.Offset, fit.Angle, offsetMargin, angleMargin)
		if sameMask(next.Mask, limits.Mask) {
			if state == converged {
				state = confirmed
				break
			}
			state = converged
		}
		limits = next
	}

	res.confirmed = state == confirmed
	res.limits = limits
	return res
}

// heuristic borrows the offset of the nearest recorded scanlines above and
// below the members and derives an angle from the members themselves.
func (rf *Refiner) heuristic(members []int, recorded []intrinsics.Scanline) (Estimate, bool) {
	f := rf.frame
	invR := make([]float64, len(members))
	phi := make([]float64, len(members))
	for k, i := range members {
		invR[k] = f.InvRanges[i]
		phi[k] = f.Phis[i]
	}
	meanInv := stat.Mean(invR, nil)
	meanPhi := stat.Mean(phi, nil)

	top, bottom := -1, -1
	topDist, bottomDist := math.Inf(1), math.Inf(1)
	for k := range recorded {
		s := &recorded[k]
		sPhi := s.VerticalAngle.Value + math.Asin(clamp(s.VerticalOffset.Value*meanInv, -1, 1))
		if d := sPhi - meanPhi; d > 0 && d < topDist {
			top, topDist = k, d
		}
		if d := meanPhi - sPhi; d > 0 && d < bottomDist {
			bottom, bottomDist = k, d
		}
	}

	var neighbours []int
	for _, k := range []int{top, bottom} {
		if k >= 0 {
			neighbours = append(neighbours, k)
		}
	}
	if len(neighbours) == 0 {
		return Estimate{}, false
	}

	var meanOff, maxWidth float64
	for _, k := range neighbours {
		meanOff += recorded[k].VerticalOffset.Value / float64(len(neighbours))
		maxWidth = math.Max(maxWidth, recorded[k].VerticalOffset.CI.Diff())
	}
	minR := f.MinRange
	offCI := intrinsics.Interval{Lower: meanOff - maxWidth/2, Upper: meanOff + maxWidth/2}.Clamp(-minR, minR)
	meanOff = clamp(meanOff, offCI.Lower, offCI.Upper)

	angleAt := func(off float64) float64 {
		var sum float64
		for k := range phi {
			sum += phi[k] - math.Asin(clamp(off*invR[k], -1, 1))
		}
		return sum / float64(len(phi))
	}
	angle := angleAt(meanOff)
	angCI := intrinsics.NewInterval(angleAt(offCI.Lower), angleAt(offCI.Upper))
	angle = clamp(angle, angCI.Lower, angCI.Upper)

	offMargin := math.Max(offCI.Diff()/2, 1e-6)
	angMargin := math.Max(angCI.Diff()/2, 1e-6)
	limits := ComputeLimits(f, ErrorBounds(f, meanOff), meanOff, angle, offMargin, angMargin)
	if len(limits.Indices) == 0 {
		return Estimate{}, false
	}

	return Estimate{
		Outcome:     Heuristic,
		Offset:      intrinsics.ValueConfInterval{Value: meanOff, CI: offCI},
		Angle:       intrinsics.ValueConfInterval{Value: angle, CI: angCI},
		Uncertainty: intrinsics.Rejected(),
		Limits:      limits,
	}, true
}

// AngleBounds evaluates the bottom and top curves of the band between the
// frame's minimum and maximum range. Each value is the curve at refRange.
func AngleBounds(offset, angle intrinsics.ValueConfInterval, minRange, maxRange, refRange float64) intrinsics.ScanlineAngleBounds {
	refRange = clamp(refRange, minRange, maxRange)
	curve := func(a, o float64) intrinsics.ValueConfInterval {
		at := func(r float64) float64 { return a + math.Asin(clamp(o/r, -1, 1)) }
		return intrinsics.ValueConfInterval{
			Value: at(refRange),
			CI:    intrinsics.NewInterval(at(maxRange), at(minRange)),
		}
	}
	return intrinsics.ScanlineAngleBounds{
		Bottom: curve(angle.CI.Lower, offset.CI.Lower),
		Top:    curve(angle.CI.Upper, offset.CI.Upper),
	}
}

// MedianRange returns the median range of the given frame points, or the
// frame's minimum range when indices is empty.
func MedianRange(f *l1points.Frame, indices []int) float64 {
	if len(indices) == 0 {
		return f.MinRange
	}
	r := make([]float64, len(indices))
	for k, i := range indices {
		r[k] = f.Ranges[i]
	}
	sort.Float64s(r)
	return stat.Quantile(0.5, stat.Empirical, r, nil)
}
