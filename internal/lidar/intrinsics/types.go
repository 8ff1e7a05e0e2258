package intrinsics

import (
	"fmt"
	"math"
)

// Interval is a closed range [Lower, Upper].
type Interval struct {
	Lower float64
	Upper float64
}

// NewInterval returns the interval spanning a and b in either order.
func NewInterval(a, b float64) Interval {
	if a > b {
		a, b = b, a
	}
	return Interval{Lower: a, Upper: b}
}

// Diff returns the width of the interval.
func (iv Interval) Diff() float64 { return iv.Upper - iv.Lower }

// Clamp limits both bounds to [min, max].
func (iv Interval) Clamp(min, max float64) Interval {
	return Interval{Lower: clamp(iv.Lower, min, max), Upper: clamp(iv.Upper, min, max)}
}

// Contains reports whether v lies inside the interval, bounds included.
func (iv Interval) Contains(v float64) bool { return v >= iv.Lower && v <= iv.Upper }

// Widen grows the interval by d on each side.
func (iv Interval) Widen(d float64) Interval {
	return Interval{Lower: iv.Lower - d, Upper: iv.Upper + d}
}

// ValueConfInterval is a point estimate with its confidence interval.
type ValueConfInterval struct {
	Value float64
	CI    Interval
}

// ScanlineAngleBounds is the angular band a scanline occupies. Bottom is the
// family of curves generated by the lower angle and offset bounds, Top by the
// upper ones, each evaluated over the frame's range span.
type ScanlineAngleBounds struct {
	Bottom ValueConfInterval
	Top    ValueConfInterval
}

// Uncertainty is the vertical fit score of a scanline. An accepted fit
// carries a finite score (lower is better); a rejected or heuristic fit
// carries none. The zero value is rejected.
type Uncertainty struct {
	value    float64
	accepted bool
}

// Accepted returns an accepted uncertainty with score v.
func Accepted(v float64) Uncertainty { return Uncertainty{value: v, accepted: true} }

// Rejected returns the rejected uncertainty.
func Rejected() Uncertainty { return Uncertainty{} }

// IsAccepted reports whether the fit was accepted.
func (u Uncertainty) IsAccepted() bool { return u.accepted }

// Value returns the score and whether one is present.
func (u Uncertainty) Value() (float64, bool) { return u.value, u.accepted }

// Equal reports whether two uncertainties carry the same state and score.
func (u Uncertainty) Equal(o Uncertainty) bool {
	if u.accepted != o.accepted {
		return false
	}
	return !u.accepted || u.value == o.value
}

func (u Uncertainty) String() string {
	if !u.accepted {
		return "rejected"
	}
	return fmt.Sprintf("%g", u.value)
}

// EndReason records why scanline discovery stopped.
type EndReason int

const (
	Converged EndReason = iota
	MaxIterationsReached
	DegeneratePattern
	NoPointsRemaining
)

var endReasonNames = map[EndReason]string{
	Converged:            "CONVERGED",
	MaxIterationsReached: "MAX_ITERATIONS",
	DegeneratePattern:    "DEGENERATE_PATTERN",
	NoPointsRemaining:    "NO_POINTS_REMAINING",
}

// legacy names written by older tooling
var endReasonAliases = map[string]EndReason{
	"ALL_ASSIGNED":  Converged,
	"NO_MORE_PEAKS": NoPointsRemaining,
}

func (r EndReason) String() string {
	if s, ok := endReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("EndReason(%d)", int(r))
}

// ParseEndReason converts the serialized name back to an EndReason.
func ParseEndReason(s string) (EndReason, error) {
	for r, name := range endReasonNames {
		if name == s {
			return r, nil
		}
	}
	if r, ok := endReasonAliases[s]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("unknown end reason %q", s)
}

// Scanline is the model of one physical beam.
type Scanline struct {
	// ID is the row index in angle-sorted order.
	ID int
	// DiscoveryIndex is the order in which the estimator found the beam.
	DiscoveryIndex int

	VerticalOffset ValueConfInterval // metres
	VerticalAngle  ValueConfInterval // radians
	AngleBounds    ScanlineAngleBounds

	HorizontalResolution float64 // radians per column
	HorizontalOffset     float64 // phase in [0, HorizontalResolution)
	ColumnsPerTurn       int

	VerticalHeuristic   bool
	HorizontalHeuristic bool
	Uncertainty         Uncertainty

	HoughVotes   int64
	HoughHash    uint64
	LastScanline bool
	PointsCount  int
}

// ExpectedPhi returns the vertical angle the beam produces at range r.
func (s *Scanline) ExpectedPhi(r float64) float64 {
	return s.VerticalAngle.Value + math.Asin(clamp(s.VerticalOffset.Value/r, -1, 1))
}

// BandAt returns the admissible vertical-angle interval at range r, built
// from the lower and upper confidence bounds of angle and offset.
func (s *Scanline) BandAt(r float64) Interval {
	lo := s.VerticalAngle.CI.Lower + math.Asin(clamp(s.VerticalOffset.CI.Lower/r, -1, 1))
	hi := s.VerticalAngle.CI.Upper + math.Asin(clamp(s.VerticalOffset.CI.Upper/r, -1, 1))
	return NewInterval(lo, hi)
}

// ColumnsForResolution converts an azimuthal resolution to a whole number
// of columns per revolution.
func ColumnsForResolution(res float64) int {
	if res <= 0 || math.IsNaN(res) || math.IsInf(res, 0) {
		return 0
	}
	return int(math.Round(2 * math.Pi / res))
}

// Intrinsics is the estimated model of a sensor. Scanlines are ordered by
// vertical angle, lowest first, and Scanlines[i].ID == i.
type Intrinsics struct {
	Scanlines          []Scanline
	PointsCount        int
	DroppedPoints      int
	ScanlinesCount     int
	VerticalIterations int
	UnassignedPoints   int
	EndReason          EndReason
}

// MaxColumns returns the widest ColumnsPerTurn among the scanlines.
func (in *Intrinsics) MaxColumns() int {
	w := 0
	for i := range in.Scanlines {
		if in.Scanlines[i].ColumnsPerTurn > w {
			w = in.Scanlines[i].ColumnsPerTurn
		}
	}
	return w
}

// AcceptedCount returns the number of scanlines with an accepted fit.
func (in *Intrinsics) AcceptedCount() int {
	n := 0
	for i := range in.Scanlines {
		if in.Scanlines[i].Uncertainty.IsAccepted() {
			n++
		}
	}
	return n
}

// Validate checks the structural invariants of a model.
func (in *Intrinsics) Validate() error {
	if in.ScanlinesCount != len(in.Scanlines) {
		return fmt.Errorf("scanlines_count %d does not match %d scanlines", in.ScanlinesCount, len(in.Scanlines))
	}
	if in.PointsCount < 0 || in.DroppedPoints < 0 || in.UnassignedPoints < 0 || in.VerticalIterations < 0 {
		return fmt.Errorf("negative counter in intrinsics")
	}
	if in.UnassignedPoints > in.PointsCount {
		return fmt.Errorf("unassigned_points %d exceeds points_count %d", in.UnassignedPoints, in.PointsCount)
	}
	if _, ok := endReasonNames[in.EndReason]; !ok {
		return fmt.Errorf("invalid end reason %d", int(in.EndReason))
	}
	for i := range in.Scanlines {
		s := &in.Scanlines[i]
		if s.ID != i {
			return fmt.Errorf("scanline %d has id %d", i, s.ID)
		}
		checks := []struct {
			name string
			iv   Interval
		}{
			{"vertical_offset", s.VerticalOffset.CI},
			{"vertical_angle", s.VerticalAngle.CI},
			{"angle_bounds.bottom", s.AngleBounds.Bottom.CI},
			{"angle_bounds.top", s.AngleBounds.Top.CI},
		}
		for _, c := range checks {
			if !(c.iv.Lower <= c.iv.Upper) {
				return fmt.Errorf("scanline %d: %s interval [%g, %g] is inverted", i, c.name, c.iv.Lower, c.iv.Upper)
			}
		}
		if !(s.HorizontalResolution > 0) {
			return fmt.Errorf("scanline %d: horizontal resolution must be positive, got %g", i, s.HorizontalResolution)
		}
		if s.PointsCount < 0 || s.HoughVotes < 0 {
			return fmt.Errorf("scanline %d: negative count", i)
		}
	}
	return nil
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
