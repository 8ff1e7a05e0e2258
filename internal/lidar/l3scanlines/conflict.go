package l3scanlines

import (
	"math"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// uncertaintySlack lets a candidate displace a recorded scanline only when
// it is better by more than rounding noise.
const uncertaintySlack = 1e-6

// Conflicts is the relation between a candidate and the recorded
// scanlines whose bands it collides with.
type Conflicts struct {
	// Reject is set when the candidate loses and must not be recorded.
	Reject bool
	// Scanlines holds arena indices of recorded scanlines. When Reject is
	// set they are the ones that beat the candidate; otherwise they are
	// the ones the candidate displaces.
	Scanlines []int
	// Shared is set when the candidate band holds points already assigned
	// to a recorded scanline.
	Shared bool
}

// Any reports whether the candidate collided with anything.
func (c Conflicts) Any() bool { return c.Reject || len(c.Scanlines) > 0 }

// BandsCross reports whether the bands (aOff, aAng) and (bOff, bAng) cross
// between minRange and maxRange: each bounding curve of one band meets each
// bounding curve of the other. Curves are compared at both range limits;
// touching counts as meeting.
func BandsCross(aOff, aAng, bOff, bAng intrinsics.ValueConfInterval, minRange, maxRange float64) bool {
	type curve struct{ angle, offset float64 }
	bounds := func(off, ang intrinsics.ValueConfInterval) [2]curve {
		return [2]curve{{ang.CI.Lower, off.CI.Lower}, {ang.CI.Upper, off.CI.Upper}}
	}
	at := func(c curve, r float64) float64 { return c.angle + math.Asin(clamp(c.offset/r, -1, 1)) }
	sign := func(v float64) int {
		switch {
		case v > 0:
			return 1
		case v < 0:
			return -1
		}
		return 0
	}

	for _, ca := range bounds(aOff, aAng) {
		for _, cb := range bounds(bOff, bAng) {
			near := sign(at(ca, minRange) - at(cb, minRange))
			far := sign(at(ca, maxRange) - at(cb, maxRange))
			if near*far == 1 {
				return false
			}
		}
	}
	return true
}

// score orders uncertainties: lower is better and rejected fits are worst.
func score(u intrinsics.Uncertainty) float64 {
	if v, ok := u.Value(); ok {
		return v
	}
	return math.Inf(1)
}

// ResolveConflicts checks the candidate est against the recorded scanlines.
// recorded is indexed by arena position and may hold nil for removed
// entries; assignment maps each frame point to its arena index or -1.
//
// A collision is either a shared point or a crossing band. The candidate
// loses when it is no better than the best scanline it collides with, and
// displaces all of them otherwise. Two rejected fits only collide on
// shared points.
func ResolveConflicts(est Estimate, recorded []*intrinsics.Scanline, assignment []int32, minRange, maxRange float64) Conflicts {
	shared := make(map[int]bool)
	for _, i := range est.Limits.Indices {
		if a := assignment[i]; a >= 0 {
			shared[int(a)] = true
		}
	}

	var hits []int
	best := math.Inf(1)
	for k, s := range recorded {
		if s == nil {
			continue
		}
		if shared[k] || BandsCross(est.Offset, est.Angle, s.VerticalOffset, s.VerticalAngle, minRange, maxRange) {
			hits = append(hits, k)
			best = math.Min(best, score(s.Uncertainty))
		}
	}
	if len(hits) == 0 {
		return Conflicts{}
	}

	out := Conflicts{Shared: len(shared) > 0}
	cand := score(est.Uncertainty)
	best -= uncertaintySlack

	switch {
	case math.IsInf(cand, 1) && math.IsInf(best, 1):
		if !out.Shared {
			return Conflicts{}
		}
		out.Reject = true
		out.Scanlines = hits
	case cand >= best:
		out.Reject = true
		for _, k := range hits {
			if cand >= score(recorded[k].Uncertainty) {
				out.Scanlines = append(out.Scanlines, k)
			}
		}
	default:
		out.Scanlines = hits
	}
	return out
}
