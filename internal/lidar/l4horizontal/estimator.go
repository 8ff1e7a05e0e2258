package l4horizontal

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// Config controls horizontal estimation.
type Config struct {
	MinPoints         int     // fewer azimuths use the fallback
	DefaultResolution float64 // fallback when no earlier scanline has one
	GapTolerance      float64 // histogram bin width (rad)
	MinGap            float64 // smaller gaps are duplicate azimuths
}

// DefaultConfig returns the estimator defaults.
func DefaultConfig() Config {
	return Config{
		MinPoints:         16,
		DefaultResolution: 2 * math.Pi / 2048,
		GapTolerance:      5e-5,
		MinGap:            1e-9,
	}
}

// Result is the horizontal model of one scanline.
type Result struct {
	Resolution float64
	Offset     float64 // phase in [0, Resolution)
	Columns    int
	Heuristic  bool
}

// Estimate infers the resolution and phase from thetas. previous is the
// resolution of the latest non-heuristic scanline and is used by the
// fallback; pass 0 when there is none.
func Estimate(thetas []float64, previous float64, cfg Config) Result {
	if len(thetas) >= cfg.MinPoints && len(thetas) >= 2 {
		if res, ok := resolution(thetas, cfg); ok {
			return Result{
				Resolution: res,
				Offset:     Phase(thetas, res),
				Columns:    intrinsics.ColumnsForResolution(res),
			}
		}
	}
	return fallback(thetas, previous, cfg)
}

func fallback(thetas []float64, previous float64, cfg Config) Result {
	res := cfg.DefaultResolution
	if previous > 0 {
		res = previous
	}
	return Result{
		Resolution: res,
		Offset:     Phase(thetas, res),
		Columns:    intrinsics.ColumnsForResolution(res),
		Heuristic:  true,
	}
}

// resolution finds the modal azimuth gap and refines it by regressing each
// azimuth on its integer column index.
func resolution(thetas []float64, cfg Config) (float64, bool) {
	sorted := append([]float64(nil), thetas...)
	sort.Float64s(sorted)

	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		if g := sorted[i] - sorted[i-1]; g > cfg.MinGap {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 || !(cfg.GapTolerance > 0) {
		return 0, false
	}

	counts := make(map[int]int)
	for _, g := range gaps {
		counts[int(g/cfg.GapTolerance)]++
	}
	// Ties go to the smaller gap.
	modal, best := -1, 0
	for bin, c := range counts {
		if c > best || (c == best && bin < modal) {
			modal, best = bin, c
		}
	}

	// Gaps near a bin edge may fall in the neighbouring bin.
	centre := (float64(modal) + 0.5) * cfg.GapTolerance
	var members []float64
	for _, g := range gaps {
		if math.Abs(g-centre) <= cfg.GapTolerance {
			members = append(members, g)
		}
	}
	sort.Float64s(members)
	coarse := stat.Quantile(0.5, stat.Empirical, members, nil)
	if !(coarse > 0) {
		return 0, false
	}

	cols := make([]float64, len(sorted))
	for i, th := range sorted {
		cols[i] = math.Round((th - sorted[0]) / coarse)
	}
	if cols[len(cols)-1] == 0 {
		return 0, false
	}
	_, res := stat.LinearRegression(cols, sorted, nil, false)
	if !(res > 0) || math.IsInf(res, 0) || res > math.Pi {
		return 0, false
	}
	return res, true
}

// Phase returns the circular mean of thetas modulo res, wrapped to
// [0, res). It is 0 without azimuths.
func Phase(thetas []float64, res float64) float64 {
	if len(thetas) == 0 || !(res > 0) {
		return 0
	}
	scaled := make([]float64, len(thetas))
	for i, th := range thetas {
		scaled[i] = 2 * math.Pi * th / res
	}
	m := stat.CircularMean(scaled, nil)
	if math.IsNaN(m) {
		return 0
	}
	return Wrap(m*res/(2*math.Pi), res)
}

// Wrap maps v into [0, period).
func Wrap(v, period float64) float64 {
	v = math.Mod(v, period)
	if v < 0 {
		v += period
	}
	if v >= period {
		v = 0
	}
	return v
}

// Borrow gives every horizontally heuristic scanline the resolution of the
// non-heuristic scanline nearest in vertical angle and recomputes its phase
// from thetas[i], the azimuths of scanline i. Scanlines stay flagged as
// heuristic. It returns the number of scanlines updated.
func Borrow(scanlines []intrinsics.Scanline, thetas [][]float64) int {
	updated := 0
	for i := range scanlines {
		s := &scanlines[i]
		if !s.HorizontalHeuristic {
			continue
		}
		donor, dist := -1, math.Inf(1)
		for j := range scanlines {
			if scanlines[j].HorizontalHeuristic {
				continue
			}
			if d := math.Abs(scanlines[j].VerticalAngle.Value - s.VerticalAngle.Value); d < dist {
				donor, dist = j, d
			}
		}
		if donor < 0 {
			continue
		}
		var th []float64
		if i < len(thetas) {
			th = thetas[i]
		}
		res := scanlines[donor].HorizontalResolution
		s.HorizontalResolution = res
		s.HorizontalOffset = Phase(th, res)
		s.ColumnsPerTurn = intrinsics.ColumnsForResolution(res)
		updated++
	}
	return updated
}
