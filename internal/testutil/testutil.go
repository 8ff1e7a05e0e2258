// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Beam is the vertical model of one synthetic emitter.
type Beam struct {
	Offset float64 // metres
	Angle  float64 // radians
}

// CloudSpec describes a noise-free synthetic multi-beam scan.
type CloudSpec struct {
	Beams         []Beam
	PointsPerBeam int
	Resolution    float64 // azimuth step between consecutive returns
	Phase         float64 // azimuth of the first return
	MinRange      float64
	MaxRange      float64
}

// ThreeBeamSpec is the reference scan: offsets {0.1, 0, -0.1} m, angles
// {0.2, 0, -0.2} rad, 1000 returns per beam at 0.01 rad spacing.
func ThreeBeamSpec() CloudSpec {
	return CloudSpec{
		Beams: []Beam{
			{Offset: 0.1, Angle: 0.2},
			{Offset: 0.0, Angle: 0.0},
			{Offset: -0.1, Angle: -0.2},
		},
		PointsPerBeam: 1000,
		Resolution:    0.01,
		MinRange:      5,
		MaxRange:      40,
	}
}

// goldenFrac spreads ranges deterministically over [MinRange, MaxRange].
const goldenFrac = 0.6180339887498949

// SyntheticRange returns the range used for return j.
func (s CloudSpec) SyntheticRange(j int) float64 {
	_, frac := math.Modf(0.5 + float64(j)*goldenFrac)
	return s.MinRange + (s.MaxRange-s.MinRange)*frac
}

// SyntheticCloud generates points lying exactly on the beams of spec,
// beam by beam. Return j of a beam sits at azimuth Phase + j*Resolution.
func SyntheticCloud(spec CloudSpec) []l1points.Point {
	pts := make([]l1points.Point, 0, len(spec.Beams)*spec.PointsPerBeam)
	for _, b := range spec.Beams {
		for j := 0; j < spec.PointsPerBeam; j++ {
			r := spec.SyntheticRange(j)
			phi := b.Angle + math.Asin(b.Offset/r)
			theta := spec.Phase + float64(j)*spec.Resolution
			pts = append(pts, l1points.Point{
				X:         r * math.Cos(phi) * math.Cos(theta),
				Y:         r * math.Cos(phi) * math.Sin(theta),
				Z:         r * math.Sin(phi),
				Intensity: float32(j % 256),
			})
		}
	}
	return pts
}

// NoiseSpec describes uniformly scattered returns that belong to no beam.
type NoiseSpec struct {
	Points   int
	Seed     int64
	MinRange float64
	MaxRange float64
	MaxPhi   float64 // elevations are drawn from [-MaxPhi, MaxPhi]
}

// NoiseCloud generates the returns of spec. The same seed always yields
// the same cloud.
func NoiseCloud(spec NoiseSpec) []l1points.Point {
	rng := rand.New(rand.NewSource(spec.Seed))
	pts := make([]l1points.Point, spec.Points)
	for i := range pts {
		r := spec.MinRange + (spec.MaxRange-spec.MinRange)*rng.Float64()
		phi := spec.MaxPhi * (2*rng.Float64() - 1)
		theta := 2 * math.Pi * rng.Float64()
		pts[i] = l1points.Point{
			X: r * math.Cos(phi) * math.Cos(theta),
			Y: r * math.Cos(phi) * math.Sin(theta),
			Z: r * math.Sin(phi),
		}
	}
	return pts
}
