package l3scanlines

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

func vci(v, half float64) intrinsics.ValueConfInterval {
	return intrinsics.ValueConfInterval{Value: v, CI: intrinsics.Interval{Lower: v - half, Upper: v + half}}
}

func band(offset, angle float64) (intrinsics.ValueConfInterval, intrinsics.ValueConfInterval) {
	return vci(offset, 1e-4), vci(angle, 1e-5)
}

func TestBandsCross(t *testing.T) {
	t.Parallel()
	type beam struct{ offset, angle float64 }
	tests := []struct {
		name string
		a, b beam
		want bool
	}{
		// 0.2 m of offset lifts the first beam above the second near the
		// sensor and drops it below far away.
		{"crossing", beam{0.2, -0.02}, beam{0, 0}, true},
		{"separate", beam{0.1, 0.2}, beam{0, 0}, false},
		{"mirrored offsets", beam{0.1, 0}, beam{-0.1, 0}, false},
		// Parallel overlap is only visible through shared points.
		{"identical", beam{0, 0}, beam{0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ao, aa := band(tt.a.offset, tt.a.angle)
			bo, ba := band(tt.b.offset, tt.b.angle)
			assert.Equal(t, tt.want, BandsCross(ao, aa, bo, ba, 5, 40))
			assert.Equal(t, tt.want, BandsCross(bo, ba, ao, aa, 5, 40), "symmetric")
		})
	}
}

func recordedScanline(offset, angle float64, u intrinsics.Uncertainty) *intrinsics.Scanline {
	o, a := band(offset, angle)
	return &intrinsics.Scanline{VerticalOffset: o, VerticalAngle: a, Uncertainty: u}
}

func candidate(offset, angle float64, u intrinsics.Uncertainty, indices ...int) Estimate {
	o, a := band(offset, angle)
	return Estimate{Outcome: Accepted, Offset: o, Angle: a, Uncertainty: u, Limits: Limits{Indices: indices}}
}

func TestResolveConflicts(t *testing.T) {
	t.Parallel()
	// Arena slot 1 was displaced earlier.
	recorded := []*intrinsics.Scanline{
		recordedScanline(0, 0, intrinsics.Accepted(5)),
		nil,
		recordedScanline(0.1, 0.2, intrinsics.Rejected()),
	}
	assignment := []int32{0, 0, 2, -1}

	tests := []struct {
		name string
		est  Estimate
		want Conflicts
	}{
		{
			name: "no collision",
			est:  candidate(-0.1, -0.2, intrinsics.Accepted(1), 3),
			want: Conflicts{},
		},
		{
			name: "worse candidate crossing",
			est:  candidate(0.2, -0.02, intrinsics.Accepted(10), 3),
			want: Conflicts{Reject: true, Scanlines: []int{0}},
		},
		{
			name: "better candidate crossing",
			est:  candidate(0.2, -0.02, intrinsics.Accepted(1), 3),
			want: Conflicts{Scanlines: []int{0}},
		},
		{
			name: "tie within slack",
			est:  candidate(0.2, -0.02, intrinsics.Accepted(5-5e-7), 3),
			want: Conflicts{Reject: true},
		},
		{
			name: "rejected candidate crossing accepted",
			est:  candidate(0.2, -0.02, intrinsics.Rejected(), 3),
			want: Conflicts{Reject: true, Scanlines: []int{0}},
		},
		{
			name: "rejected fits crossing without shared points",
			est:  candidate(0.3, 0.18, intrinsics.Rejected(), 3),
			want: Conflicts{},
		},
		{
			name: "rejected fits sharing points",
			est:  candidate(0.1, 0.2, intrinsics.Rejected(), 2, 3),
			want: Conflicts{Reject: true, Scanlines: []int{2}, Shared: true},
		},
		{
			name: "better candidate sharing points",
			est:  candidate(-0.1, -0.2, intrinsics.Accepted(1), 0, 3),
			want: Conflicts{Scanlines: []int{0}, Shared: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ResolveConflicts(tt.est, recorded, assignment, 5, 40)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Reject || len(tt.want.Scanlines) > 0, got.Any())
		})
	}
}

func TestScore(t *testing.T) {
	t.Parallel()
	assert.Equal(t, -3.0, score(intrinsics.Accepted(-3)))
	assert.True(t, math.IsInf(score(intrinsics.Rejected()), 1))
}
