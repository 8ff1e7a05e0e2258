// Package rangeimage converts between unorganised point clouds and the
// organised range image implied by a sensor's intrinsics: one row per
// scanline, one column per azimuth step.
package rangeimage

import (
	"fmt"
	"math"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
)

// NoReturn marks a cell without a measurement.
const NoReturn = 0.0

// DefaultAngleTolerance widens each scanline band during projection (rad).
const DefaultAngleTolerance = 1e-4

// RangeImage is a row-major grid of ranges. Rows are scanlines in angle
// order.
type RangeImage struct {
	Width       int
	Height      int
	Ranges      []float64
	Intensities []float32 // nil when the source carried no intensity

	// Dropped counts the points Project could not place.
	Dropped int
}

// New returns an empty image.
func New(width, height int, withIntensity bool) *RangeImage {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	img := &RangeImage{
		Width:  width,
		Height: height,
		Ranges: make([]float64, width*height),
	}
	if withIntensity {
		img.Intensities = make([]float32, width*height)
	}
	return img
}

func (img *RangeImage) index(row, col int) int { return row*img.Width + col }

// In reports whether (row, col) lies inside the image.
func (img *RangeImage) In(row, col int) bool {
	return row >= 0 && row < img.Height && col >= 0 && col < img.Width
}

// At returns the range stored at (row, col), NoReturn outside the image.
func (img *RangeImage) At(row, col int) float64 {
	if !img.In(row, col) {
		return NoReturn
	}
	return img.Ranges[img.index(row, col)]
}

// IntensityAt returns the intensity at (row, col), 0 when absent.
func (img *RangeImage) IntensityAt(row, col int) float32 {
	if img.Intensities == nil || !img.In(row, col) {
		return 0
	}
	return img.Intensities[img.index(row, col)]
}

// Set stores a return at (row, col). Out-of-bounds writes are ignored.
func (img *RangeImage) Set(row, col int, r float64, intensity float32) {
	if !img.In(row, col) {
		return
	}
	k := img.index(row, col)
	img.Ranges[k] = r
	if img.Intensities != nil {
		img.Intensities[k] = intensity
	}
}

// HasReturn reports whether (row, col) holds a measurement.
func (img *RangeImage) HasReturn(row, col int) bool {
	return img.At(row, col) != NoReturn
}

// Coverage returns the fraction of cells holding a return.
func (img *RangeImage) Coverage() float64 {
	if len(img.Ranges) == 0 {
		return 0
	}
	n := 0
	for _, r := range img.Ranges {
		if r != NoReturn {
			n++
		}
	}
	return float64(n) / float64(len(img.Ranges))
}

// Validate checks that the buffers match the dimensions.
func (img *RangeImage) Validate() error {
	if img.Width < 0 || img.Height < 0 {
		return fmt.Errorf("range image: negative size %dx%d", img.Width, img.Height)
	}
	if len(img.Ranges) != img.Width*img.Height {
		return fmt.Errorf("range image: %d ranges for %dx%d", len(img.Ranges), img.Width, img.Height)
	}
	if img.Intensities != nil && len(img.Intensities) != len(img.Ranges) {
		return fmt.Errorf("range image: %d intensities for %d ranges", len(img.Intensities), len(img.Ranges))
	}
	return nil
}

// Project places points into the range image of intr using
// DefaultAngleTolerance.
func Project(intr *intrinsics.Intrinsics, points []l1points.Point) *RangeImage {
	return ProjectWithTolerance(intr, points, DefaultAngleTolerance)
}

// ProjectWithTolerance places each point in the row of the scanline whose
// expected vertical angle at the point's range is closest, provided the
// point lies inside that scanline's band widened by tol. Points outside
// every band, degenerate points and points of a scanline without columns
// are counted in Dropped. When two points share a cell the nearer wins.
func ProjectWithTolerance(intr *intrinsics.Intrinsics, points []l1points.Point, tol float64) *RangeImage {
	if intr == nil {
		return New(0, 0, false)
	}
	img := New(intr.MaxColumns(), len(intr.Scanlines), true)
	if len(intr.Scanlines) == 0 {
		img.Dropped = len(points)
		return img
	}

	for _, p := range points {
		if !l1points.Valid(p) {
			img.Dropped++
			continue
		}
		r, phi, theta := l1points.Spherical(p)

		row, best := -1, math.Inf(1)
		for k := range intr.Scanlines {
			if d := math.Abs(phi - intr.Scanlines[k].ExpectedPhi(r)); d < best {
				row, best = k, d
			}
		}
		s := &intr.Scanlines[row]
		if !s.BandAt(r).Widen(tol).Contains(phi) || s.ColumnsPerTurn <= 0 || !(s.HorizontalResolution > 0) {
			img.Dropped++
			continue
		}

		col := Column(theta, s)
		if cur := img.At(row, col); cur != NoReturn && cur <= r {
			continue
		}
		img.Set(row, col, r, p.Intensity)
	}
	return img
}

// Column returns the column of azimuth theta in scanline s.
func Column(theta float64, s *intrinsics.Scanline) int {
	d := math.Mod(theta-s.HorizontalOffset, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	col := int(math.Round(d/s.HorizontalResolution)) % s.ColumnsPerTurn
	if col < 0 {
		col += s.ColumnsPerTurn
	}
	return col
}

// Unproject converts every cell with a return back to a Cartesian point.
// An image whose height does not match the scanline count, or whose
// buffers do not match its size, yields an empty cloud.
func Unproject(intr *intrinsics.Intrinsics, img *RangeImage) []l1points.Point {
	if intr == nil || img == nil || img.Height != len(intr.Scanlines) || img.Validate() != nil {
		return []l1points.Point{}
	}
	out := make([]l1points.Point, 0, len(img.Ranges))
	for row := 0; row < img.Height; row++ {
		s := &intr.Scanlines[row]
		for col := 0; col < img.Width; col++ {
			r := img.At(row, col)
			if r == NoReturn {
				continue
			}
			phi := s.ExpectedPhi(r)
			theta := s.HorizontalOffset + float64(col)*s.HorizontalResolution
			out = append(out, l1points.Point{
				X:         r * math.Cos(phi) * math.Cos(theta),
				Y:         r * math.Cos(phi) * math.Sin(theta),
				Z:         r * math.Sin(phi),
				Intensity: img.IntensityAt(row, col),
			})
		}
	}
	return out
}
