package l2hough

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
)

// knuthMultiplier spreads point indices over the 64-bit hash space.
const knuthMultiplier uint64 = 11400714819323198485

// maxCells bounds the accumulator allocation (votes, hashes and mask).
const maxCells = 1 << 28

// Config sizes the accumulator.
type Config struct {
	OffsetStep float64 // metres per offset column
	AngleStep  float64 // radians per angle row
	MaxOffset  float64 // largest |offset| searched, further limited by the frame's min range
	Workers    int     // goroutines used to cast votes
}

// Peak is the winning accumulator cell.
type Peak struct {
	OffsetIndex int
	AngleIndex  int
	Offset      float64
	Angle       float64
	Votes       int64
	Hash        uint64
}

// Accumulator is a vote grid over (offset, angle). A point at (1/r, phi)
// votes along the line angle = phi - offset/r, rasterised per offset
// column with the gaps between consecutive columns filled so that the line
// is continuous. Each cell also keeps the XOR of the Knuth hashes of the
// points that voted for it, which identifies the supporting point set.
type Accumulator struct {
	frame *l1points.Frame

	offsetStep float64
	angleStep  float64
	offsetMin  float64
	angleMin   float64
	nOffsets   int
	nAngles    int
	workers    int

	votes   []int32 // row-major: angle row * nOffsets + offset column
	hashes  []uint64
	invalid []bool
	// excluded holds the cells each Invalidate call disabled, by hash.
	excluded map[uint64][]int
}

// New allocates an empty accumulator sized for frame. The angle axis only
// spans the angles reachable from the frame's vertical angles.
func New(frame *l1points.Frame, cfg Config) (*Accumulator, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("hough: empty frame")
	}
	if !(cfg.OffsetStep > 0) || !(cfg.AngleStep > 0) {
		return nil, fmt.Errorf("hough: steps must be positive (offset %g, angle %g)", cfg.OffsetStep, cfg.AngleStep)
	}

	offMax := math.Min(frame.MinRange, cfg.MaxOffset) - cfg.OffsetStep
	if offMax < 0 {
		offMax = 0
	}
	nOff := int(math.Floor(2*offMax/cfg.OffsetStep+1e-9)) + 1

	spread := math.Asin(math.Min(offMax/frame.MinRange, 1))
	limit := math.Pi/2 - cfg.AngleStep
	angMin := math.Max(floats.Min(frame.Phis)-spread-cfg.AngleStep, -limit)
	angMax := math.Min(floats.Max(frame.Phis)+spread+cfg.AngleStep, limit)
	nAng := int(math.Floor((angMax-angMin)/cfg.AngleStep)) + 1

	cells := nOff * nAng
	if cells <= 0 || cells > maxCells {
		return nil, fmt.Errorf("hough: accumulator of %dx%d cells exceeds limit %d", nAng, nOff, maxCells)
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > nOff {
		workers = nOff
	}

	return &Accumulator{
		frame:      frame,
		offsetStep: cfg.OffsetStep,
		angleStep:  cfg.AngleStep,
		offsetMin:  -offMax,
		angleMin:   angMin,
		nOffsets:   nOff,
		nAngles:    nAng,
		workers:    workers,
		votes:      make([]int32, cells),
		hashes:     make([]uint64, cells),
		invalid:    make([]bool, cells),
		excluded:   make(map[uint64][]int),
	}, nil
}

// Dims returns the number of angle rows and offset columns.
func (a *Accumulator) Dims() (rows, cols int) { return a.nAngles, a.nOffsets }

// Offset returns the offset of column c.
func (a *Accumulator) Offset(c int) float64 { return a.offsetMin + float64(c)*a.offsetStep }

// Angle returns the angle of row r.
func (a *Accumulator) Angle(r int) float64 { return a.angleMin + float64(r)*a.angleStep }

// Margin returns the offset and angle resolution of a cell.
func (a *Accumulator) Margin() (offset, angle float64) { return a.offsetStep, a.angleStep }

// VotesAt returns the vote count of a cell.
func (a *Accumulator) VotesAt(row, col int) int32 { return a.votes[row*a.nOffsets+col] }

// HashAt returns the point-set fingerprint of a cell.
func (a *Accumulator) HashAt(row, col int) uint64 { return a.hashes[row*a.nOffsets+col] }

// PointHash returns the fingerprint contribution of frame point i.
func PointHash(i int) uint64 { return uint64(i+1) * knuthMultiplier }

// Vote adds the given frame points to the accumulator.
func (a *Accumulator) Vote(indices []int) { a.cast(indices, 1) }

// Unvote removes previously voted points. Because votes are re-rasterised
// identically, the counts and fingerprints return to their prior state.
func (a *Accumulator) Unvote(indices []int) { a.cast(indices, -1) }

func (a *Accumulator) cast(indices []int, delta int32) {
	if len(indices) == 0 {
		return
	}
	if a.workers == 1 {
		for _, i := range indices {
			a.rasterise(i, delta, 0, a.nOffsets)
		}
		return
	}

	// Workers own disjoint column ranges, so no cell is written twice
	// concurrently and no merge is needed.
	var wg sync.WaitGroup
	span := (a.nOffsets + a.workers - 1) / a.workers
	for lo := 0; lo < a.nOffsets; lo += span {
		hi := lo + span
		if hi > a.nOffsets {
			hi = a.nOffsets
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for _, i := range indices {
				a.rasterise(i, delta, lo, hi)
			}
		}(lo, hi)
	}
	wg.Wait()
}

// row returns the (unclamped) angle row point i falls in at column c.
func (a *Accumulator) row(phi, invR float64, c int) int {
	return int(math.Round((phi - a.Offset(c)*invR - a.angleMin) / a.angleStep))
}

// rasterise applies one point's votes to the columns in [colLo, colHi).
// Rows strictly between two consecutive in-range columns are filled in both
// columns; the line is monotone in the column so no cell is hit twice.
func (a *Accumulator) rasterise(i int, delta int32, colLo, colHi int) {
	phi := a.frame.Phis[i]
	invR := a.frame.InvRanges[i]
	h := PointHash(i)

	owns := func(c int) bool { return c >= colLo && c < colHi }
	add := func(r, c int) {
		k := r*a.nOffsets + c
		a.votes[k] += delta
		a.hashes[k] ^= h
	}

	start := colLo - 1
	if start < 0 {
		start = 0
	}
	end := colHi + 1
	if end > a.nOffsets {
		end = a.nOffsets
	}

	prevRow, prevOK := 0, false
	for c := start; c < end; c++ {
		r := a.row(phi, invR, c)
		ok := r >= 0 && r < a.nAngles
		if ok && owns(c) {
			add(r, c)
		}
		if ok && prevOK {
			lo, hi := prevRow, r
			if lo > hi {
				lo, hi = hi, lo
			}
			for rr := lo + 1; rr < hi; rr++ {
				if owns(c - 1) {
					add(rr, c-1)
				}
				if owns(c) {
					add(rr, c)
				}
			}
		}
		prevRow, prevOK = r, ok
	}
}

// Invalidate excludes from peak search every cell whose fingerprint equals
// hash. It returns the number of cells affected.
func (a *Accumulator) Invalidate(hash uint64) int {
	n := 0
	for k, h := range a.hashes {
		if h == hash && a.votes[k] > 0 && !a.invalid[k] {
			a.invalid[k] = true
			a.excluded[hash] = append(a.excluded[hash], k)
			n++
		}
	}
	return n
}

// Restore re-enables the cells that Invalidate(hash) excluded, whatever
// their counts and fingerprints have become since. It returns the number
// of cells restored.
func (a *Accumulator) Restore(hash uint64) int {
	cells := a.excluded[hash]
	delete(a.excluded, hash)
	for _, k := range cells {
		a.invalid[k] = false
	}
	return len(cells)
}

// FindPeak returns the valid cell with the most votes. Ties go to the cell
// whose offset is closest to reference, then to the first cell in row-major
// order. It reports false when no cell has a positive count.
func (a *Accumulator) FindPeak(reference float64) (Peak, bool) {
	best := -1
	var bestVotes int32
	bestDist := math.Inf(1)
	for k, v := range a.votes {
		if v <= 0 || a.invalid[k] || v < bestVotes {
			continue
		}
		d := math.Abs(a.Offset(k%a.nOffsets) - reference)
		if v > bestVotes || d < bestDist {
			best, bestVotes, bestDist = k, v, d
		}
	}
	if best < 0 {
		return Peak{}, false
	}
	row, col := best/a.nOffsets, best%a.nOffsets
	return Peak{
		OffsetIndex: col,
		AngleIndex:  row,
		Offset:      a.Offset(col),
		Angle:       a.Angle(row),
		Votes:       int64(bestVotes),
		Hash:        a.hashes[best],
	}, true
}

// Window is a cropped copy of the accumulator around a peak.
type Window struct {
	RowStart, ColStart int
	Rows, Cols         int
	OffsetStart        float64
	AngleStart         float64
	OffsetStep         float64
	AngleStep          float64
	Votes              []int32 // row-major, Rows*Cols
}

// Window copies the cells within half rows and columns of p.
func (a *Accumulator) Window(p Peak, half int) Window {
	if half < 0 {
		half = 0
	}
	r0, r1 := clampInt(p.AngleIndex-half, 0, a.nAngles), clampInt(p.AngleIndex+half+1, 0, a.nAngles)
	c0, c1 := clampInt(p.OffsetIndex-half, 0, a.nOffsets), clampInt(p.OffsetIndex+half+1, 0, a.nOffsets)
	w := Window{
		RowStart:    r0,
		ColStart:    c0,
		Rows:        r1 - r0,
		Cols:        c1 - c0,
		OffsetStart: a.Offset(c0),
		AngleStart:  a.Angle(r0),
		OffsetStep:  a.offsetStep,
		AngleStep:   a.angleStep,
	}
	w.Votes = make([]int32, 0, w.Rows*w.Cols)
	for r := r0; r < r1; r++ {
		w.Votes = append(w.Votes, a.votes[r*a.nOffsets+c0:r*a.nOffsets+c1]...)
	}
	return w
}

// At returns the votes of the window cell (row, col), relative to its origin.
func (w Window) At(row, col int) int32 { return w.Votes[row*w.Cols+col] }

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
