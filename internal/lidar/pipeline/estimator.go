package pipeline

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l2hough"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l3scanlines"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l4horizontal"
	"github.com/banshee-data/lidar-intrinsics/internal/monitoring"
)

// IntrinsicsDetailed is an estimation result with its per-iteration
// traces and the final assignment of every valid point.
type IntrinsicsDetailed struct {
	Intrinsics *intrinsics.Intrinsics
	Iterations []debug.IterationTrace
	// PointScanlines holds the scanline ID of every valid point, -1 when
	// the point was left unassigned.
	PointScanlines []int
	// SourceIndices maps each valid point to its index in the input.
	SourceIndices []int
}

// Estimate recovers the intrinsics of the sensor that produced points.
func Estimate(ctx context.Context, points []l1points.Point, cfg EstimatorConfig) (*intrinsics.Intrinsics, error) {
	d, err := run(ctx, points, cfg, cfg.Sink)
	if err != nil {
		return nil, err
	}
	return d.Intrinsics, nil
}

// EstimateDetailed is Estimate plus the iteration traces and the
// per-point assignment. Traces are recorded whether or not cfg.Sink is
// set; an enabled cfg.Sink receives them too.
func EstimateDetailed(ctx context.Context, points []l1points.Point, cfg EstimatorConfig) (*IntrinsicsDetailed, error) {
	collector := debug.NewCollector()
	collector.SetEnabled(true)
	sink := debug.Sink(collector)
	if cfg.Sink != nil && cfg.Sink.IsEnabled() {
		sink = teeSink{collector, cfg.Sink}
	}
	d, err := run(ctx, points, cfg, sink)
	if err != nil {
		return nil, err
	}
	d.Iterations = collector.Emit()
	return d, nil
}

type teeSink []debug.Sink

func (t teeSink) IsEnabled() bool { return true }

func (t teeSink) RecordIteration(tr *debug.IterationTrace) {
	for i, s := range t {
		if i > 0 {
			// Each sink owns its trace.
			cp := *tr
			s.RecordIteration(&cp)
			continue
		}
		s.RecordIteration(tr)
	}
}

func run(ctx context.Context, points []l1points.Point, cfg EstimatorConfig, sink debug.Sink) (*IntrinsicsDetailed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, intrinsics.Errorf(intrinsics.InvalidInput, "estimator config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, intrinsics.Errorf(intrinsics.Unknown, "estimate: %w", err)
	}
	frame, err := l1points.NewFrame(points, cfg.Frame)
	if err != nil {
		return nil, err
	}
	acc, err := l2hough.New(frame, cfg.Hough)
	if err != nil {
		return nil, intrinsics.Errorf(intrinsics.Unknown, "hough accumulator: %w", err)
	}
	monitoring.Debugf("estimate: %d points (%d dropped), range [%.3f, %.3f] m, eps %.3g",
		frame.Len(), frame.Dropped, frame.MinRange, frame.MaxRange, frame.CoordsEps)

	c := newController(frame, acc, cfg, sink)
	reason, err := c.loop(ctx)
	if err != nil {
		return nil, err
	}
	d := c.finalize(reason)
	if err := d.Intrinsics.Validate(); err != nil {
		return nil, intrinsics.Errorf(intrinsics.Unknown, "estimate produced an invalid model: %w", err)
	}
	return d, nil
}

// controller owns the per-frame state of the outer loop. Scanlines live in
// an arena indexed by discovery order; assignment maps each point to its
// arena index or -1.
type controller struct {
	frame   *l1points.Frame
	acc     *l2hough.Accumulator
	refiner *l3scanlines.Refiner
	cfg     EstimatorConfig
	sink    debug.Sink

	scanlines  []*intrinsics.Scanline // nil once displaced
	members    [][]int
	assignment []int32
	unassigned int

	seen       map[uint64]struct{}
	blocked    map[uint64]map[int]struct{} // peak hash -> scanlines it lost to
	iterations int
	stalled    int
	lastRes    float64 // latest non-heuristic horizontal resolution
}

// decision is what the controller did with one candidate.
type decision struct {
	index     int // arena index, -1 when nothing was recorded
	assigned  int
	conflicts l3scanlines.Conflicts
}

func newController(frame *l1points.Frame, acc *l2hough.Accumulator, cfg EstimatorConfig, sink debug.Sink) *controller {
	c := &controller{
		frame:      frame,
		acc:        acc,
		refiner:    l3scanlines.NewRefiner(frame, cfg.Refine),
		cfg:        cfg,
		sink:       sink,
		assignment: make([]int32, frame.Len()),
		unassigned: frame.Len(),
		seen:       make(map[uint64]struct{}),
		blocked:    make(map[uint64]map[int]struct{}),
	}
	all := make([]int, frame.Len())
	for i := range all {
		c.assignment[i] = -1
		all[i] = i
	}
	acc.Vote(all)
	return c
}

func (c *controller) tracing() bool { return c.sink != nil && c.sink.IsEnabled() }

// referenceOffset is the mean offset of the scanlines found so far.
func (c *controller) referenceOffset() float64 {
	offsets := make([]float64, 0, len(c.scanlines))
	for _, s := range c.scanlines {
		if s != nil {
			offsets = append(offsets, s.VerticalOffset.Value)
		}
	}
	if len(offsets) == 0 {
		return 0
	}
	return stat.Mean(offsets, nil)
}

func (c *controller) recorded() []intrinsics.Scanline {
	out := make([]intrinsics.Scanline, 0, len(c.scanlines))
	for _, s := range c.scanlines {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func (c *controller) loop(ctx context.Context) (intrinsics.EndReason, error) {
	mo, ma := c.acc.Margin()
	for {
		if err := ctx.Err(); err != nil {
			return 0, intrinsics.Errorf(intrinsics.Unknown, "estimate cancelled after %d iterations: %w", c.iterations, err)
		}
		if c.unassigned == 0 {
			return intrinsics.Converged, nil
		}
		if c.iterations >= c.cfg.MaxIterations {
			monitoring.Logf("estimate: stopped after %d iterations with %d points unassigned", c.iterations, c.unassigned)
			return intrinsics.MaxIterationsReached, nil
		}

		// Extract
		peak, ok := c.acc.FindPeak(c.referenceOffset())
		if !ok {
			return intrinsics.NoPointsRemaining, nil
		}
		if _, dup := c.seen[peak.Hash]; dup {
			monitoring.Logf("estimate: peak fingerprint %#x repeated at iteration %d", peak.Hash, c.iterations)
			return intrinsics.DegeneratePattern, nil
		}
		c.seen[peak.Hash] = struct{}{}

		var tr *debug.IterationTrace
		if c.tracing() {
			tr = c.beginTrace(peak)
		}
		c.iterations++

		// Refine
		est := c.refiner.Refine(peak, mo, ma, c.recorded())
		monitoring.Debugf("iteration %d: peak offset=%.4f angle=%.5f votes=%d -> %s (offset=%.5f angle=%.6f, %d in band, %d fit passes)",
			c.iterations-1, peak.Offset, peak.Angle, peak.Votes, est.Outcome,
			est.Offset.Value, est.Angle.Value, len(est.Limits.Indices), est.FitAttempts)

		// Decide
		before := c.unassigned
		dec := c.decide(peak, est)
		if tr != nil {
			c.endTrace(tr, est, dec)
		}

		if c.unassigned >= before {
			c.stalled++
			if c.stalled >= c.cfg.MaxStalledIterations {
				monitoring.Logf("estimate: %d iterations without a new assignment, %d points unassigned", c.stalled, c.unassigned)
				return intrinsics.DegeneratePattern, nil
			}
			continue
		}
		c.stalled = 0
	}
}

// decide records a scanline for an accepted or heuristic estimate that
// survives the conflict check and assigns it the band members that are
// still unassigned. Recorded scanlines the estimate displaces are removed
// first and their points returned to the pool.
func (c *controller) decide(peak l2hough.Peak, est l3scanlines.Estimate) decision {
	dec := decision{index: -1}
	c.acc.Invalidate(peak.Hash)
	if est.Outcome == l3scanlines.Failed {
		return dec
	}

	f := c.frame
	dec.conflicts = l3scanlines.ResolveConflicts(est, c.scanlines, c.assignment, f.MinRange, f.MaxRange)
	if !dec.conflicts.Reject && len(dec.conflicts.Scanlines) > 0 && !c.canDisplace(est, dec.conflicts.Scanlines) {
		// Displacing would return more points to the pool than the
		// candidate claims back.
		dec.conflicts.Reject = true
	}
	if dec.conflicts.Reject {
		c.block(peak.Hash, dec.conflicts.Scanlines)
		monitoring.Debugf("iteration %d: candidate rejected, conflicts with scanlines %v", c.iterations-1, dec.conflicts.Scanlines)
		return dec
	}

	idx := len(c.scanlines)
	for _, k := range dec.conflicts.Scanlines {
		c.remove(k, idx)
	}

	var fresh []int
	for _, i := range est.Limits.Indices {
		if c.assignment[i] < 0 {
			fresh = append(fresh, i)
		}
	}
	if len(fresh) == 0 {
		return dec
	}

	s := &intrinsics.Scanline{
		DiscoveryIndex:    idx,
		VerticalOffset:    est.Offset,
		VerticalAngle:     est.Angle,
		VerticalHeuristic: est.Outcome == l3scanlines.Heuristic,
		Uncertainty:       est.Uncertainty,
		HoughVotes:        peak.Votes,
		HoughHash:         peak.Hash,
		PointsCount:       len(fresh),
	}
	s.AngleBounds = l3scanlines.AngleBounds(est.Offset, est.Angle, f.MinRange, f.MaxRange, l3scanlines.MedianRange(f, fresh))

	for _, i := range fresh {
		c.assignment[i] = int32(idx)
	}
	c.unassigned -= len(fresh)
	c.acc.Unvote(fresh)

	h := l4horizontal.Estimate(thetasOf(f, fresh), c.lastRes, c.cfg.Horizontal)
	s.HorizontalResolution = h.Resolution
	s.HorizontalOffset = h.Offset
	s.ColumnsPerTurn = h.Columns
	s.HorizontalHeuristic = h.Heuristic
	if !h.Heuristic {
		c.lastRes = h.Resolution
	}

	c.scanlines = append(c.scanlines, s)
	c.members = append(c.members, fresh)
	dec.index, dec.assigned = idx, len(fresh)
	return dec
}

// canDisplace reports whether recording est in place of the given
// scanlines keeps the unassigned count from growing.
func (c *controller) canDisplace(est l3scanlines.Estimate, victims []int) bool {
	gone := make(map[int32]bool, len(victims))
	freed := 0
	for _, k := range victims {
		gone[int32(k)] = true
		freed += len(c.members[k])
	}
	claimed := 0
	for _, i := range est.Limits.Indices {
		if a := c.assignment[i]; a < 0 || gone[a] {
			claimed++
		}
	}
	return claimed >= freed
}

// block remembers that the peak with hash lost to the given scanlines.
// Its cells stay invalid until all of them are removed.
func (c *controller) block(hash uint64, by []int) {
	if len(by) == 0 {
		return
	}
	set := c.blocked[hash]
	if set == nil {
		set = make(map[int]struct{}, len(by))
		c.blocked[hash] = set
	}
	for _, k := range by {
		set[k] = struct{}{}
	}
}

// remove drops scanline k in favour of scanline winner. Its points go back
// to the pool and the accumulator, peaks that only lost to k become
// eligible again, and k's own peak stays blocked while winner lives.
func (c *controller) remove(k, winner int) {
	s := c.scanlines[k]
	pts := c.members[k]
	for _, i := range pts {
		c.assignment[i] = -1
	}
	c.unassigned += len(pts)
	c.acc.Vote(pts)
	c.scanlines[k] = nil
	c.members[k] = nil

	for hash, set := range c.blocked {
		delete(set, k)
		if len(set) == 0 {
			c.acc.Restore(hash)
			delete(c.seen, hash)
			delete(c.blocked, hash)
		}
	}
	c.block(s.HoughHash, []int{winner})
	monitoring.Debugf("scanline %d (offset=%.5f angle=%.6f) displaced by %d, %d points returned",
		k, s.VerticalOffset.Value, s.VerticalAngle.Value, winner, len(pts))
}

func thetasOf(f *l1points.Frame, indices []int) []float64 {
	out := make([]float64, len(indices))
	for k, i := range indices {
		out[k] = f.Thetas[i]
	}
	return out
}

func (c *controller) beginTrace(peak l2hough.Peak) *debug.IterationTrace {
	w := c.acc.Window(peak, c.cfg.TraceWindow)
	mask := make([]bool, len(c.assignment))
	for i, a := range c.assignment {
		mask[i] = a < 0
	}
	return &debug.IterationTrace{
		Iteration:  c.iterations,
		PeakOffset: peak.Offset,
		PeakAngle:  peak.Angle,
		PeakVotes:  peak.Votes,
		PeakHash:   peak.Hash,
		Window: debug.AccumulatorWindow{
			RowStart:    w.RowStart,
			ColStart:    w.ColStart,
			Rows:        w.Rows,
			Cols:        w.Cols,
			OffsetStart: w.OffsetStart,
			AngleStart:  w.AngleStart,
			OffsetStep:  w.OffsetStep,
			AngleStep:   w.AngleStep,
			Votes:       w.Votes,
		},
		Ranges:         c.frame.Ranges,
		Phis:           c.frame.Phis,
		UnassignedMask: mask,
	}
}

func (c *controller) endTrace(tr *debug.IterationTrace, est l3scanlines.Estimate, dec decision) {
	tr.Outcome = est.Outcome.String()
	if dec.conflicts.Reject {
		tr.Outcome = "conflict"
	}
	tr.Conflicts = dec.conflicts.Scanlines
	tr.Offset = est.Offset
	tr.Angle = est.Angle
	tr.Uncertainty = est.Uncertainty
	tr.FitAttempts = est.FitAttempts
	tr.ScanlineIndex = dec.index
	tr.Assigned = dec.assigned
	tr.Unassigned = c.unassigned
	tr.LowerLimit = est.Limits.Lower
	tr.UpperLimit = est.Limits.Upper
	tr.InScanline = est.Limits.Mask
	c.sink.RecordIteration(tr)
}

// finalize marks the last discovered scanline, sorts the scanlines by
// vertical angle, remaps IDs and assignments, and lets horizontally
// heuristic scanlines borrow from their nearest neighbour.
func (c *controller) finalize(reason intrinsics.EndReason) *IntrinsicsDetailed {
	var order []int
	for k, s := range c.scanlines {
		if s != nil {
			order = append(order, k)
		}
	}
	n := len(order)
	if n > 0 {
		c.scanlines[order[n-1]].LastScanline = true
	}

	sort.SliceStable(order, func(a, b int) bool {
		return c.scanlines[order[a]].VerticalAngle.Value < c.scanlines[order[b]].VerticalAngle.Value
	})

	rowOf := make([]int, len(c.scanlines))
	out := make([]intrinsics.Scanline, n)
	thetas := make([][]float64, n)
	for row, disc := range order {
		rowOf[disc] = row
		out[row] = *c.scanlines[disc]
		out[row].ID = row
		thetas[row] = thetasOf(c.frame, c.members[disc])
	}
	if borrowed := l4horizontal.Borrow(out, thetas); borrowed > 0 {
		monitoring.Debugf("estimate: %d scanlines borrowed a horizontal resolution", borrowed)
	}

	pointRows := make([]int, len(c.assignment))
	for i, a := range c.assignment {
		pointRows[i] = -1
		if a >= 0 {
			pointRows[i] = rowOf[a]
		}
	}

	if c.unassigned > 0 {
		monitoring.Logf("estimate: %d spurious points left unassigned (%s)", c.unassigned, reason)
	}
	monitoring.Debugf("estimate: %d scanlines after %d iterations, end reason %s", n, c.iterations, reason)

	return &IntrinsicsDetailed{
		Intrinsics: &intrinsics.Intrinsics{
			Scanlines:          out,
			PointsCount:        c.frame.Len(),
			DroppedPoints:      c.frame.Dropped,
			ScanlinesCount:     n,
			VerticalIterations: c.iterations,
			UnassignedPoints:   c.unassigned,
			EndReason:          reason,
		},
		PointScanlines: pointRows,
		SourceIndices:  append([]int(nil), c.frame.Source...),
	}
}
