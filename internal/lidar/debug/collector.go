// Package debug provides instrumentation for the intrinsics estimator.
// A Sink receives one IterationTrace per outer iteration of the estimator:
// the picked Hough peak, the accumulator window around it, the candidate
// band, the masks and the decision taken. Traces feed the diagnostic plots
// and the raw array export.
package debug

import (
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
)

// defaultTraceCapacity is a typical iteration count for a 64-beam frame
// including a few failed peaks.
const defaultTraceCapacity = 96

// Sink receives iteration traces. The estimator only builds a trace when
// IsEnabled reports true, so a disabled sink costs nothing.
type Sink interface {
	IsEnabled() bool
	RecordIteration(tr *IterationTrace)
}

// AccumulatorWindow is a copy of the Hough votes around a peak.
type AccumulatorWindow struct {
	RowStart    int
	ColStart    int
	Rows        int
	Cols        int
	OffsetStart float64
	AngleStart  float64
	OffsetStep  float64
	AngleStep   float64
	Votes       []int32 // row-major, Rows*Cols
}

// IterationTrace captures one outer iteration of the estimator.
type IterationTrace struct {
	Iteration int

	// Hough stage
	PeakOffset float64
	PeakAngle  float64
	PeakVotes  int64
	PeakHash   uint64
	Window     AccumulatorWindow

	// Refinement stage
	Outcome     string // accepted, heuristic, failed or conflict
	Offset      intrinsics.ValueConfInterval
	Angle       intrinsics.ValueConfInterval
	Uncertainty intrinsics.Uncertainty
	FitAttempts int

	// Decision
	ScanlineIndex int   // discovery index, -1 when nothing was recorded
	Conflicts     []int // scanlines the candidate lost to, or displaced
	Assigned      int   // points newly assigned this iteration
	Unassigned    int   // points left unassigned afterwards

	// Per-point arrays in frame order.
	Ranges         []float64
	Phis           []float64
	LowerLimit     []float64
	UpperLimit     []float64
	InScanline     []bool
	UnassignedMask []bool
}

// Collector accumulates iteration traces for one frame. It implements Sink.
//
// The collector is stateful: the estimator calls RecordIteration while it
// runs, then the caller takes the traces with Emit. Reset discards them.
type Collector struct {
	enabled bool
	traces  []*IterationTrace
}

// NewCollector creates a collector that's initially disabled.
// Call SetEnabled(true) to begin collecting traces.
func NewCollector() *Collector {
	return &Collector{}
}

// SetEnabled controls whether the collector records traces.
// When disabled, RecordIteration is a no-op.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *Collector) IsEnabled() bool {
	return c != nil && c.enabled
}

// RecordIteration stores tr. The collector takes ownership of it.
func (c *Collector) RecordIteration(tr *IterationTrace) {
	if !c.IsEnabled() || tr == nil {
		return
	}
	if c.traces == nil {
		c.traces = make([]*IterationTrace, 0, defaultTraceCapacity)
	}
	c.traces = append(c.traces, tr)
}

// Len returns the number of recorded traces.
func (c *Collector) Len() int { return len(c.traces) }

// Emit returns the recorded traces in iteration order and clears the
// collector. Returns nil if collection is disabled.
func (c *Collector) Emit() []IterationTrace {
	if !c.IsEnabled() {
		return nil
	}
	out := make([]IterationTrace, len(c.traces))
	for i, tr := range c.traces {
		out[i] = *tr
	}
	c.traces = nil
	return out
}

// Reset clears any pending traces without emitting them.
func (c *Collector) Reset() {
	c.traces = nil
}
