package debug

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Array file names written by WriteArrays.
const (
	RangesFile          = "ranges.bin"
	PhisFile            = "phis.bin"
	LowerLimitFile      = "scanline_lower_limit.bin"
	UpperLimitFile      = "scanline_upper_limit.bin"
	InScanlineMaskFile  = "points_in_scanline_mask.bin"
	UnassignedMaskFile  = "unassigned_mask.bin"
	MetaFile            = "meta.json"
	iterationDirPattern = "iter_%04d"
)

type windowMeta struct {
	RowStart    int     `json:"row_start"`
	ColStart    int     `json:"col_start"`
	Rows        int     `json:"rows"`
	Cols        int     `json:"cols"`
	OffsetStart float64 `json:"offset_start"`
	AngleStart  float64 `json:"angle_start"`
	OffsetStep  float64 `json:"offset_step"`
	AngleStep   float64 `json:"angle_step"`
	Votes       []int32 `json:"votes"`
}

type iterationMeta struct {
	Iteration     int        `json:"iteration"`
	Offset        float64    `json:"offset"`
	Angle         float64    `json:"angle"`
	Votes         int64      `json:"votes"`
	Hash          uint64     `json:"hash"`
	Outcome       string     `json:"outcome"`
	FitOffset     float64    `json:"fit_offset"`
	FitAngle      float64    `json:"fit_angle"`
	Uncertainty   *float64   `json:"uncertainty"`
	FitAttempts   int        `json:"fit_attempts"`
	ScanlineIndex int        `json:"scanline_index"`
	Conflicts     []int      `json:"conflicts,omitempty"`
	Assigned      int        `json:"assigned"`
	Unassigned    int        `json:"unassigned"`
	Points        int        `json:"points"`
	Window        windowMeta `json:"window"`
}

// IterationDir returns the directory WriteArrays uses for iteration i.
func IterationDir(root string, i int) string {
	return filepath.Join(root, fmt.Sprintf(iterationDirPattern, i))
}

// WriteArrays writes the per-point arrays of tr as raw little-endian files
// plus a meta.json into dir, creating it if needed. All arrays must have
// the same length.
func WriteArrays(dir string, tr *IterationTrace) error {
	if tr == nil {
		return fmt.Errorf("write arrays: nil trace")
	}
	n := len(tr.Ranges)
	for name, l := range map[string]int{
		PhisFile:           len(tr.Phis),
		LowerLimitFile:     len(tr.LowerLimit),
		UpperLimitFile:     len(tr.UpperLimit),
		InScanlineMaskFile: len(tr.InScanline),
		UnassignedMaskFile: len(tr.UnassignedMask),
	} {
		if l != n {
			return fmt.Errorf("write arrays: %s has %d values, want %d", name, l, n)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write arrays: %w", err)
	}

	floats := []struct {
		name string
		v    []float64
	}{
		{RangesFile, tr.Ranges},
		{PhisFile, tr.Phis},
		{LowerLimitFile, tr.LowerLimit},
		{UpperLimitFile, tr.UpperLimit},
	}
	for _, f := range floats {
		if err := os.WriteFile(filepath.Join(dir, f.name), encodeFloat64s(f.v), 0o644); err != nil {
			return fmt.Errorf("write arrays: %w", err)
		}
	}
	masks := []struct {
		name string
		v    []bool
	}{
		{InScanlineMaskFile, tr.InScanline},
		{UnassignedMaskFile, tr.UnassignedMask},
	}
	for _, m := range masks {
		if err := os.WriteFile(filepath.Join(dir, m.name), encodeMask(m.v), 0o644); err != nil {
			return fmt.Errorf("write arrays: %w", err)
		}
	}

	meta := iterationMeta{
		Iteration:     tr.Iteration,
		Offset:        tr.PeakOffset,
		Angle:         tr.PeakAngle,
		Votes:         tr.PeakVotes,
		Hash:          tr.PeakHash,
		Outcome:       tr.Outcome,
		FitOffset:     tr.Offset.Value,
		FitAngle:      tr.Angle.Value,
		FitAttempts:   tr.FitAttempts,
		ScanlineIndex: tr.ScanlineIndex,
		Conflicts:     tr.Conflicts,
		Assigned:      tr.Assigned,
		Unassigned:    tr.Unassigned,
		Points:        n,
		Window: windowMeta{
			RowStart:    tr.Window.RowStart,
			ColStart:    tr.Window.ColStart,
			Rows:        tr.Window.Rows,
			Cols:        tr.Window.Cols,
			OffsetStart: tr.Window.OffsetStart,
			AngleStart:  tr.Window.AngleStart,
			OffsetStep:  tr.Window.OffsetStep,
			AngleStep:   tr.Window.AngleStep,
			Votes:       tr.Window.Votes,
		},
	}
	if v, ok := tr.Uncertainty.Value(); ok {
		meta.Uncertainty = &v
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("write arrays: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetaFile), data, 0o644); err != nil {
		return fmt.Errorf("write arrays: %w", err)
	}
	return nil
}

// WriteAll writes every trace to its own iteration directory under root.
func WriteAll(root string, traces []IterationTrace) error {
	for i := range traces {
		if err := WriteArrays(IterationDir(root, traces[i].Iteration), &traces[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeFloat64s(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func encodeMask(v []bool) []byte {
	buf := make([]byte, len(v))
	for i, b := range v {
		if b {
			buf[i] = 1
		}
	}
	return buf
}
