package pipeline

import (
	"fmt"

	"github.com/banshee-data/lidar-intrinsics/internal/config"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l2hough"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l3scanlines"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l4horizontal"
)

// EstimatorConfig is the immutable configuration of one estimation run.
type EstimatorConfig struct {
	Frame      l1points.FrameConfig
	Hough      l2hough.Config
	Refine     l3scanlines.Config
	Horizontal l4horizontal.Config

	MaxIterations        int
	MaxStalledIterations int // consecutive iterations without a new assignment

	// TraceWindow is the half-size, in cells, of the accumulator window
	// copied into each trace.
	TraceWindow int
	// Sink receives one trace per iteration when enabled. May be nil.
	Sink debug.Sink
}

// DefaultEstimatorConfig returns the built-in defaults.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfigFromTuning(config.EmptyTuningConfig())
}

// EstimatorConfigFromTuning builds an EstimatorConfig from a loaded
// TuningConfig. Fields absent from cfg take their defaults.
func EstimatorConfigFromTuning(cfg *config.TuningConfig) EstimatorConfig {
	return EstimatorConfig{
		Frame: l1points.FrameConfig{
			MinPoints:      cfg.GetMinScanlinePoints(),
			CoordsEpsFloor: cfg.GetCoordsEpsFloor(),
		},
		Hough: l2hough.Config{
			OffsetStep: cfg.GetHoughOffsetStep(),
			AngleStep:  cfg.GetHoughAngleStep(),
			MaxOffset:  cfg.GetMaxOffset(),
			Workers:    cfg.GetHoughWorkers(),
		},
		Refine: l3scanlines.Config{
			FitMinRange:      cfg.GetFitMinRange(),
			MaxFitAttempts:   cfg.GetMaxFitAttempts(),
			MaxOffsetCIWidth: cfg.GetMaxOffsetCIWidth(),
			MinPoints:        cfg.GetMinScanlinePoints(),
		},
		Horizontal: l4horizontal.Config{
			MinPoints:         cfg.GetHorizontalMinPoints(),
			DefaultResolution: cfg.GetHorizontalDefaultResolution(),
			GapTolerance:      cfg.GetHorizontalGapTolerance(),
			MinGap:            cfg.GetHorizontalMinGap(),
		},
		MaxIterations:        cfg.GetMaxIterations(),
		MaxStalledIterations: cfg.GetMaxStalledIterations(),
		TraceWindow:          cfg.GetTraceWindow(),
	}
}

// Validate checks if the configuration is valid.
func (c *EstimatorConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("MaxIterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.MaxStalledIterations < 1 {
		return fmt.Errorf("MaxStalledIterations must be at least 1, got %d", c.MaxStalledIterations)
	}
	if !(c.Hough.OffsetStep > 0) || !(c.Hough.AngleStep > 0) || !(c.Hough.MaxOffset > 0) {
		return fmt.Errorf("Hough steps and MaxOffset must be positive")
	}
	if c.Refine.MinPoints < 3 {
		return fmt.Errorf("MinPoints must be at least 3, got %d", c.Refine.MinPoints)
	}
	if !(c.Horizontal.DefaultResolution > 0) {
		return fmt.Errorf("DefaultResolution must be positive, got %g", c.Horizontal.DefaultResolution)
	}
	if c.TraceWindow < 0 {
		return fmt.Errorf("TraceWindow must be non-negative, got %d", c.TraceWindow)
	}
	return nil
}
