// Package lidar is the entry point of the intrinsics estimator. It
// re-exports the model types of the layer packages and wraps the primary
// operations: estimation, range image projection and the JSON codec.
//
// Callers that need more control import the layer packages directly:
//
//	l1points, l2hough, l3scanlines, l4horizontal, pipeline, intrinsics, rangeimage, debug
package lidar

import (
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/debug"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/intrinsics"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/l1points"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/pipeline"
	"github.com/banshee-data/lidar-intrinsics/internal/lidar/rangeimage"
)

// ── L1 Points ────────────────────────────────────────────────────────

type Point = l1points.Point

// ── Model ────────────────────────────────────────────────────────────

type Intrinsics = intrinsics.Intrinsics
type Scanline = intrinsics.Scanline
type Interval = intrinsics.Interval
type ValueConfInterval = intrinsics.ValueConfInterval
type ScanlineAngleBounds = intrinsics.ScanlineAngleBounds
type Uncertainty = intrinsics.Uncertainty
type EndReason = intrinsics.EndReason
type ErrorCode = intrinsics.ErrorCode
type Error = intrinsics.Error

const (
	Converged            = intrinsics.Converged
	MaxIterationsReached = intrinsics.MaxIterationsReached
	DegeneratePattern    = intrinsics.DegeneratePattern
	NoPointsRemaining    = intrinsics.NoPointsRemaining
)

const (
	None               = intrinsics.None
	InvalidInput       = intrinsics.InvalidInput
	InsufficientPoints = intrinsics.InsufficientPoints
	SerializationError = intrinsics.SerializationError
	Unknown            = intrinsics.Unknown
)

var CodeOf = intrinsics.CodeOf

// ── Pipeline ─────────────────────────────────────────────────────────

type EstimatorConfig = pipeline.EstimatorConfig
type IntrinsicsDetailed = pipeline.IntrinsicsDetailed

var DefaultEstimatorConfig = pipeline.DefaultEstimatorConfig
var EstimatorConfigFromTuning = pipeline.EstimatorConfigFromTuning

// ── Range image and traces ───────────────────────────────────────────

type RangeImage = rangeimage.RangeImage
type IterationTrace = debug.IterationTrace
type TraceSink = debug.Sink
