// Package intrinsics owns the calibrated sensor model produced by the
// estimator.
//
// Responsibilities: the Intrinsics and Scanline value types, the tagged
// Uncertainty score, the lossless JSON codec, and the error codes shared
// by every layer.
// Key types: Intrinsics, Scanline, Interval, ValueConfInterval, Uncertainty,
// EndReason, Error.
//
// Dependency rule: this package is a leaf. It must not import any other
// lidar package, so that readers of a persisted model need nothing else.
package intrinsics
