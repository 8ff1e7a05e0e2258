// Package l4horizontal owns Layer 4 (Horizontal) of the intrinsics estimator.
//
// Responsibilities: the azimuthal sampling resolution and phase of one
// scanline, inferred from the azimuths of its assigned points, and the
// fallback used when too few points or no regular gap is available.
// Key types: Config, Result.
//
// Dependency rule: L4 may depend on L1-L3, but never on the pipeline.
package l4horizontal
