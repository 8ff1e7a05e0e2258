// Package l2hough owns Layer 2 (Hough) of the intrinsics estimator.
//
// Responsibilities: the (offset, angle) vote accumulator over unassigned
// points, exact vote removal, peak search with a deterministic tie-break,
// and fingerprint-based peak invalidation.
// Key types: Accumulator, Peak, Window.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2hough
