// Package l1points owns Layer 1 (Points) of the intrinsics estimator.
//
// Responsibilities: Cartesian to spherical conversion, degenerate point
// filtering, the coordinate quantisation estimate used for error bounds,
// and point cloud file readers and writers (KITTI binary, ASC text).
// Key types: Point, Frame.
//
// Dependency rule: L1 may depend on the intrinsics model package only.
package l1points
