// Package l3scanlines owns Layer 3 (Scanlines) of the intrinsics estimator.
//
// Responsibilities: per-point vertical error bounds, the angular band a
// candidate beam occupies, the weighted line fit with Student-t confidence
// intervals, the fit/re-band loop that confirms a candidate, the neighbour
// heuristic used when a fit is too uncertain, the theoretical angle
// bounds recorded for each scanline, and the conflict check between a
// candidate and the scanlines already recorded.
// Key types: Refiner, Estimate, Limits, LineFit, Conflicts.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
//
// The vertical model is linearised: phi = angle + offset/r. The exact model
// phi = angle + asin(offset/r) is only used where a scanline is evaluated
// at a single range (heuristic angle, angle bounds, projection).
package l3scanlines
