// Package pipeline runs the intrinsics estimator over one frame.
//
// It wires the layer packages together: L1 builds the frame, L2 proposes
// beams by Hough voting, L3 refines them into scanlines, L4 infers each
// scanline's azimuthal sampling. The controller owns the bookkeeping
// between iterations (assignment, vote removal, peak invalidation) and the
// termination rules. It does not own domain logic; it delegates to the
// layer packages.
package pipeline
