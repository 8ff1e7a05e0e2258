// Package sqlite persists intrinsics estimation experiments.
//
// An experiment groups the frames processed with one configuration. Each
// frame result stores the summary counters, the end reason or error code,
// and the full intrinsics document; scanline rows duplicate the per-beam
// parameters so they can be queried without decoding JSON.
//
// The schema is owned by the embedded migrations and applied with
// golang-migrate.
package sqlite
