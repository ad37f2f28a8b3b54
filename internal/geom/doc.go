// Package geom provides the plane geometry used by scan matching: points,
// ordered point clouds and 2D poses.
//
// All coordinates are float64 in a right-handed Cartesian frame. Angles are
// radians, counter-clockwise from +X. Results for non-finite inputs (NaN or
// ±Inf coordinates or angles) are unspecified; callers that need a guarantee
// should check IsFinite first.
package geom
