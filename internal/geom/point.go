package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Point is a position in the plane. It is a value type; copies are independent.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// FromVec converts a gonum vector to a Point.
func FromVec(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

// Vec returns p as a gonum vector.
func (p Point) Vec() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Add returns p+q.
func (p Point) Add(q Point) Point { return FromVec(r2.Add(p.Vec(), q.Vec())) }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return FromVec(r2.Sub(p.Vec(), q.Vec())) }

// Scale returns f·p.
func (p Point) Scale(f float64) Point { return FromVec(r2.Scale(f, p.Vec())) }

// Rotate returns p rotated by theta radians about the origin.
func (p Point) Rotate(theta float64) Point {
	return FromVec(r2.Rotate(p.Vec(), theta, r2.Vec{}))
}

// DistSq returns the squared Euclidean distance between p and q.
func (p Point) DistSq(q Point) float64 {
	return r2.Norm2(r2.Sub(p.Vec(), q.Vec()))
}

// IsFinite reports whether both coordinates are finite.
func (p Point) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// FromPolar converts a range-sensor sample to Cartesian coordinates:
// x = distance·cos(angle), y = distance·sin(angle). angleRad is measured
// counter-clockwise from +X.
func FromPolar(angleRad, distance float64) Point {
	return Point{
		X: distance * math.Cos(angleRad),
		Y: distance * math.Sin(angleRad),
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
