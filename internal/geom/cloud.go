package geom

import (
	"encoding/json"
	"errors"
	"iter"
)

// ErrEmptyCloud is returned when an operation needs at least one point.
var ErrEmptyCloud = errors.New("point cloud is empty")

// PointCloud is an ordered, read-only sequence of points. Order is preserved
// so callers can associate points with per-point data such as timestamps.
// The zero value is an empty cloud.
type PointCloud struct {
	points []Point
}

// NewPointCloud returns a cloud holding a copy of points.
func NewPointCloud(points []Point) PointCloud {
	cp := make([]Point, len(points))
	copy(cp, points)
	return PointCloud{points: cp}
}

// CloudOf builds a cloud from the given points.
func CloudOf(points ...Point) PointCloud {
	return NewPointCloud(points)
}

// Len returns the number of points.
func (c PointCloud) Len() int { return len(c.points) }

// IsEmpty reports whether the cloud has no points.
func (c PointCloud) IsEmpty() bool { return len(c.points) == 0 }

// At returns the i'th point. It panics if i is out of range, like a slice index.
func (c PointCloud) At(i int) Point { return c.points[i] }

// Points returns a copy of the points in order.
func (c PointCloud) Points() []Point {
	cp := make([]Point, len(c.points))
	copy(cp, c.points)
	return cp
}

// All iterates over the points in order with their index.
func (c PointCloud) All() iter.Seq2[int, Point] {
	return func(yield func(int, Point) bool) {
		for i, p := range c.points {
			if !yield(i, p) {
				return
			}
		}
	}
}

// Centroid returns the arithmetic mean of the points. The mean is
// accumulated incrementally so a cloud of identical points yields that point
// exactly.
func (c PointCloud) Centroid() (Point, error) {
	if len(c.points) == 0 {
		return Point{}, ErrEmptyCloud
	}
	return meanOf(c.points), nil
}

// Transform returns a new cloud with every point mapped by scale·R(pose.Theta)·p + t.
func (c PointCloud) Transform(pose Pose2d, scale float64) PointCloud {
	out := make([]Point, len(c.points))
	for i, p := range c.points {
		out[i] = pose.ApplyScaled(p, scale)
	}
	return PointCloud{points: out}
}

// IsFinite reports whether every point has finite coordinates.
func (c PointCloud) IsFinite() bool {
	for _, p := range c.points {
		if !p.IsFinite() {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the cloud as a JSON array of points.
func (c PointCloud) MarshalJSON() ([]byte, error) {
	if c.points == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.points)
}

// UnmarshalJSON decodes a JSON array of points.
func (c *PointCloud) UnmarshalJSON(data []byte) error {
	var pts []Point
	if err := json.Unmarshal(data, &pts); err != nil {
		return err
	}
	c.points = pts
	return nil
}

// Mean returns the arithmetic mean of points using the same incremental
// accumulation as PointCloud.Centroid. pts must be non-empty.
func Mean(pts []Point) (Point, error) {
	if len(pts) == 0 {
		return Point{}, ErrEmptyCloud
	}
	return meanOf(pts), nil
}

func meanOf(pts []Point) Point {
	var m Point
	for i, p := range pts {
		k := float64(i + 1)
		m.X += (p.X - m.X) / k
		m.Y += (p.Y - m.Y) / k
	}
	return m
}
