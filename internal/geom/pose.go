package geom

import "math"

// Pose2d is a planar rigid transform: rotation by Theta radians followed by
// translation (X, Y). It carries no scale; scale estimates travel alongside
// it and must be handled explicitly (see ApplyScaled, ComposeScaled).
type Pose2d struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Identity is the zero pose.
var Identity = Pose2d{}

// Translation returns the pose's translation as a point.
func (a Pose2d) Translation() Point { return Point{X: a.X, Y: a.Y} }

// Compose returns the pose that applies b within a's frame: b's translation
// is rotated by a.Theta and offset by a's translation, and the angles add.
// Compose is associative and Identity is a two-sided identity for finite
// inputs.
func (a Pose2d) Compose(b Pose2d) Pose2d {
	t := b.Translation().Rotate(a.Theta).Add(a.Translation())
	return Pose2d{X: t.X, Y: t.Y, Theta: a.Theta + b.Theta}
}

// Apply maps a point from the pose's local frame into its parent frame.
func (a Pose2d) Apply(p Point) Point {
	return p.Rotate(a.Theta).Add(a.Translation())
}

// ApplyScaled maps p by scale·R(Theta)·p + t.
func (a Pose2d) ApplyScaled(p Point, scale float64) Point {
	return p.Rotate(a.Theta).Scale(scale).Add(a.Translation())
}

// Inverse returns the pose q with a.Compose(q) == Identity.
func (a Pose2d) Inverse() Pose2d {
	t := a.Translation().Scale(-1).Rotate(-a.Theta)
	return Pose2d{X: t.X, Y: t.Y, Theta: -a.Theta}
}

// Normalize returns the pose with Theta wrapped into (-π, π].
func (a Pose2d) Normalize() Pose2d {
	a.Theta = NormalizeAngle(a.Theta)
	return a
}

// IsFinite reports whether all three fields are finite.
func (a Pose2d) IsFinite() bool {
	return isFinite(a.X) && isFinite(a.Y) && isFinite(a.Theta)
}

// ComposeScaled composes two similarity transforms x ↦ s·R·x + t, applying
// (b, bScale) first and (a, aScale) second. With both scales equal to 1 it
// reduces to a.Compose(b).
func ComposeScaled(a Pose2d, aScale float64, b Pose2d, bScale float64) (Pose2d, float64) {
	t := b.Translation().Rotate(a.Theta).Scale(aScale).Add(a.Translation())
	return Pose2d{X: t.X, Y: t.Y, Theta: a.Theta + b.Theta}, aScale * bScale
}

// NormalizeAngle wraps theta into (-π, π].
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta <= -math.Pi {
		theta += 2 * math.Pi
	} else if theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}

// AngleDiff returns the signed difference a-b wrapped into (-π, π].
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a - b)
}
