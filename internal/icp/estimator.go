package icp

import (
	"fmt"
	"math"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// EstimateTransform returns the rotation, uniform scale and translation that
// map the scene side of pairs onto the model side in the least-squares sense,
// so that model ≈ scale·R(theta)·scene + t. Both sides are centred on the
// mean of their own half of pairs.
func EstimateTransform(pairs []Correspondence) (geom.Pose2d, float64, error) {
	if len(pairs) == 0 {
		return geom.Pose2d{}, 0, ErrEmptyCloud
	}
	scenePts := make([]geom.Point, len(pairs))
	modelPts := make([]geom.Point, len(pairs))
	for i, c := range pairs {
		scenePts[i] = c.Scene
		modelPts[i] = c.Model
	}
	sceneCentroid, _ := geom.Mean(scenePts)
	modelCentroid, _ := geom.Mean(modelPts)
	return EstimateTransformAbout(pairs, sceneCentroid, modelCentroid)
}

// EstimateTransformAbout is EstimateTransform with caller-supplied centroids.
// ModeFixedScene passes the centroids of the whole scene and model clouds,
// which differ from the pair means whenever several scene points share a
// closest model point.
//
// The rotation is the closed-form planar Procrustes angle
// atan2(Sxy−Syx, Sxx+Syy) over centroid-relative coordinates; the scale is
// the ratio of the two sides' RMS spread about their centroids.
func EstimateTransformAbout(pairs []Correspondence, sceneCentroid, modelCentroid geom.Point) (geom.Pose2d, float64, error) {
	if len(pairs) == 0 {
		return geom.Pose2d{}, 0, ErrEmptyCloud
	}

	var sxx, sxy, syy, syx float64
	var sceneSq, modelSq float64
	for _, c := range pairs {
		s := c.Scene.Sub(sceneCentroid)
		m := c.Model.Sub(modelCentroid)

		sxx += s.X * m.X
		sxy += s.X * m.Y
		syy += s.Y * m.Y
		syx += s.Y * m.X

		sceneSq += s.X*s.X + s.Y*s.Y
		modelSq += m.X*m.X + m.Y*m.Y
	}

	if sceneSq == 0 {
		return geom.Pose2d{}, 0, ErrDegenerate
	}

	theta := math.Atan2(sxy-syx, sxx+syy)
	scale := math.Sqrt(modelSq / sceneSq)
	t := modelCentroid.Sub(sceneCentroid.Rotate(theta).Scale(scale))

	pose := geom.Pose2d{X: t.X, Y: t.Y, Theta: theta}
	if !pose.IsFinite() || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return geom.Pose2d{}, 0, fmt.Errorf("estimate transform: %w", ErrNumericalFailure)
	}
	return pose, scale, nil
}
