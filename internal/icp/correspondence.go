package icp

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// Correspondence pairs a scene point with its nearest model point. It is
// recomputed every iteration and never persisted.
type Correspondence struct {
	Scene geom.Point
	Model geom.Point
}

// FindClosest returns the model point nearest to p under Euclidean distance.
// Ties go to the earliest point in cloud order. An empty cloud returns
// ErrEmptyCloud.
func FindClosest(p geom.Point, cloud geom.PointCloud) (geom.Point, error) {
	if cloud.IsEmpty() {
		return geom.Point{}, ErrEmptyCloud
	}
	i, _ := nearest(p, cloud)
	return cloud.At(i), nil
}

// nearest returns the index of the closest point in a non-empty cloud and its
// squared distance. Strict < keeps the first of equal candidates.
func nearest(p geom.Point, cloud geom.PointCloud) (int, float64) {
	best := 0
	bestDist := math.Inf(1)
	for i, q := range cloud.All() {
		if d := p.DistSq(q); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// Correspondences pairs every scene point, in scene order, with its nearest
// model point.
func Correspondences(scene, model geom.PointCloud) ([]Correspondence, error) {
	if scene.IsEmpty() || model.IsEmpty() {
		return nil, ErrEmptyCloud
	}
	pairs := make([]Correspondence, 0, scene.Len())
	for _, p := range scene.All() {
		i, _ := nearest(p, model)
		pairs = append(pairs, Correspondence{Scene: p, Model: model.At(i)})
	}
	return pairs, nil
}

// MeanSquaredError returns (1/n)·Σ min_dist(p, model)² over the scene points.
func MeanSquaredError(scene, model geom.PointCloud) (float64, error) {
	residuals, err := SquaredResiduals(scene, model)
	if err != nil {
		return 0, err
	}
	return stat.Mean(residuals, nil), nil
}

// SquaredResiduals returns the squared nearest-neighbour distance of each
// scene point to the model, in scene order.
func SquaredResiduals(scene, model geom.PointCloud) ([]float64, error) {
	if scene.IsEmpty() || model.IsEmpty() {
		return nil, ErrEmptyCloud
	}
	out := make([]float64, scene.Len())
	for i, p := range scene.All() {
		_, out[i] = nearest(p, model)
	}
	return out, nil
}
