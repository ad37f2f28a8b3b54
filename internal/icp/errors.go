package icp

import (
	"errors"
	"fmt"

	"github.com/banshee-data/scanmatch/internal/geom"
)

var (
	// ErrEmptyCloud is returned when a scene, model or correspondence set
	// has no points.
	ErrEmptyCloud = geom.ErrEmptyCloud

	// ErrNumericalFailure is returned when the estimate contains a
	// non-finite value.
	ErrNumericalFailure = errors.New("alignment produced a non-finite estimate")

	// ErrDegenerate is returned when the scene has zero spread about its
	// centroid, so the scale ratio is undefined.
	ErrDegenerate = fmt.Errorf("%w: scene points coincide", ErrNumericalFailure)

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid alignment config")
)
