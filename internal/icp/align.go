package icp

import (
	"fmt"
	"math"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// Mode selects how the iteration treats the scene between passes.
type Mode int

const (
	// ModeFixedScene evaluates correspondences and error against the
	// untransformed scene on every pass and centres both sides on their
	// whole-cloud centroids. Every pass therefore produces the same
	// estimate; the loop ends on tolerance or after MaxIterations.
	ModeFixedScene Mode = iota

	// ModeRefine applies the running estimate to the scene before each
	// correspondence pass and composes each step onto it, as in textbook
	// ICP. Each step is centred on the means of the matched pairs.
	ModeRefine
)

func (m Mode) String() string {
	switch m {
	case ModeFixedScene:
		return "fixed"
	case ModeRefine:
		return "refine"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a config string ("fixed" or "refine") to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "fixed":
		return ModeFixedScene, nil
	case "refine":
		return ModeRefine, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q (want fixed or refine)", ErrInvalidConfig, s)
	}
}

// State is the convergence controller's state.
type State int

const (
	StateRunning State = iota
	// StateConverged means the error dropped below Tolerance.
	StateConverged
	// StateExhausted means MaxIterations passed without reaching Tolerance.
	// The last estimate is still returned.
	StateExhausted
	// StateFailed means no usable estimate was produced.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateRunning && s <= StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for _, c := range []State{StateRunning, StateConverged, StateExhausted, StateFailed} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Config holds the iteration bounds.
type Config struct {
	MaxIterations int
	// Tolerance is compared against the mean squared registration error.
	Tolerance float64
	Mode      Mode
	// InitFromCentroids seeds ModeRefine with the translation that moves the
	// scene centroid onto the model centroid. Ignored in ModeFixedScene.
	InitFromCentroids bool
}

// DefaultConfig returns the reference iteration bounds in ModeFixedScene.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 50,
		Tolerance:     1e-4,
		Mode:          ModeFixedScene,
	}
}

// Validate checks the iteration bounds.
func (c Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max iterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if !(c.Tolerance > 0) || math.IsInf(c.Tolerance, 1) {
		return fmt.Errorf("%w: tolerance must be a positive finite number, got %v", ErrInvalidConfig, c.Tolerance)
	}
	if c.Mode != ModeFixedScene && c.Mode != ModeRefine {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// Result is the outcome of Align. Pose and Scale map scene coordinates onto
// the model: model ≈ Scale·R(Pose.Theta)·scene + (Pose.X, Pose.Y).
type Result struct {
	Pose  geom.Pose2d
	Scale float64
	// Error is the mean squared registration error of the last pass.
	Error      float64
	Iterations int
	State      State
	// ErrorHistory holds Error after each pass.
	ErrorHistory []float64
}

// Converged reports whether the error reached the tolerance.
func (r Result) Converged() bool { return r.State == StateConverged }

// RMSE returns the root of the mean squared registration error.
func (r Result) RMSE() float64 { return math.Sqrt(r.Error) }

// Align estimates the transform that maps scene onto model.
//
// A nil error means the returned pose and scale are finite; Result.State is
// StateConverged or StateExhausted. Empty clouds return ErrEmptyCloud,
// degenerate or non-finite estimates return an error wrapping
// ErrNumericalFailure, and in both cases Result.State is StateFailed.
// Neither input is modified.
func Align(scene, model geom.PointCloud, cfg Config) (Result, error) {
	res := Result{State: StateRunning, Scale: 1}
	if err := cfg.Validate(); err != nil {
		res.State = StateFailed
		return res, err
	}
	if scene.IsEmpty() || model.IsEmpty() {
		res.State = StateFailed
		return res, ErrEmptyCloud
	}

	var err error
	switch cfg.Mode {
	case ModeRefine:
		err = alignRefine(scene, model, cfg, &res)
	default:
		err = alignFixed(scene, model, cfg, &res)
	}
	if err != nil {
		res.State = StateFailed
		return res, err
	}

	if !res.Pose.IsFinite() || math.IsNaN(res.Scale) || math.IsInf(res.Scale, 0) {
		res.State = StateFailed
		return res, ErrNumericalFailure
	}
	if res.State == StateRunning {
		res.State = StateExhausted
	}
	return res, nil
}

func alignFixed(scene, model geom.PointCloud, cfg Config, res *Result) error {
	sceneCentroid, err := scene.Centroid()
	if err != nil {
		return err
	}
	modelCentroid, err := model.Centroid()
	if err != nil {
		return err
	}

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		res.Iterations = iter

		pairs, err := Correspondences(scene, model)
		if err != nil {
			return err
		}
		pose, scale, err := EstimateTransformAbout(pairs, sceneCentroid, modelCentroid)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		res.Pose, res.Scale = pose, scale

		mse, err := MeanSquaredError(scene, model)
		if err != nil {
			return err
		}
		res.Error = mse
		res.ErrorHistory = append(res.ErrorHistory, mse)

		if mse < cfg.Tolerance {
			res.State = StateConverged
			return nil
		}
	}
	return nil
}

func alignRefine(scene, model geom.PointCloud, cfg Config, res *Result) error {
	acc, accScale := geom.Identity, 1.0
	if cfg.InitFromCentroids {
		sc, err := scene.Centroid()
		if err != nil {
			return err
		}
		mc, err := model.Centroid()
		if err != nil {
			return err
		}
		d := mc.Sub(sc)
		acc = geom.Pose2d{X: d.X, Y: d.Y}
	}
	current := scene.Transform(acc, accScale)

	for iter := 1; iter <= cfg.MaxIterations; iter++ {
		res.Iterations = iter

		pairs, err := Correspondences(current, model)
		if err != nil {
			return err
		}
		step, stepScale, err := EstimateTransform(pairs)
		if err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}

		acc, accScale = geom.ComposeScaled(step, stepScale, acc, accScale)
		acc = acc.Normalize()
		res.Pose, res.Scale = acc, accScale
		current = scene.Transform(acc, accScale)

		mse, err := MeanSquaredError(current, model)
		if err != nil {
			return err
		}
		res.Error = mse
		res.ErrorHistory = append(res.ErrorHistory, mse)

		if mse < cfg.Tolerance {
			res.State = StateConverged
			return nil
		}
	}
	return nil
}
