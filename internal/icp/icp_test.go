package icp

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/testutil"
)

func randomCloud(rng *rand.Rand, n int, spread float64) geom.PointCloud {
	pts := make([]geom.Point, n)
	for i := range pts {
		pts[i] = geom.Pt((rng.Float64()-0.5)*spread, (rng.Float64()-0.5)*spread)
	}
	return geom.NewPointCloud(pts)
}

func TestFindClosest_BruteForceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		cloud := randomCloud(rng, 1+rng.Intn(40), 10)
		q := geom.Pt((rng.Float64()-0.5)*12, (rng.Float64()-0.5)*12)

		got, err := FindClosest(q, cloud)
		require.NoError(t, err)

		found := false
		for _, p := range cloud.All() {
			if p == got {
				found = true
			}
			assert.LessOrEqual(t, q.DistSq(got), q.DistSq(p), "trial %d: a closer point exists", trial)
		}
		assert.True(t, found, "trial %d: returned point not in cloud", trial)
	}
}

func TestFindClosest_TiesPreferFirst(t *testing.T) {
	cloud := geom.CloudOf(geom.Pt(5, 5), geom.Pt(1, 0), geom.Pt(-1, 0), geom.Pt(0, 1))
	got, err := FindClosest(geom.Pt(0, 0), cloud)
	require.NoError(t, err)
	assert.Equal(t, geom.Pt(1, 0), got)
}

func TestFindClosest_EmptyCloud(t *testing.T) {
	_, err := FindClosest(geom.Pt(0, 0), geom.PointCloud{})
	assert.ErrorIs(t, err, ErrEmptyCloud)

	_, err = Correspondences(geom.CloudOf(geom.Pt(1, 1)), geom.PointCloud{})
	assert.ErrorIs(t, err, ErrEmptyCloud)

	_, err = MeanSquaredError(geom.PointCloud{}, geom.CloudOf(geom.Pt(1, 1)))
	assert.ErrorIs(t, err, ErrEmptyCloud)
}

func TestCorrespondences_SceneOrder(t *testing.T) {
	scene := geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))
	model := geom.CloudOf(geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(1, 1))

	pairs, err := Correspondences(scene, model)
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	want := []Correspondence{
		{Scene: geom.Pt(0, 0), Model: geom.Pt(1, 0)},
		{Scene: geom.Pt(1, 0), Model: geom.Pt(1, 0)},
		{Scene: geom.Pt(0, 1), Model: geom.Pt(1, 1)},
	}
	assert.Equal(t, want, pairs)

	mse, err := MeanSquaredError(scene, model)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, mse, 1e-12)
}

func pairsFor(scene geom.PointCloud, pose geom.Pose2d, scale float64) []Correspondence {
	pairs := make([]Correspondence, 0, scene.Len())
	for _, p := range scene.All() {
		pairs = append(pairs, Correspondence{Scene: p, Model: pose.ApplyScaled(p, scale)})
	}
	return pairs
}

func TestEstimateTransform_RecoversRotationAboutCentroid(t *testing.T) {
	scene := testutil.BumpyEllipse()
	c, err := scene.Centroid()
	require.NoError(t, err)

	for _, phi := range []float64{0.3, -1.2, 2.9, -3.1} {
		pairs := make([]Correspondence, 0, scene.Len())
		for _, p := range scene.All() {
			m := p.Sub(c).Rotate(phi).Add(c)
			pairs = append(pairs, Correspondence{Scene: p, Model: m})
		}

		pose, scale, err := EstimateTransform(pairs)
		require.NoError(t, err)
		assert.InDelta(t, 0, geom.AngleDiff(pose.Theta, phi), 1e-9, "phi=%v", phi)
		assert.InDelta(t, 1, scale, 1e-9, "phi=%v", phi)
	}
}

func TestEstimateTransform_RecoversScaleAboutCentroid(t *testing.T) {
	scene := testutil.LShape()
	c, err := scene.Centroid()
	require.NoError(t, err)

	for _, s := range []float64{0.5, 1.0, 1.25, 3} {
		pairs := make([]Correspondence, 0, scene.Len())
		for _, p := range scene.All() {
			pairs = append(pairs, Correspondence{Scene: p, Model: p.Sub(c).Scale(s).Add(c)})
		}

		pose, scale, err := EstimateTransform(pairs)
		require.NoError(t, err)
		assert.InDelta(t, s, scale, 1e-9, "s=%v", s)
		assert.InDelta(t, 0, pose.Theta, 1e-9, "s=%v", s)
	}
}

func TestEstimateTransform_FullSimilarity(t *testing.T) {
	want := geom.Pose2d{X: 1.5, Y: -0.75, Theta: 0.6}
	pose, scale, err := EstimateTransform(pairsFor(testutil.BumpyEllipse(), want, 1.1))
	require.NoError(t, err)

	assert.InDelta(t, want.X, pose.X, 1e-9)
	assert.InDelta(t, want.Y, pose.Y, 1e-9)
	assert.InDelta(t, want.Theta, pose.Theta, 1e-9)
	assert.InDelta(t, 1.1, scale, 1e-9)
}

func TestEstimateTransform_Degenerate(t *testing.T) {
	pairs := []Correspondence{
		{Scene: geom.Pt(2, 2), Model: geom.Pt(0, 0)},
		{Scene: geom.Pt(2, 2), Model: geom.Pt(1, 0)},
		{Scene: geom.Pt(2, 2), Model: geom.Pt(0, 1)},
	}
	_, _, err := EstimateTransform(pairs)
	assert.ErrorIs(t, err, ErrDegenerate)
	assert.ErrorIs(t, err, ErrNumericalFailure)

	_, _, err = EstimateTransform(nil)
	assert.ErrorIs(t, err, ErrEmptyCloud)
}

func TestAlign_IdenticalClouds(t *testing.T) {
	cloud := testutil.BumpyEllipse()
	for _, mode := range []Mode{ModeFixedScene, ModeRefine} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode

			res, err := Align(cloud, cloud, cfg)
			require.NoError(t, err)

			assert.Equal(t, StateConverged, res.State)
			assert.Equal(t, 1, res.Iterations)
			assert.InDelta(t, 0, res.Pose.Theta, 1e-12)
			assert.InDelta(t, 0, res.Pose.X, 1e-12)
			assert.InDelta(t, 0, res.Pose.Y, 1e-12)
			assert.InDelta(t, 1, res.Scale, 1e-12)
			assert.InDelta(t, 0, res.Error, 1e-12)
		})
	}
}

func TestAlign_TranslatedTriangle(t *testing.T) {
	scene := testutil.Triangle()
	model := geom.CloudOf(geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(1, 1))

	cfg := Config{MaxIterations: 20, Tolerance: 1e-9, Mode: ModeRefine, InitFromCentroids: true}
	res, err := Align(scene, model, cfg)
	require.NoError(t, err)

	assert.Equal(t, StateConverged, res.State)
	assert.InDelta(t, 1, res.Pose.X, 1e-9)
	assert.InDelta(t, 0, res.Pose.Y, 1e-9)
	assert.InDelta(t, 0, res.Pose.Theta, 1e-9)
	assert.InDelta(t, 1, res.Scale, 1e-9)
	assert.Less(t, res.Error, 1e-9)
	assert.Equal(t, QualityExcellent, res.Quality())
}

func TestAlign_FixedSceneReferenceValues(t *testing.T) {
	triangle := geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))
	sqrt15 := math.Sqrt(15)

	tests := []struct {
		name      string
		scene     geom.PointCloud
		model     geom.PointCloud
		want      geom.Pose2d
		wantScale float64
		wantError float64
	}{
		{
			// (0,0) and (1,0) both match (1,0); whole-model centroid (4/3, 1/3).
			name:      "triangle many to one",
			scene:     triangle,
			model:     geom.CloudOf(geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(1, 1)),
			want:      geom.Pose2d{X: 4.0/3.0 - sqrt15/10, Y: 1.0/3.0 - sqrt15/30, Theta: math.Atan2(-1, 2)},
			wantScale: math.Sqrt(3) / 2,
			wantError: 2.0 / 3.0,
		},
		{
			name:      "triangle shifted one to one",
			scene:     triangle,
			model:     geom.CloudOf(geom.Pt(0.1, 0), geom.Pt(1.1, 0), geom.Pt(0.1, 1)),
			want:      geom.Pose2d{X: 0.1},
			wantScale: 1,
			wantError: 0.01,
		},
		{
			// the unmatched model point (5,5) still moves the model centroid
			name:      "unmatched model point",
			scene:     geom.CloudOf(geom.Pt(0, 0), geom.Pt(2, 0)),
			model:     geom.CloudOf(geom.Pt(0, 0), geom.Pt(2, 0), geom.Pt(5, 5)),
			want:      geom.Pose2d{X: 7.0/3.0 - math.Sqrt(50)/3, Y: 5.0 / 3.0},
			wantScale: math.Sqrt(50) / 3,
			wantError: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{MaxIterations: 5, Tolerance: 1e-12, Mode: ModeFixedScene}
			res, err := Align(tt.scene, tt.model, cfg)
			require.NoError(t, err)

			assert.InDelta(t, tt.want.X, res.Pose.X, 1e-12, "x")
			assert.InDelta(t, tt.want.Y, res.Pose.Y, 1e-12, "y")
			assert.InDelta(t, tt.want.Theta, res.Pose.Theta, 1e-12, "theta")
			assert.InDelta(t, tt.wantScale, res.Scale, 1e-12, "scale")
			assert.InDelta(t, tt.wantError, res.Error, 1e-12, "error")
		})
	}
}

func TestAlign_FixedSceneRepeatsSameEstimate(t *testing.T) {
	scene := geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))
	model := geom.CloudOf(geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(1, 1))

	cfg := Config{MaxIterations: 5, Tolerance: 1e-6, Mode: ModeFixedScene}
	res, err := Align(scene, model, cfg)
	require.NoError(t, err, "exhausting iterations is not an error")

	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, 5, res.Iterations)
	require.Len(t, res.ErrorHistory, 5)
	for _, e := range res.ErrorHistory {
		assert.InDelta(t, 2.0/3.0, e, 1e-12)
	}

	once, err := Align(scene, model, Config{MaxIterations: 1, Tolerance: 1e-6, Mode: ModeFixedScene})
	require.NoError(t, err)
	assert.Equal(t, once.Pose, res.Pose)
	assert.Equal(t, once.Scale, res.Scale)
}

func TestEstimateTransformAbout_WholeCloudCentroid(t *testing.T) {
	scene := geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))
	model := geom.CloudOf(geom.Pt(1, 0), geom.Pt(2, 0), geom.Pt(1, 1))
	pairs, err := Correspondences(scene, model)
	require.NoError(t, err)

	// pair means put the model centroid at (1, 1/3) and shrink the scale
	_, pairScale, err := EstimateTransform(pairs)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.5), pairScale, 1e-12)

	sc, _ := scene.Centroid()
	mc, _ := model.Centroid()
	pose, scale, err := EstimateTransformAbout(pairs, sc, mc)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(3)/2, scale, 1e-12)
	assert.InDelta(t, math.Atan2(-1, 2), pose.Theta, 1e-12)

	_, _, err = EstimateTransformAbout(nil, sc, mc)
	assert.ErrorIs(t, err, ErrEmptyCloud)
}

func TestAlign_RefineRecoversRigidMotion(t *testing.T) {
	tests := []struct {
		name  string
		scene geom.PointCloud
		want  geom.Pose2d
	}{
		{"corner small turn", testutil.LShape(), geom.Pose2d{X: 0.1, Y: -0.05, Theta: 0.05}},
		{"corner larger turn", testutil.LShape(), geom.Pose2d{X: 0.1, Y: -0.05, Theta: 0.2}},
		{"corner translation", testutil.LShape(), geom.Pose2d{X: 0.3, Y: 0.2}},
		{"ellipse", testutil.BumpyEllipse(), geom.Pose2d{X: 0.2, Y: 0.1, Theta: 0.15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := tt.scene.Transform(tt.want, 1)
			cfg := Config{MaxIterations: 100, Tolerance: 1e-9, Mode: ModeRefine, InitFromCentroids: true}

			res, err := Align(tt.scene, model, cfg)
			require.NoError(t, err)

			assert.Equal(t, StateConverged, res.State)
			assert.InDelta(t, tt.want.X, res.Pose.X, 1e-6)
			assert.InDelta(t, tt.want.Y, res.Pose.Y, 1e-6)
			assert.InDelta(t, tt.want.Theta, res.Pose.Theta, 1e-6)
			assert.InDelta(t, 1, res.Scale, 1e-6)
		})
	}
}

func TestAlign_DegenerateSceneFails(t *testing.T) {
	scene := geom.CloudOf(geom.Pt(3, 3), geom.Pt(3, 3), geom.Pt(3, 3))
	model := geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))

	for _, mode := range []Mode{ModeFixedScene, ModeRefine} {
		cfg := DefaultConfig()
		cfg.Mode = mode

		res, err := Align(scene, model, cfg)
		assert.ErrorIs(t, err, ErrNumericalFailure, "mode %v", mode)
		assert.Equal(t, StateFailed, res.State)
		assert.False(t, math.IsNaN(res.Pose.X) || math.IsNaN(res.Pose.Y) || math.IsNaN(res.Pose.Theta))
		assert.False(t, math.IsNaN(res.Scale))
		assert.Equal(t, QualityUnknown, res.Quality())
	}
}

func TestAlign_NonFiniteInputFails(t *testing.T) {
	scene := geom.CloudOf(geom.Pt(0, 0), geom.Pt(math.NaN(), 1), geom.Pt(2, 0))
	model := testutil.LShape()

	res, err := Align(scene, model, DefaultConfig())
	assert.ErrorIs(t, err, ErrNumericalFailure)
	assert.Equal(t, StateFailed, res.State)
}

func TestAlign_EmptyInput(t *testing.T) {
	_, err := Align(geom.PointCloud{}, testutil.LShape(), DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyCloud)

	res, err := Align(testutil.LShape(), geom.PointCloud{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyCloud)
	assert.Equal(t, StateFailed, res.State)
}

func TestAlign_DoesNotMutateInputs(t *testing.T) {
	scene := testutil.LShape()
	model := scene.Transform(geom.Pose2d{X: 0.2, Theta: 0.1}, 1)
	before := scene.Points()

	cfg := Config{MaxIterations: 10, Tolerance: 1e-9, Mode: ModeRefine, InitFromCentroids: true}
	_, err := Align(scene, model, cfg)
	require.NoError(t, err)
	assert.Equal(t, before, scene.Points())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero iterations", Config{MaxIterations: 0, Tolerance: 1}, true},
		{"negative tolerance", Config{MaxIterations: 1, Tolerance: -1}, true},
		{"zero tolerance", Config{MaxIterations: 1, Tolerance: 0}, true},
		{"NaN tolerance", Config{MaxIterations: 1, Tolerance: math.NaN()}, true},
		{"unknown mode", Config{MaxIterations: 1, Tolerance: 1, Mode: Mode(9)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	res, err := Align(testutil.LShape(), testutil.LShape(), Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, StateFailed, res.State)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("refine")
	require.NoError(t, err)
	assert.Equal(t, ModeRefine, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFixedScene, m)

	_, err = ParseMode("ransac")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAlignBatch(t *testing.T) {
	corner := testutil.LShape()
	pairs := []Pair{
		{Scene: corner, Model: corner.Transform(geom.Pose2d{X: 0.1, Theta: 0.05}, 1)},
		{Scene: geom.CloudOf(geom.Pt(1, 1), geom.Pt(1, 1)), Model: corner},
		{Scene: corner, Model: corner},
	}
	cfg := Config{MaxIterations: 50, Tolerance: 1e-9, Mode: ModeRefine, InitFromCentroids: true}

	out, err := AlignBatch(context.Background(), pairs, cfg, 2)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)
	assert.InDelta(t, 0.05, out[0].Result.Pose.Theta, 1e-6)
	assert.ErrorIs(t, out[1].Err, ErrNumericalFailure)
	assert.NoError(t, out[2].Err)
	assert.Equal(t, StateConverged, out[2].Result.State)
}

func TestAlignBatch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AlignBatch(ctx, []Pair{{Scene: testutil.LShape(), Model: testutil.LShape()}}, DefaultConfig(), 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestQualityGrades(t *testing.T) {
	tests := []struct {
		rmse float64
		want Quality
	}{
		{0.0, QualityExcellent},
		{0.04, QualityExcellent},
		{0.05, QualityGood},
		{0.10, QualityGood},
		{0.15, QualityFair},
		{0.29, QualityFair},
		{0.35, QualityPoor},
	}
	for _, tt := range tests {
		r := Result{State: StateConverged, Error: tt.rmse * tt.rmse, Scale: 1}
		assert.Equal(t, tt.want, r.Quality(), "rmse=%v", tt.rmse)
	}
}

func TestValidateResult(t *testing.T) {
	good := Result{State: StateConverged, Error: 0.0001, Scale: 1.02}
	v := ValidateResult(good, 0.1)
	assert.True(t, v.Usable)
	assert.Empty(t, v.Issues)

	scaled := good
	scaled.Scale = 1.5
	v = ValidateResult(scaled, 0.1)
	assert.False(t, v.Usable)
	assert.Len(t, v.Issues, 1)

	// scale check disabled
	assert.True(t, ValidateResult(scaled, 0).Usable)

	exhausted := good
	exhausted.State = StateExhausted
	exhausted.Iterations = 50
	v = ValidateResult(exhausted, 0.1)
	assert.True(t, v.Usable, "a close enough exhausted estimate is still usable")
	assert.Len(t, v.Issues, 1)

	poor := good
	poor.Error = 1
	assert.False(t, ValidateResult(poor, 0.1).Usable)

	assert.False(t, ValidateResult(Result{State: StateFailed}, 0.1).Usable)
}

func TestIsUsableForOdometry(t *testing.T) {
	r := Result{State: StateConverged, Error: 0.0004, Scale: 0.97}
	assert.True(t, r.IsUsableForOdometry(0.05))
	assert.False(t, r.IsUsableForOdometry(0.01))
}

func TestStateText(t *testing.T) {
	b, err := StateExhausted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "exhausted", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("converged")))
	assert.Equal(t, StateConverged, s)
	assert.Error(t, s.UnmarshalText([]byte("bored")))

	for _, st := range []State{StateRunning, StateConverged, StateExhausted, StateFailed} {
		assert.True(t, st.Valid(), st.String())
	}
	assert.False(t, State(7).Valid())
	assert.False(t, State(-1).Valid())
}
