package rplidar

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/timeutil"
)

// SyntheticRoom is a stand-in sensor for -dev mode and tests. It ray-casts a
// rectangular room with one round pillar from a pose that advances by Step
// on every revolution.
type SyntheticRoom struct {
	Width, Height float64 // metres, centred on the origin
	Pillar        geom.Point
	PillarRadius  float64
	Samples       int     // samples per revolution
	MaxRange      float64 // returns beyond this read as 0
	Noise         float64 // range noise standard deviation, metres
	Quality       uint8
	// Step is the motion between revolutions in the sensor's own frame.
	Step geom.Pose2d
	// Period paces revolutions; zero returns them as fast as asked.
	Period time.Duration
	Clock  timeutil.Clock

	mu     sync.Mutex
	pose   geom.Pose2d // next revolution
	last   geom.Pose2d // last rendered revolution
	rng    *rand.Rand
	ticker timeutil.Ticker
}

// NewSyntheticRoom returns an 8m x 6m room with the sensor driving a 1.5m
// radius circle at 10Hz.
func NewSyntheticRoom(seed int64) *SyntheticRoom {
	return &SyntheticRoom{
		Width:        8,
		Height:       6,
		Pillar:       geom.Pt(2.5, 1.5),
		PillarRadius: 0.25,
		Samples:      360,
		MaxRange:     12,
		Noise:        0.005,
		Quality:      47,
		Step:         geom.Pose2d{X: 0.015, Theta: 0.01},
		Period:       100 * time.Millisecond,
		Clock:        timeutil.RealClock{},
		pose:         geom.Pose2d{Y: -1},
		last:         geom.Pose2d{Y: -1},
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// Truth returns the pose of the most recently rendered revolution.
func (r *SyntheticRoom) Truth() geom.Pose2d {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// SetPose places the sensor for the next revolution.
func (r *SyntheticRoom) SetPose(p geom.Pose2d) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = p
	r.last = p
}

// GrabScan renders one revolution at the current pose and then advances it.
func (r *SyntheticRoom) GrabScan(ctx context.Context) ([]Measurement, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(1))
	}

	scan := r.render(r.pose, r.Noise)
	r.last = r.pose
	r.pose = r.pose.Compose(r.Step).Normalize()
	return scan, nil
}

// Render returns the revolution seen from pose without advancing or adding
// noise.
func (r *SyntheticRoom) Render(pose geom.Pose2d) []Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.render(pose, 0)
}

func (r *SyntheticRoom) wait(ctx context.Context) error {
	if r.Period <= 0 {
		return ctx.Err()
	}
	r.mu.Lock()
	if r.ticker == nil {
		clock := r.Clock
		if clock == nil {
			clock = timeutil.RealClock{}
		}
		r.ticker = clock.NewTicker(r.Period)
	}
	ticker := r.ticker
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C():
		return nil
	}
}

// Close stops the pacing ticker.
func (r *SyntheticRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
	return nil
}

func (r *SyntheticRoom) render(pose geom.Pose2d, noise float64) []Measurement {
	n := r.Samples
	if n <= 0 {
		n = 360
	}
	origin := pose.Translation()
	scan := make([]Measurement, n)
	for i := range scan {
		bearing := float64(i) * 2 * math.Pi / float64(n)
		// bearings run clockwise from the sensor's forward axis
		heading := pose.Theta - bearing
		d := r.cast(origin, geom.Pt(math.Cos(heading), math.Sin(heading)))
		if noise > 0 && d > 0 {
			d += r.rng.NormFloat64() * noise
		}
		if d <= 0 || (r.MaxRange > 0 && d > r.MaxRange) {
			d = 0
		}
		scan[i] = Measurement{
			AngleRad:  bearing,
			DistanceM: d,
			Quality:   r.Quality,
			StartFlag: i == 0,
		}
	}
	return scan
}

// cast returns the distance from o along unit direction u to the first
// surface, or 0 when o is outside the room.
func (r *SyntheticRoom) cast(o, u geom.Point) float64 {
	hx, hy := r.Width/2, r.Height/2
	if math.Abs(o.X) >= hx || math.Abs(o.Y) >= hy {
		return 0
	}

	best := math.Inf(1)
	if u.X > 0 {
		best = math.Min(best, (hx-o.X)/u.X)
	} else if u.X < 0 {
		best = math.Min(best, (-hx-o.X)/u.X)
	}
	if u.Y > 0 {
		best = math.Min(best, (hy-o.Y)/u.Y)
	} else if u.Y < 0 {
		best = math.Min(best, (-hy-o.Y)/u.Y)
	}

	if r.PillarRadius > 0 {
		// |o + t·u - c|² = R², u unit
		oc := o.Sub(r.Pillar)
		b := oc.X*u.X + oc.Y*u.Y
		c := oc.X*oc.X + oc.Y*oc.Y - r.PillarRadius*r.PillarRadius
		if disc := b*b - c; disc >= 0 {
			if t := -b - math.Sqrt(disc); t > 0 && t < best {
				best = t
			}
		}
	}
	return best
}
