package rplidar

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/scanmatch/internal/geom"
	"github.com/banshee-data/scanmatch/internal/timeutil"
)

// Filter drops samples unfit for matching.
type Filter struct {
	MinQuality uint8
	// MinRange and MaxRange bound the accepted distance in metres. A zero
	// MaxRange disables the upper bound.
	MinRange float64
	MaxRange float64
}

// Keep reports whether m passes the filter. Zero-distance samples are never
// kept: the sensor reports no return as distance 0.
func (f Filter) Keep(m Measurement) bool {
	if m.DistanceM <= 0 || m.Quality < f.MinQuality {
		return false
	}
	if m.DistanceM < f.MinRange {
		return false
	}
	if f.MaxRange > 0 && m.DistanceM > f.MaxRange {
		return false
	}
	return true
}

// ToCloud converts a revolution into Cartesian points in the sensor frame,
// x forward and y to the left. Sensor bearings run clockwise, so they are
// negated before the polar conversion.
func ToCloud(scan []Measurement, f Filter) geom.PointCloud {
	pts := make([]geom.Point, 0, len(scan))
	for _, m := range scan {
		if !f.Keep(m) {
			continue
		}
		pts = append(pts, geom.FromPolar(-m.AngleRad, m.DistanceM))
	}
	return geom.NewPointCloud(pts)
}

// CloudSource turns revolutions from a Scanner into filtered, timestamped
// clouds.
type CloudSource struct {
	Scanner Scanner
	Filter  Filter
	Clock   timeutil.Clock
	// MinPoints rejects revolutions with fewer surviving points; they are
	// skipped and the next revolution is read.
	MinPoints int
	// Timeout bounds each revolution read; zero means no bound.
	Timeout time.Duration

	skipped int
}

// NextCloud returns the next revolution that has at least MinPoints points
// after filtering, stamped with the time it completed.
func (s *CloudSource) NextCloud(ctx context.Context) (geom.PointCloud, time.Time, error) {
	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	for {
		scan, err := s.grab(ctx)
		if err != nil {
			return geom.PointCloud{}, time.Time{}, err
		}
		cloud := ToCloud(scan, s.Filter)
		if cloud.Len() >= s.MinPoints && !cloud.IsEmpty() {
			return cloud, clock.Now(), nil
		}
		s.skipped++
		logf("skipping sparse scan: %d of %d samples kept (min %d)", cloud.Len(), len(scan), s.MinPoints)
	}
}

func (s *CloudSource) grab(ctx context.Context) ([]Measurement, error) {
	if s.Timeout <= 0 {
		return s.Scanner.GrabScan(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	scan, err := s.Scanner.GrabScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("grab scan: %w", err)
	}
	return scan, nil
}

// Skipped returns how many revolutions were discarded as too sparse.
func (s *CloudSource) Skipped() int { return s.skipped }
