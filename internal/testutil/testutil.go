// Package testutil provides shared test helpers and point-cloud fixtures.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// LShape is a corner of two perpendicular walls sampled every 0.25m,
// 17 points in total.
func LShape() geom.PointCloud {
	pts := make([]geom.Point, 0, 17)
	for i := 0; i < 9; i++ {
		pts = append(pts, geom.Pt(float64(i)*0.25, 0))
	}
	for i := 1; i < 9; i++ {
		pts = append(pts, geom.Pt(0, float64(i)*0.25))
	}
	return geom.NewPointCloud(pts)
}

// BumpyEllipse is a 2x1 ellipse sampled every 10 degrees with every third
// sample pushed out by 0.5m, so no rotation maps it onto itself.
func BumpyEllipse() geom.PointCloud {
	pts := make([]geom.Point, 0, 36)
	for a := 0; a < 36; a++ {
		ang := float64(a) * 2 * math.Pi / 36
		x := math.Cos(ang) * 2
		if a%3 == 0 {
			x += 0.5
		}
		pts = append(pts, geom.Pt(x, math.Sin(ang)))
	}
	return geom.NewPointCloud(pts)
}

// Triangle is the three-point scene (0,0), (1,0), (0,1).
func Triangle() geom.PointCloud {
	return geom.CloudOf(geom.Pt(0, 0), geom.Pt(1, 0), geom.Pt(0, 1))
}
