package odometry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// ScanSource yields timestamped scans in the sensor frame. It returns
// io.EOF when no more scans will come.
type ScanSource interface {
	NextCloud(ctx context.Context) (geom.PointCloud, time.Time, error)
}

// Sink receives every update in order.
type Sink interface {
	Consume(Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update)

func (f SinkFunc) Consume(u Update) { f(u) }

// MaxConsecutiveSourceErrors is how many source errors in a row Run
// tolerates before giving up.
const MaxConsecutiveSourceErrors = 5

// Run pulls scans from src, processes them and hands each update to every
// sink, until ctx is done or src is exhausted. It returns nil when src
// reports io.EOF and ctx.Err() on cancellation.
func (t *Tracker) Run(ctx context.Context, src ScanSource, sinks ...Sink) error {
	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cloud, at, err := src.NextCloud(ctx)
		switch {
		case err == nil:
			consecutive = 0
		case errors.Is(err, io.EOF):
			logf("scan source exhausted after %d scans", t.Stats().Scans)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			consecutive++
			logf("scan source error (%d/%d): %v", consecutive, MaxConsecutiveSourceErrors, err)
			if consecutive >= MaxConsecutiveSourceErrors {
				return fmt.Errorf("scan source failed %d times in a row: %w", consecutive, err)
			}
			continue
		}

		u := t.Process(cloud, at)
		for _, s := range sinks {
			s.Consume(u)
		}
	}
}
