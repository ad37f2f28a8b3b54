package icp

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/scanmatch/internal/geom"
)

// Pair is one independent scene-to-model alignment job.
type Pair struct {
	Scene geom.PointCloud
	Model geom.PointCloud
}

// BatchResult is the outcome of one Pair. Err holds the alignment error for
// that pair only; a failed pair does not stop the batch.
type BatchResult struct {
	Result Result
	Err    error
}

// AlignBatch aligns every pair concurrently with at most workers goroutines
// (GOMAXPROCS when workers <= 0). Results are returned in input order. The
// only error returned is ctx's, when it is cancelled before all pairs start.
func AlignBatch(ctx context.Context, pairs []Pair, cfg Config, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	out := make([]BatchResult, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := Align(pairs[i].Scene, pairs[i].Model, cfg)
			out[i] = BatchResult{Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
