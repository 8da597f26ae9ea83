// Package utils contains small helpers shared across camcal packages.
package utils

import (
	"context"
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// IndexedWorkFunc processes work item i. It must only write to state owned by item i.
type IndexedWorkFunc func(ctx context.Context, i int) error

// ForEachIndex runs work for every index in [0, n) on at most workers goroutines (ParallelFactor
// when workers <= 0). The first error or panic cancels the remaining work and is returned.
func ForEachIndex(ctx context.Context, n, workers int, work IndexedWorkFunc) error {
	if workers <= 0 {
		workers = ParallelFactor
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i := 0; i < n; i++ {
		idx := i
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = errors.Errorf("got panic processing item %d: %v", idx, thePanic)
				}
			}()
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return work(groupCtx, idx)
		})
	}
	return group.Wait()
}

// ParallelForEachPixel loops through the image and calls f functions for each [x, y] position.
// The image is divided into horizontal bands, one goroutine per band.
func ParallelForEachPixel(size image.Point, f func(x, y int)) {
	procs := ParallelFactor
	if size.Y < procs {
		procs = MaxInt(size.Y, 1)
	}
	band := int(math.Ceil(float64(size.Y) / float64(procs)))
	var waitGroup sync.WaitGroup
	for startY := 0; startY < size.Y; startY += band {
		sY, eY := startY, MinInt(startY+band, size.Y)
		waitGroup.Add(1)
		goutils.PanicCapturingGo(func() {
			defer waitGroup.Done()
			for y := sY; y < eY; y++ {
				for x := 0; x < size.X; x++ {
					f(x, y)
				}
			}
		})
	}
	waitGroup.Wait()
}
