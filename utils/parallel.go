package utils

import (
	"context"
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

// minGroupSize is the smallest amount of work handed to a single worker.
const minGroupSize = 1024

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// RangeWorkFunc processes the half open work range [from, to).
type RangeWorkFunc func(groupNum, from, to int)

// GroupWorkParallel splits totalSize items of work into contiguous ranges and runs each range on
// its own goroutine, returning once all ranges are done. Small workloads run on the calling
// goroutine. The context is checked once before any work is scheduled.
func GroupWorkParallel(ctx context.Context, totalSize int, work RangeWorkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if totalSize <= 0 {
		return nil
	}

	numGroups := ParallelFactor
	if maxGroups := (totalSize + minGroupSize - 1) / minGroupSize; numGroups > maxGroups {
		numGroups = maxGroups
	}
	if numGroups <= 1 {
		work(0, 0, totalSize)
		return nil
	}

	groupSize := totalSize / numGroups
	extra := totalSize % numGroups

	var wait sync.WaitGroup
	wait.Add(numGroups)
	from := 0
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		to := from + groupSize
		if groupNum < extra {
			to++
		}
		groupNum, groupFrom, groupTo := groupNum, from, to
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			work(groupNum, groupFrom, groupTo)
		})
		from = to
	}
	wait.Wait()
	return nil
}
