package pipeline

import (
	"context"
	"sync"
)

type indexed[R any] struct {
	i   int
	res R
}

// runPool hands jobs to a fixed number of workers and collects every result
// in job order. Each call is a barrier: it returns only after all workers have
// finished. A cancelled context stops further jobs from being handed out.
func runPool[J, R any](ctx context.Context, workers int, jobs []J, fn func(J) R, onResult func(R)) ([]R, error) {
	if workers > len(jobs) {
		workers = len(jobs)
	}
	out := make([]R, len(jobs))
	if workers < 1 {
		return out, ctx.Err()
	}

	queue := make(chan int)
	results := make(chan indexed[R])

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range queue {
				results <- indexed[R]{i: i, res: fn(jobs[i])}
			}
		}()
	}

	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for r := range results {
			out[r.i] = r.res
			if onResult != nil {
				onResult(r.res)
			}
		}
	}()

	var sendErr error
	for i := range jobs {
		if sendErr = ctx.Err(); sendErr != nil {
			break
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			sendErr = ctx.Err()
		}
	}
	close(queue)

	wg.Wait()
	close(results)
	<-collectorDone

	return out, sendErr
}
