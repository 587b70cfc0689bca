// Package concurrency provides a simple utility for splitting indexed work
// across a fixed number of workers.
package concurrency

import (
	"sync"
)

// minItemsForParallel is the threshold needed to be eligible for running in parallel.
const minItemsForParallel = 101

// Range executes workerFunc for every index in [0, n), distributing the
// indices across the given number of workers. Small ranges, or a single
// worker, run sequentially and fail fast on the first error; the parallel
// path runs every index and returns the first error observed.
func Range(workers, n int, workerFunc func(index int) error) error {
	if n <= 0 {
		return nil
	}

	if workers <= 1 || n < minItemsForParallel {
		for i := 0; i < n; i++ {
			if err := workerFunc(i); err != nil {
				return err
			}
		}
		return nil
	}

	// --- Parallel Execution Path ---
	jobs := make(chan int, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := workerFunc(i); err != nil {
					errs <- err
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	wg.Wait()
	close(errs)

	if len(errs) > 0 {
		return <-errs // Return the first error found.
	}

	return nil
}
