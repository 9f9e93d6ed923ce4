package harness

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/froyospec/pkg/engine"
)

// Result is the outcome of building one subject in a batch.
type Result struct {
	Subject  *engine.Subject
	Catalog  *engine.Catalog
	Err      error
	Duration time.Duration
}

// BuildAll builds every subject with at most maxParallel concurrent builds.
// Results are returned in subject order. Subjects not started before ctx is
// done report ctx's error.
func (b *Builder) BuildAll(ctx context.Context, subjects []*engine.Subject, maxParallel int) []Result {
	results := make([]Result, len(subjects))
	if len(subjects) == 0 {
		return results
	}

	workerCount := maxParallel
	if workerCount <= 0 {
		workerCount = 4
	}
	if len(subjects) < workerCount {
		workerCount = len(subjects)
	}

	workQueue := make(chan int, len(subjects))
	for i := range subjects {
		workQueue <- i
	}
	close(workQueue)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for i := range workQueue {
				results[i].Subject = subjects[i]

				if err := ctx.Err(); err != nil {
					results[i].Err = err
					continue
				}

				start := time.Now()
				catalog, err := b.BuildCatalog(ctx, subjects[i])
				results[i].Catalog = catalog
				results[i].Err = err
				results[i].Duration = time.Since(start)
			}
		}()
	}

	wg.Wait()
	return results
}

// FirstError returns the first failed result's error, or nil.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
