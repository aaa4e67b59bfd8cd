// Package worker provides the engine's periodic jobs.
package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize bounds how many items of a job run concurrently.
const DefaultChunkSize = 10

// RunChunked calls fn for every item, size items at a time. Items within a
// chunk run concurrently and the whole chunk finishes before the next
// starts. A failing item never cancels its siblings; all errors are joined.
func RunChunked[T any](ctx context.Context, items []T, size int, fn func(context.Context, T) error) error {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var mu sync.Mutex
	var errs []error

	for start := 0; start < len(items); start += size {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		end := min(start+size, len(items))

		var g errgroup.Group
		for _, item := range items[start:end] {
			g.Go(func() error {
				if err := fn(ctx, item); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return errors.Join(errs...)
}
