package transport

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool calls fn for every item with at most limit calls in flight, and returns the results in item order.
// A limit of zero or less means no limit.
func Pool[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) R) []R {
	results := make([]R, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = fn(ctx, item)
			return nil
		})
	}

	_ = g.Wait()

	return results
}
