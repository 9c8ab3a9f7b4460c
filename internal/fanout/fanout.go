// Package fanout runs independent, best-effort work items with bounded concurrency.
package fanout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item.
type Result[T any] struct {
	Item T
	Err  error
}

// Summary aggregates a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Run calls fn for every item with at most limit calls in flight and returns one
// result per item, in input order. A failing or panicking item never stops the others.
func Run[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) ([]Result[T], Summary) {
	results := make([]Result[T], len(items))
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = Result[T]{Item: item, Err: call(ctx, item, fn)}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Total: len(items)}
	for _, r := range results {
		if r.Err != nil {
			sum.Failed++
		} else {
			sum.Succeeded++
		}
	}
	return results, sum
}

func call[T any](ctx context.Context, item T, fn func(context.Context, T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, item)
}
