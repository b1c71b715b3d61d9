package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs action for every element with at most workers goroutines in
// flight. The context passed to action is cancelled on the first error, which
// is the one returned. workers <= 0 means one goroutine per element.
func ForEach[T any](ctx context.Context, items []T, workers int, action func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	errGroup, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		errGroup.SetLimit(workers)
	}

	for _, value := range items {
		if gctx.Err() != nil {
			break
		}
		errGroup.Go(func() error {
			return action(gctx, value)
		})
	}

	return errGroup.Wait()
}

// Throttle runs action for every element with at most workers goroutines in
// flight and waits for all of them. Sequential when workers <= 1.
func Throttle[T any](items []T, workers int, action func(T)) {
	if workers <= 1 {
		for _, v := range items {
			action(v)
		}
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for _, value := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(v T) {
			defer wg.Done()
			action(v)
			<-sem
		}(value)
	}
	wg.Wait()
}

// Batch splits items into chunks of at most size elements.
func Batch[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for idx := 0; idx < len(items); idx += size {
		end := min(idx+size, len(items))
		out = append(out, items[idx:end])
	}
	return out
}
