package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanOut runs fn for every input on at most workers goroutines and streams
// the results back in completion order. The caller must drain the channel.
func fanOut[In, Out any](ctx context.Context, workers int, inputs []In, fn func(context.Context, In) Out) <-chan Out {
	if workers < 1 {
		workers = 1
	}
	out := make(chan Out)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(workers)
		for _, in := range inputs {
			g.Go(func() error {
				out <- fn(ctx, in)
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}
