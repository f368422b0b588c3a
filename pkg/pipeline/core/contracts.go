package core

import "context"

// Task handles one item of a batch.
type Task[In any, Out any] interface {
	Do(ctx context.Context, in In) (Out, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc[In any, Out any] func(ctx context.Context, in In) (Out, error)

func (f TaskFunc[In, Out]) Do(ctx context.Context, in In) (Out, error) {
	return f(ctx, in)
}
