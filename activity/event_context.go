package activity

import "context"

type taskKey struct{}

// WithTask attaches the task being executed to a context.
func WithTask(ctx context.Context, task Task) context.Context {
	return context.WithValue(ctx, taskKey{}, task)
}

// TaskFrom extracts the task being executed if present.
func TaskFrom(ctx context.Context) (Task, bool) {
	task, ok := ctx.Value(taskKey{}).(Task)
	return task, ok
}
