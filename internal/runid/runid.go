// Package runid attaches a per-task-execution correlation id to a context,
// so TaskRunStarted/TaskRunSuccess/TaskRunFailure log lines for the same
// run can be grepped together.
package runid

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random run id.
func New() string {
	return uuid.NewString()
}

// WithRunID returns a copy of ctx carrying id.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the run id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
