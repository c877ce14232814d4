// Package groutine starts named goroutines. Names show up as pprof labels,
// which makes the session supervisor, link watcher and stream pump loops
// tell themselves apart in goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// Go runs fn on a new goroutine labeled with name. A nil parent context is
// treated as context.Background(). The name is also carried on the context
// for log correlation via Name.
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	labels := pprof.Labels("goroutine_name", name)
	go pprof.Do(parent, labels, func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the label given to Go, or "" for unlabeled goroutines.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(ctxKey{}).(string); ok {
		return s
	}
	return ""
}
