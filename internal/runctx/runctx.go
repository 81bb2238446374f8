// Package runctx carries the current task run and library item through a context, so
// deep layers (encoders, recorders) can attribute their work without widening interfaces.
package runctx

import (
	"context"

	"github.com/saltyorg/subextract/internal/library"
)

type runIDKey struct{}
type itemKey struct{}

// WithRunID returns a context carrying the task run id
func WithRunID(ctx context.Context, runID int64) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the task run id, if one is set
func RunID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(runIDKey{}).(int64)
	return id, ok && id > 0
}

// WithItem returns a context carrying the item being processed
func WithItem(ctx context.Context, item library.Item) context.Context {
	return context.WithValue(ctx, itemKey{}, item)
}

// Item returns the item being processed, if one is set
func Item(ctx context.Context) (library.Item, bool) {
	item, ok := ctx.Value(itemKey{}).(library.Item)
	return item, ok
}
