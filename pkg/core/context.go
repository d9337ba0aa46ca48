package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type runIDKey struct{}
type lineIndexKey struct{}

// WithRunID attaches a run id to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

// EnsureRunID ensures a run id exists in the context.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id, ok := RunID(ctx); ok {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}

// WithLineIndex attaches the batch line index to the context.
func WithLineIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, lineIndexKey{}, index)
}

// LineIndex returns the batch line index if present.
func LineIndex(ctx context.Context) (int, bool) {
	index, ok := ctx.Value(lineIndexKey{}).(int)
	return index, ok
}

// NewRunID generates a short random run id.
func NewRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "run-unknown"
	}
	return "run-" + hex.EncodeToString(buf)
}
