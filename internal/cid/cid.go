// Package cid provides per-connection correlation IDs so log lines and trace
// spans from one client's lifetime can be tied together.
package cid

import (
	"context"

	"github.com/segmentio/ksuid"
)

// ContextKey is the type used for storing the CID in context to avoid
// collisions.
type ContextKey struct{}

// AttributeName is the span attribute key used to attach the CID to spans.
const AttributeName = "citta.cid"

// New mints a fresh correlation id. KSUIDs sort by creation time, which keeps
// interleaved logs readable.
func New() string {
	return ksuid.New().String()
}

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// FromContext extracts the correlation id from context, if present.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}
