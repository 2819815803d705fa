package runtime

import (
	"context"
)

// Handler defines a lifecycle-aware Lambda handler for input type T and output type R.
//
// ColdStart runs once before the first invocation. Validate rejects events that
// cannot be processed at all; such events are reported as invocation errors and
// Handler is not called. Shutdown runs when the runtime receives SIGTERM.
type Handler[T, R any] interface {
	ColdStart(ctx context.Context) error
	Validate(ctx context.Context, event T) error
	Handler(ctx context.Context, event T) (R, error)
	Shutdown(ctx context.Context) error
}
