package atomfeed

import "context"

// EventWorker applies the business effect of a single feed event.
//
// Process runs inside the transaction opened for the event, and the
// transaction is available from ctx. Delivery is at-least-once, so
// implementations must be idempotent.
type EventWorker interface {
	// Process handles one event and returns an error on failure.
	Process(ctx context.Context, event Event) error
}

// EventWorkerFunc adapts a function to EventWorker.
type EventWorkerFunc func(ctx context.Context, event Event) error

// Process implements EventWorker.
func (fn EventWorkerFunc) Process(ctx context.Context, event Event) error {
	return fn(ctx, event)
}
