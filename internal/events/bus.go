// Package events is an in-process typed publish/subscribe bus. Handlers run
// synchronously on the publishing goroutine, after the publisher has committed.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"

	"huddle/internal/observability"
)

// Bus dispatches events to handlers registered for the event's concrete type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type][]func(context.Context, any)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[reflect.Type][]func(context.Context, any))}
}

func typeOf[E any]() reflect.Type {
	return reflect.TypeOf((*E)(nil)).Elem()
}

// Subscribe registers fn for events of type E.
func Subscribe[E any](b *Bus, fn func(ctx context.Context, event E)) {
	if b == nil {
		return
	}
	t := typeOf[E]()
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], func(ctx context.Context, e any) {
		fn(ctx, e.(E))
	})
	b.mu.Unlock()
}

// Publish delivers event to every handler of its type in registration order.
// A panicking handler is logged and skipped; the rest still run.
func Publish[E any](ctx context.Context, b *Bus, event E) {
	if b == nil {
		return
	}
	t := typeOf[E]()
	b.mu.RLock()
	hs := make([]func(context.Context, any), len(b.handlers[t]))
	copy(hs, b.handlers[t])
	b.mu.RUnlock()

	for _, h := range hs {
		runHandler(ctx, t.Name(), h, event)
	}
}

func runHandler(ctx context.Context, name string, h func(context.Context, any), event any) {
	defer func() {
		if r := recover(); r != nil {
			observability.EventHandlerPanics.WithLabelValues(name).Inc()
			observability.GlobalLogger.ErrorContext(ctx, "event handler panicked",
				slog.String("event", name),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	h(ctx, event)
}
