// Package eventbus implements the synchronous publish/subscribe registry
// that the transport and session layers use to fan out protocol events.
//
// Wildcard names such as "server.*" are not pattern-matched at dispatch
// time: publishers dispatch the specific name and the wildcard name as two
// separate exact subscriptions, so a subscriber that wants both must
// register both.
package eventbus

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives the payload of a dispatched event.
type Handler func(event any)

// Subscription identifies a registered handler so it can be removed.
type Subscription struct {
	name string
	id   uint64
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous event registry. Each Bus instance is owned by
// exactly one component (a transport or a session client) and must not be
// shared between sessions.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
	logger   *slog.Logger
}

// New creates an empty bus. A nil logger discards handler panic reports.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		handlers: make(map[string][]registration),
		logger:   logger,
	}
}

// On registers a handler for an exact event name. Handlers fire in
// registration order.
func (b *Bus) On(name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], registration{id: b.nextID, handler: h})
	return Subscription{name: name, id: b.nextID}
}

// Off removes a previously registered handler. Removing a subscription
// twice is a no-op.
func (b *Bus) Off(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[sub.name]
	for i, r := range regs {
		if r.id == sub.id {
			b.handlers[sub.name] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Clear removes every handler.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[string][]registration)
}

// Dispatch invokes every handler registered for the exact name, in
// registration order. A panicking handler is recovered and logged; it does
// not prevent the remaining handlers from firing.
func (b *Bus) Dispatch(name string, event any) {
	b.mu.Lock()
	regs := make([]registration, len(b.handlers[name]))
	copy(regs, b.handlers[name])
	b.mu.Unlock()

	for _, r := range regs {
		b.invoke(name, r.handler, event)
	}
}

func (b *Bus) invoke(name string, h Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	h(event)
}

// WaitForNext blocks until the next dispatch of name and returns its
// payload. The internal one-shot handler is deregistered after the first
// fire, so a second dispatch of the same name resolves only waiters that
// registered after it. The wait is bounded solely by ctx.
func (b *Bus) WaitForNext(ctx context.Context, name string) (any, error) {
	ch := make(chan any, 1)

	var once sync.Once
	sub := b.On(name, func(event any) {
		once.Do(func() { ch <- event })
	})
	defer b.Off(sub)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event := <-ch:
		return event, nil
	}
}
