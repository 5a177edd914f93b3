// Package eventbus fans engine events out to in-process subscribers. The
// engine publishes after a state change is stored; one consumer goroutine
// delivers each event to every subscriber in subscription order.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matthewbaird/signalintel/internal/event"
)

// Handler processes a domain event. Implementations must be safe for
// concurrent calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, evt event.DomainEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.DomainEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, evt event.DomainEvent) error {
	return f(ctx, evt)
}

// Bus queues events on a bounded channel. Handlers never run concurrently
// with each other, and a failing or panicking handler does not stop
// delivery to the rest.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.DomainEvent
	done        chan struct{}
	stopOnce    sync.Once
	dropped     atomic.Uint64
	logger      *zap.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// New returns a Bus holding up to bufSize undelivered events (256 when
// bufSize < 1).
func New(bufSize int, logger *zap.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		events: make(chan event.DomainEvent, bufSize),
		done:   make(chan struct{}),
		logger: logger.Named("eventbus"),
	}
}

// Subscribe registers a named handler. Must be called before Start.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Publish queues evt without blocking. When the queue is full the event is
// dropped, counted and logged.
func (b *Bus) Publish(_ context.Context, evt event.DomainEvent) {
	select {
	case b.events <- evt:
	default:
		b.dropped.Add(1)
		b.logger.Warn("buffer full, dropping event",
			zap.String("event_type", evt.EventType), zap.String("event_id", evt.ID))
	}
}

// Dropped returns how many events Publish has discarded.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Start begins the consumer goroutine. It processes events until the
// context is cancelled or Stop is called, draining what is buffered.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case evt, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, evt)
			case <-ctx.Done():
				for {
					select {
					case evt, ok := <-b.events:
						if !ok {
							return
						}
						b.dispatch(ctx, evt)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop closes the bus and waits for buffered events to be dispatched.
// Publish must not be called after Stop.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.events)
		<-b.done
	})
}

func (b *Bus) dispatch(ctx context.Context, evt event.DomainEvent) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := deliver(ctx, s.handler, evt); err != nil {
			b.logger.Warn("handler error",
				zap.String("handler", s.name),
				zap.String("event_type", evt.EventType),
				zap.String("event_id", evt.ID),
				zap.Error(err))
		}
	}
}

func deliver(ctx context.Context, h Handler, evt event.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.HandleEvent(ctx, evt)
}

var _ event.Publisher = (*Bus)(nil)
