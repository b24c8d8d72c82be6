package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bluebridge/internal/domain"
)

const publishTimeout = 10 * time.Second

// Dispatcher is a Go-channel based event queue between the transport's read
// loop and the registered handlers. A single Run loop invokes handlers, so
// handlers never run concurrently with each other.
type Dispatcher struct {
	events   chan domain.Event
	handlers map[string][]domain.EventHandler
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger

	// stop is closed by Close before it takes the write lock, so a Publish
	// waiting on a full queue gives up instead of holding the read lock.
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Dispatcher with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events:   make(chan domain.Event, bufferSize),
		handlers: make(map[string][]domain.EventHandler),
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// On registers a handler for the named event.
func (d *Dispatcher) On(event string, handler domain.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[event] = append(d.handlers[event], handler)
}

// Publish enqueues an event. Blocks up to 10 seconds if the queue is full
// instead of dropping, unless the dispatcher is closed meanwhile.
func (d *Dispatcher) Publish(ev domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Debug("event dropped: dispatcher closed", "event", ev.Name)
		return
	}

	select {
	case d.events <- ev:
	default:
		d.logger.Warn("event queue full, waiting...", "event", ev.Name)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case d.events <- ev:
			d.logger.Info("event queued after wait", "event", ev.Name)
		case <-d.stop:
			d.logger.Debug("event dropped: dispatcher closed while waiting", "event", ev.Name)
		case <-timer.C:
			d.logger.Error("event dropped: queue full for 10s", "event", ev.Name)
		}
	}
}

// Run delivers queued events until ctx is cancelled or the dispatcher is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev domain.Event) {
	d.mu.RLock()
	handlers := append([]domain.EventHandler(nil), d.handlers[ev.Name]...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Debug("no handler registered for event", "event", ev.Name)
		return
	}
	for _, h := range handlers {
		d.invoke(ctx, h, ev)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h domain.EventHandler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked", "event", ev.Name, "panic", r)
		}
	}()
	h(ctx, ev)
}

// Close stops accepting events. Queued events are still delivered by Run.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.events)
	}
}
