package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harmonia-labs/harmonia/pkg/schema"
)

// EventHandler receives execution events. Handlers run synchronously in
// emission order; a panicking handler is recovered and logged, never allowed
// to abort the engine.
type EventHandler func(event *schema.ExecutionEvent)

// registration pairs a handler with the ID returned at registration time.
// IDs exist because Go function values are not comparable.
type registration struct {
	id      int
	handler EventHandler
}

// dispatcher is the fixed event dispatch table.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[schema.EventType][]registration
	nextID   int
	logger   *slog.Logger
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[schema.EventType][]registration),
		nextID:   1,
		logger:   logger,
	}
}

// register adds a handler for one event type and returns its registration ID.
func (d *dispatcher) register(t schema.EventType, h EventHandler) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.handlers[t] = append(d.handlers[t], registration{id: id, handler: h})
	return id
}

// unregister removes a handler by ID. Returns false when no handler with
// that ID is registered for the type.
func (d *dispatcher) unregister(t schema.EventType, id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[t]
	for i, r := range regs {
		if r.id == id {
			d.handlers[t] = append(regs[:i:i], regs[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch invokes all handlers registered for the event's type, in
// registration order, recovering per-handler panics.
func (d *dispatcher) dispatch(event *schema.ExecutionEvent) {
	d.mu.RLock()
	regs := d.handlers[event.Type]
	d.mu.RUnlock()

	for _, r := range regs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Error("event handler panicked",
						slog.String("event_type", string(event.Type)),
						slog.String("execution_id", event.ExecutionID),
						slog.Any("panic", rec))
				}
			}()
			r.handler(event)
		}()
	}
}

// fireEvent stamps, records, persists, publishes, and dispatches one event.
// Store append and hub publish are best-effort: the engine's own state
// transition never fails on side-channel errors.
func (e *Engine) fireEvent(ctx context.Context, r *run, event *schema.ExecutionEvent) {
	event.ID = uuid.New().String()
	event.ExecutionID = r.exec.ID
	event.Timestamp = time.Now().UTC()

	// Events fired on the cancellation path must still reach the store.
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	r.history.Events = append(r.history.Events, event)
	r.mu.Unlock()

	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.Warn("append event failed",
			slog.String("execution_id", event.ExecutionID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
	}

	if e.hub != nil {
		if err := e.hub.Publish(ctx, event); err != nil {
			e.logger.Warn("publish event failed",
				slog.String("execution_id", event.ExecutionID),
				slog.String("error", err.Error()))
		}
	}

	e.dispatcher.dispatch(event)
}
