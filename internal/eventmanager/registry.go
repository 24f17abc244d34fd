package eventmanager

import (
	"context"
	"encoding/json"

	"github.com/bobmcallan/offerengine/internal/interfaces"
)

// HandlerContext is handed to a Handler on dispatch (spec §4.1 step 4):
// the EventManager itself (so a handler can create child events), the
// shared StateBag, the event's trace id, and a cancellation channel tied
// to process shutdown. It carries no execution id.
type HandlerContext struct {
	EventManager interfaces.EventManager
	StateBag     *interfaces.StateBag
	Cancelled    <-chan struct{}
	TraceID      string
}

// Handler processes one event's payload. Payload is the raw JSON body
// of the event's tagged variant (spec §6: {"variant":"...", ...}).
type Handler func(ctx context.Context, hc HandlerContext, payload json.RawMessage) error

// Registry is the compile-time map of event variant name to handler
// (spec §4.5 HandlerRegistry).
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to fn. Intended to be called once per variant at
// process wiring time, before the worker loop starts.
func (r *Registry) Register(name string, fn Handler) {
	r.handlers[name] = fn
}

// Lookup returns the handler bound to name, or false if none is
// registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered event variant names, for GET /events
// (spec §6).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
