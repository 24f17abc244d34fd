// Package eventmanager implements the durable delayed-event processing
// engine: EventManager owns the DelayQueue and EventStore, spawns the
// worker loop, and routes due events to handlers through a Registry.
package eventmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/offerengine/internal/common"
	"github.com/bobmcallan/offerengine/internal/delayqueue"
	"github.com/bobmcallan/offerengine/internal/interfaces"
	"github.com/bobmcallan/offerengine/internal/models"
)

// Manager implements interfaces.EventManager. It owns a DelayQueue of
// public event ids and a handle to the durable EventStore; the heap
// itself never holds anything but ids, so rows are always the source of
// truth for status.
type Manager struct {
	store    interfaces.EventStore
	queue    *delayqueue.Queue[uuid.UUID]
	registry *Registry
	stateBag *interfaces.StateBag
	logger   *common.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Manager. Call ReloadIncomplete then Start once at
// process wiring time.
func New(store interfaces.EventStore, registry *Registry, stateBag *interfaces.StateBag, logger *common.Logger) *Manager {
	return &Manager{
		store:    store,
		queue:    delayqueue.New[uuid.UUID](),
		registry: registry,
		stateBag: stateBag,
		logger:   logger,
	}
}

// CreateEvent persists evt and pushes a heap entry, per spec §4.1's
// create_event contract. It never fails due to the queue — the
// in-memory push is infallible once the row exists.
func (m *Manager) CreateEvent(ctx context.Context, name string, payload any, delay time.Duration, traceID string) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	hash, err := computeHash(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to compute event hash: %w", err)
	}

	now := time.Now()
	evt := &models.Event{
		Name:         name,
		Payload:      raw,
		ScheduledFor: now.Add(delay),
		TraceID:      traceID,
		Hash:         hash,
	}

	result, err := m.store.Insert(ctx, evt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to persist event: %w", err)
	}

	if result.WasDup {
		m.logger.Debug().
			Str("name", name).
			Str("hash", hash).
			Msg("Event deduplicated against an existing non-terminal row")
		return result.Event.PublicID, nil
	}

	m.queue.Push(result.Event.PublicID, delay)
	return result.Event.PublicID, nil
}

// createBulkConcurrency caps the number of CreateEvent calls a CreateBulk
// batch runs at once, the same bounded-fan-out ceiling the teacher's
// market service applies per-ticker.
const createBulkConcurrency = 8

// CreateBulk runs CreateEvent over items in parallel, reporting per-item
// errors without aborting the batch (spec §4.1 create_bulk). Each item
// owns its own slot in ids/errs, so no locking is needed to collect
// results.
func (m *Manager) CreateBulk(ctx context.Context, items []interfaces.EventRequest) ([]uuid.UUID, []error) {
	ids := make([]uuid.UUID, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, createBulkConcurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			continue
		}

		wg.Add(1)
		go func(i int, item interfaces.EventRequest) {
			defer wg.Done()
			defer func() { <-sem }()
			ids[i], errs[i] = m.CreateEvent(ctx, item.Name, item.Payload, item.Delay, item.TraceID)
		}(i, item)
	}

	wg.Wait()
	return ids, errs
}

// Cancel transitions a Pending event to Cancelled (spec §4.1 cancel). If
// the heap still holds the entry, the worker observes the terminal
// status on pop and skips dispatch.
func (m *Manager) Cancel(ctx context.Context, publicID uuid.UUID) (bool, error) {
	return m.store.Cancel(ctx, publicID)
}

// ReloadIncomplete re-arms every Pending/Running row onto the heap,
// called once at process start (spec §4.1 reload_incomplete).
func (m *Manager) ReloadIncomplete(ctx context.Context) (int, error) {
	rows, err := m.store.ReloadIncomplete(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to reload incomplete events: %w", err)
	}

	now := time.Now()
	for _, evt := range rows {
		dueAt := evt.ScheduledFor
		if dueAt.Before(now) {
			dueAt = now
		}
		m.queue.PushAt(evt.PublicID, dueAt)
	}

	m.logger.Info().Int("count", len(rows)).Msg("Reloaded incomplete events onto the delay queue")
	return len(rows), nil
}

// Start launches the single long-lived worker task (spec §4.1 worker
// loop). Safe to call once; call Stop to drain before a second Start.
func (m *Manager) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.safeRun("event-worker", func() { m.workerLoop(workerCtx) })

	m.logger.Info().Msg("Event manager worker started")
}

// Stop cancels the worker and waits for its in-flight handler to finish
// or abort at the next yield (spec §5 shutdown sequence).
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("Event manager worker stopped")
}

// safeRun wraps fn with panic recovery and logging, the same guard the
// teacher's job manager puts around every background goroutine.
func (m *Manager) safeRun(name string, fn func()) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("goroutine", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in event manager worker")
		}
	}()
	fn()
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		publicID, err := m.queue.Pop(ctx)
		if err != nil {
			return // ctx cancelled — shutdown
		}
		m.dispatch(ctx, publicID)
	}
}

// dispatch implements spec §4.1 worker loop steps 2-6 for one event.
func (m *Manager) dispatch(ctx context.Context, publicID uuid.UUID) {
	evt, err := m.store.Get(ctx, publicID)
	if err != nil {
		m.logger.Error().Str("public_id", publicID.String()).Err(err).Msg("Failed to load event for dispatch")
		return
	}
	if evt == nil || evt.Status != models.EventStatusPending {
		return // cancelled, duplicate, or already handled
	}

	running, err := m.store.MarkRunning(ctx, publicID)
	if err != nil {
		m.logger.Error().Str("public_id", publicID.String()).Err(err).Msg("Failed to mark event running")
		return
	}
	if running == nil || running.Status != models.EventStatusRunning {
		return // lost a race with a concurrent cancel
	}

	handler, ok := m.registry.Lookup(running.Name)
	if !ok {
		m.markFailed(ctx, publicID, fmt.Errorf("no handler registered for event name %q", running.Name))
		return
	}

	hc := HandlerContext{
		EventManager: m,
		StateBag:     m.stateBag,
		Cancelled:    ctx.Done(),
		TraceID:      running.TraceID,
	}

	if err := handler(ctx, hc, running.Payload); err != nil {
		m.markFailed(ctx, publicID, err)
		return
	}

	if err := m.store.MarkCompleted(ctx, publicID); err != nil {
		m.logger.Error().Str("public_id", publicID.String()).Err(err).Msg("Failed to mark event completed")
	}
}

func (m *Manager) markFailed(ctx context.Context, publicID uuid.UUID, handlerErr error) {
	m.logger.Warn().Str("public_id", publicID.String()).Err(handlerErr).Msg("Event handler failed")
	if err := m.store.MarkFailed(ctx, publicID, handlerErr.Error()); err != nil {
		m.logger.Error().Str("public_id", publicID.String()).Err(err).Msg("Failed to mark event failed")
	}
}

// Compile-time check
var _ interfaces.EventManager = (*Manager)(nil)
