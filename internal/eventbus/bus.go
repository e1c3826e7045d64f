// Package eventbus is the single-process, ordered, at-least-once dispatcher
// described in §4.7: handlers run per event type, events for one tenant are
// strictly FIFO and serialized, events across tenants interleave freely,
// and a PaymentConfirmed preempts any still-queued Overdue* event for the
// same tenant.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostfleet/controlplane/internal/telemetry"
)

// DefaultMaxAge is the default backpressure window: events older than this
// are dropped from a tenant's queue before being enqueued further (§4.7).
const DefaultMaxAge = 24 * time.Hour

// DefaultMaxQueueLen bounds how many pending events a single tenant can
// accumulate before the oldest is evicted.
const DefaultMaxQueueLen = 256

type tenantQueue struct {
	mu         sync.Mutex
	pending    []*Event
	generation int64
	scheduled  bool // true while a workQueue entry for this tenant is outstanding
}

// Bus is the in-process event dispatcher.
type Bus struct {
	logger      *slog.Logger
	maxAge      time.Duration
	maxQueueLen int

	mu       sync.Mutex
	tenants  map[string]*tenantQueue
	handlers map[EventType][]Handler

	workQueue chan string
}

// New builds a Bus with the default max age and per-tenant queue length.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:      logger,
		maxAge:      DefaultMaxAge,
		maxQueueLen: DefaultMaxQueueLen,
		tenants:     make(map[string]*tenantQueue),
		handlers:    make(map[EventType][]Handler),
		workQueue:   make(chan string, 4096),
	}
}

// Subscribe registers handler to run for every event of the given type.
// Must be called before Run starts processing.
func (b *Bus) Subscribe(t EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

func (b *Bus) tenantQueueFor(tenantID string) *tenantQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	tq, ok := b.tenants[tenantID]
	if !ok {
		tq = &tenantQueue{}
		b.tenants[tenantID] = tq
	}
	return tq
}

// Publish enqueues event for delivery. A PaymentConfirmed bumps the
// tenant's preemption generation, invalidating older queued Overdue*
// events for that tenant; they are dropped when dequeued, not removed
// eagerly, since eager removal would need to walk the slice under lock
// on every publish.
func (b *Bus) Publish(ctx context.Context, event Event) {
	tq := b.tenantQueueFor(event.TenantID)

	tq.mu.Lock()
	if event.Type == PaymentConfirmed {
		tq.generation++
	}
	event.generation = tq.generation
	event.EnqueuedAt = timeNow()

	tq.pending = append(tq.pending, &event)
	b.evictStale(tq, event.TenantID)

	needsSchedule := !tq.scheduled
	tq.scheduled = true
	tq.mu.Unlock()

	if needsSchedule {
		b.schedule(event.TenantID)
	}
}

// evictStale drops events older than maxAge and trims the queue to
// maxQueueLen, incrementing BusOverflow for each drop. Caller must hold tq.mu.
func (b *Bus) evictStale(tq *tenantQueue, tenantID string) {
	cutoff := timeNow().Add(-b.maxAge)
	kept := tq.pending[:0]
	for _, e := range tq.pending {
		if e.EnqueuedAt.Before(cutoff) {
			telemetry.BusOverflow.WithLabelValues(string(e.Type)).Inc()
			continue
		}
		kept = append(kept, e)
	}
	tq.pending = kept

	for len(tq.pending) > b.maxQueueLen {
		dropped := tq.pending[0]
		tq.pending = tq.pending[1:]
		telemetry.BusOverflow.WithLabelValues(string(dropped.Type)).Inc()
	}
}

func (b *Bus) schedule(tenantID string) {
	select {
	case b.workQueue <- tenantID:
	default:
		b.logger.Warn("eventbus work queue full, tenant scheduling delayed", "tenant_id", tenantID)
		go func() { b.workQueue <- tenantID }()
	}
}

// Run starts workerCount goroutines draining per-tenant queues until ctx is
// cancelled. It returns once every worker has exited.
func (b *Bus) Run(ctx context.Context, workerCount int) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error { return b.worker(ctx) })
	}
	return g.Wait()
}

func (b *Bus) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case tenantID := <-b.workQueue:
			b.drainOne(ctx, tenantID)
		}
	}
}

// drainOne processes exactly one pending event for tenantID, then
// reschedules the tenant if more remain. Processing one event per
// scheduling round (rather than looping until empty) keeps per-tenant work
// from starving other tenants on the same worker.
func (b *Bus) drainOne(ctx context.Context, tenantID string) {
	tq := b.tenantQueueFor(tenantID)

	tq.mu.Lock()
	var event *Event
	for len(tq.pending) > 0 {
		candidate := tq.pending[0]
		tq.pending = tq.pending[1:]
		if candidate.Type.preemptable() && candidate.generation < tq.generation {
			b.logger.Debug("dropping preempted event", "tenant_id", tenantID, "event_type", candidate.Type)
			continue
		}
		event = candidate
		break
	}
	more := len(tq.pending) > 0
	if !more {
		tq.scheduled = false
	}
	tq.mu.Unlock()

	if event != nil {
		b.dispatch(ctx, event)
	}

	if more {
		b.schedule(tenantID)
	}
}

func (b *Bus) dispatch(ctx context.Context, event *Event) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			b.logger.Error("event handler failed", "event_type", event.Type, "tenant_id", event.TenantID, "error", err)
		}
	}
}

var timeNow = time.Now
