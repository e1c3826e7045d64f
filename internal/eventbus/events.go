package eventbus

import (
	"context"
	"time"
)

// EventType is one of the closed set of domain events the bus carries (§4.7).
type EventType string

const (
	TenantProvisioned   EventType = "TenantProvisioned"
	TenantDeleted       EventType = "TenantDeleted"
	PaymentConfirmed    EventType = "PaymentConfirmed"
	PaymentReversed     EventType = "PaymentReversed"
	SubscriptionCancelled EventType = "SubscriptionCancelled"
	OverdueD3           EventType = "OverdueD3"
	OverdueD7           EventType = "OverdueD7"
	OverdueD15          EventType = "OverdueD15"
	OverdueD30          EventType = "OverdueD30"
	DeletionDueElapsed  EventType = "DeletionDueElapsed"
	BackupCompleted     EventType = "BackupCompleted"
	BackupFailed        EventType = "BackupFailed"
)

// preemptable reports whether a queued event of this type is invalidated by
// a later PaymentConfirmed for the same tenant (§5: webhook-originated
// PaymentConfirmed always wins over a still-pending Overdue* transition).
func (t EventType) preemptable() bool {
	switch t {
	case OverdueD3, OverdueD7, OverdueD15, OverdueD30:
		return true
	default:
		return false
	}
}

// Event is a single normalized occurrence flowing through the bus.
type Event struct {
	ID         string
	Type       EventType
	TenantID   string
	Payload    any
	EnqueuedAt time.Time

	// generation snapshots the tenant's preemption generation at enqueue
	// time; a PaymentConfirmed bumps it, invalidating older preemptable
	// events still sitting in the queue.
	generation int64
}

// Handler processes one Event. Handlers must be idempotent keyed by
// (event.ID, event.TenantID) — the bus guarantees at-least-once delivery,
// never exactly-once.
type Handler func(ctx context.Context, event *Event) error
