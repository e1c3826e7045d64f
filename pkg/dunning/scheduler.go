// Package dunning implements the single-leader periodic tick that advances
// overdue tenants through the dunning ladder (§4.4).
package dunning

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/telemetry"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// OverdueInvoice is the slice of gateway invoice data the scheduler needs.
type OverdueInvoice struct {
	ID      string
	DueDate time.Time
}

// GatewayClient is the one PaymentGatewayClient method the scheduler calls.
type GatewayClient interface {
	ListOverdueInvoices(ctx context.Context, subscriptionRef string) ([]OverdueInvoice, error)
}

// LeaderLock is the durable-store advisory lock used for out-of-process
// leader election (§4.4). Implemented by internal/db.Queries over a
// dedicated connection.
type LeaderLock interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
}

// TenantLister is the slice of internal/db.Queries the scheduler needs to
// list dunning-eligible and deletion-due tenants; each call loads the whole
// matching set at once, without paging.
type TenantLister interface {
	ListTenantsByStates(ctx context.Context, states []string) ([]db.TenantRow, error)
}

// dunningEligibleStates are the states the scheduler scans each tick.
var dunningEligibleStates = []string{
	string(lifecycle.Active),
	string(lifecycle.WarningSent),
	string(lifecycle.Suspended),
	string(lifecycle.FinalWarningSent),
}

// leaderLockKey is the fixed advisory-lock key every replica contends for.
const leaderLockKey = 722_100_001

// leaderLockTimeout bounds how long a tick waits to become leader before
// skipping (§4.4: "if the lock cannot be acquired within 1 s").
const leaderLockTimeout = time.Second

// Scheduler is the single-leader dunning tick.
type Scheduler struct {
	Queries TenantLister
	Lock    LeaderLock
	Gateway GatewayClient
	Machine *lifecycle.Machine
	Logger  *slog.Logger
}

// New builds a Scheduler.
func New(queries TenantLister, lock LeaderLock, gateway GatewayClient, machine *lifecycle.Machine, logger *slog.Logger) *Scheduler {
	return &Scheduler{Queries: queries, Lock: lock, Gateway: gateway, Machine: machine, Logger: logger}
}

// Run ticks every interval until ctx is cancelled. The first tick fires
// immediately rather than waiting a full interval.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.tickAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickAndLog(ctx)
		}
	}
}

func (s *Scheduler) tickAndLog(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.Logger.Error("dunning tick failed", "error", err)
	}
}

// Tick runs one pass: dunning escalation for overdue tenants, then deletion
// for tenants whose grace window has elapsed. Missed ticks are never
// replayed — each tick recomputes entirely from authoritative state (§4.4).
func (s *Scheduler) Tick(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, leaderLockTimeout)
	defer cancel()

	acquired, err := s.Lock.TryAdvisoryLock(lockCtx, leaderLockKey)
	if err != nil {
		return err
	}
	if !acquired {
		telemetry.DunningTicksSkipped.Inc()
		s.Logger.Info("dunning tick skipped: leader lock not acquired")
		return nil
	}
	defer func() {
		if err := s.Lock.AdvisoryUnlock(context.Background(), leaderLockKey); err != nil {
			s.Logger.Warn("releasing dunning leader lock failed", "error", err)
		}
	}()

	if err := s.escalateOverdue(ctx); err != nil {
		return err
	}
	return s.expireDeletionWindows(ctx)
}

func (s *Scheduler) escalateOverdue(ctx context.Context) error {
	tenants, err := s.Queries.ListTenantsByStates(ctx, dunningEligibleStates)
	if err != nil {
		return err
	}

	for _, t := range tenants {
		if t.SubscriptionRef == "" {
			continue
		}

		invoices, err := s.Gateway.ListOverdueInvoices(ctx, t.SubscriptionRef)
		if err != nil {
			s.Logger.Error("listing overdue invoices failed", "tenant_id", t.ID, "error", err)
			continue
		}
		if len(invoices) == 0 {
			continue
		}

		oldest := invoices[0]
		for _, inv := range invoices[1:] {
			if inv.DueDate.Before(oldest.DueDate) {
				oldest = inv
			}
		}

		daysOverdue := int(math.Floor(time.Since(oldest.DueDate).Hours() / 24))
		if daysOverdue < 0 {
			daysOverdue = 0
		}

		trig, ok := nextRungTrigger(tenant.State(t.State), daysOverdue)
		if !ok {
			continue
		}

		if err := s.Machine.Apply(ctx, t.ID, trig, lifecycle.CauseTimer, "dunning tick: invoice overdue"); err != nil {
			s.Logger.Error("applying dunning transition failed", "tenant_id", t.ID, "trigger", trig, "error", err)
		}
	}
	return nil
}

// dunningRung is the single Overdue* trigger that advances a given state to
// the next rung of the dunning ladder, and the day count that must be met
// to fire it (§4.4 step 4).
type dunningRung struct {
	trigger      lifecycle.Trigger
	minDaysOverdue int
}

// dunningRungs maps each dunning-eligible state to its one valid next
// trigger. A tenant that skipped several ticks (e.g. Active with a 30-day-
// overdue invoice) still only advances the single rung valid from its
// current state — jumping straight to TriggerOverdueD30 would no-op against
// the closed transition table instead of advancing it at all.
var dunningRungs = map[tenant.State]dunningRung{
	lifecycle.Active:           {lifecycle.TriggerOverdueD3, 3},
	lifecycle.WarningSent:      {lifecycle.TriggerOverdueD7, 7},
	lifecycle.Suspended:        {lifecycle.TriggerOverdueD15, 15},
	lifecycle.FinalWarningSent: {lifecycle.TriggerOverdueD30, 30},
}

// nextRungTrigger returns the trigger that should fire for a tenant
// currently in state with the given overdue day count, if its threshold has
// been met.
func nextRungTrigger(state tenant.State, daysOverdue int) (lifecycle.Trigger, bool) {
	rung, ok := dunningRungs[state]
	if !ok || daysOverdue < rung.minDaysOverdue {
		return "", false
	}
	return rung.trigger, true
}

func (s *Scheduler) expireDeletionWindows(ctx context.Context) error {
	tenants, err := s.Queries.ListTenantsByStates(ctx, []string{string(lifecycle.ScheduledForDeletion)})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range tenants {
		if t.DeletionDueAt == nil || t.DeletionDueAt.After(now) {
			continue
		}
		if err := s.Machine.Apply(ctx, t.ID, lifecycle.DeletionDueElapsed, lifecycle.CauseTimer, "deletion grace window elapsed"); err != nil {
			s.Logger.Error("applying deletion transition failed", "tenant_id", t.ID, "error", err)
		}
	}
	return nil
}
