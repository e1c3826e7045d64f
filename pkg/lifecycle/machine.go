package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/eventbus"
	"github.com/hostfleet/controlplane/internal/keyedmutex"
	"github.com/hostfleet/controlplane/internal/retry"
	"github.com/hostfleet/controlplane/internal/telemetry"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// TenantStore is the slice of internal/db.Queries the lifecycle machine
// needs, expressed as an interface so tests can fake persistence without a
// live Postgres connection.
type TenantStore interface {
	GetTenant(ctx context.Context, id string) (db.TenantRow, error)
	UpdateTenantState(ctx context.Context, id, state string, since time.Time) error
	SetGraceAnchor(ctx context.Context, id string, anchor *time.Time) error
	SetDeletionDueAt(ctx context.Context, id string, due *time.Time) error
	AppendLifecycleEvent(ctx context.Context, e db.LifecycleEventRow) error
}

// SubscriptionCanceller is the one gateway method the lifecycle machine
// calls directly — kept narrow rather than depending on the full gateway
// client (§4.8's thin-interface philosophy applied to a second caller).
type SubscriptionCanceller interface {
	CancelSubscription(ctx context.Context, subscriptionRef string) error
}

// BackupTaker is the one backup-engine method the lifecycle machine calls,
// to avoid a direct package dependency on pkg/backup.
type BackupTaker interface {
	Take(ctx context.Context, tenantID string, kind string) error
}

// DeletionGracePeriod is how long a ScheduledForDeletion tenant waits before
// Deleted fires (§4.3: "deletionDueAt = now + 24h").
const DeletionGracePeriod = 24 * time.Hour

// Machine is the lifecycle state machine. Every method is safe for
// concurrent use across tenants; within one tenant, Apply calls are
// serialized by the internal keyed mutex.
type Machine struct {
	Queries      TenantStore
	Driver       orchestrator.Driver
	DNS          tenant.DNSProvider
	Subscription SubscriptionCanceller
	Backups      BackupTaker
	Notifier     Notifier
	Bus          *eventbus.Bus
	Logger       *slog.Logger

	locks *keyedmutex.Map
}

// NewMachine builds a Machine. Pass nil for Bus only in tests that don't
// need emitted events.
func NewMachine(queries TenantStore, driver orchestrator.Driver, dns tenant.DNSProvider, sub SubscriptionCanceller, backups BackupTaker, notifier Notifier, bus *eventbus.Bus, logger *slog.Logger) *Machine {
	return &Machine{
		Queries:      queries,
		Driver:       driver,
		DNS:          dns,
		Subscription: sub,
		Backups:      backups,
		Notifier:     notifier,
		Bus:          bus,
		Logger:       logger,
		locks:        keyedmutex.New(),
	}
}

// Cause is recorded on every LifecycleEvent row (§3).
type Cause string

const (
	CauseTimer   Cause = "timer"
	CauseAdmin   Cause = "admin"
	CauseWebhook Cause = "webhook"
	CausePayment Cause = "payment_id"
)

// Apply attempts to move tenantID via trig, recording the transition and
// running its side effect. A trigger with no entry in the transition table
// for the tenant's current state is a no-op, not an error (§4.3).
func (m *Machine) Apply(ctx context.Context, tenantID string, trig Trigger, cause Cause, reason string) error {
	unlock := m.locks.Lock(tenantID)
	defer unlock()

	row, err := m.Queries.GetTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("loading tenant %s: %w", tenantID, err)
	}
	from := tenant.State(row.State)

	to, ok := NextState(from, trig)
	if !ok {
		m.Logger.Debug("lifecycle trigger is a no-op in current state", "tenant_id", tenantID, "state", from, "trigger", trig)
		return nil
	}

	if err := m.runSideEffect(ctx, tenantID, from, to); err != nil {
		return fmt.Errorf("side effect for %s -> %s on tenant %s: %w", from, to, tenantID, err)
	}

	now := time.Now()
	if err := m.Queries.UpdateTenantState(ctx, tenantID, string(to), now); err != nil {
		return fmt.Errorf("persisting state transition: %w", err)
	}

	if err := m.updateGraceAnchor(ctx, tenantID, from, to, trig, now); err != nil {
		return fmt.Errorf("updating grace anchor: %w", err)
	}

	if err := m.Queries.AppendLifecycleEvent(ctx, db.LifecycleEventRow{
		TenantID: tenantID,
		From:     string(from),
		To:       string(to),
		Reason:   reason,
		Cause:    string(cause),
		Ts:       now,
	}); err != nil {
		return fmt.Errorf("appending lifecycle event: %w", err)
	}

	telemetry.LifecycleTransitions.WithLabelValues(string(from), string(to)).Inc()

	if to == Deleted && m.Bus != nil {
		m.Bus.Publish(ctx, eventbus.Event{ID: tenantID + ":deleted:" + now.Format(time.RFC3339Nano), Type: eventbus.TenantDeleted, TenantID: tenantID})
	}

	return nil
}

// updateGraceAnchor implements §4.3's grace-period-anchor rule: the first
// Overdue* event sets it; any PaymentConfirmed clears it.
func (m *Machine) updateGraceAnchor(ctx context.Context, tenantID string, from, to tenant.State, trig Trigger, now time.Time) error {
	switch trig {
	case TriggerOverdueD3:
		if from == Active {
			return m.Queries.SetGraceAnchor(ctx, tenantID, &now)
		}
	case PaymentConfirmed:
		return m.Queries.SetGraceAnchor(ctx, tenantID, nil)
	case DeletionDueElapsed:
		return m.Queries.SetDeletionDueAt(ctx, tenantID, nil)
	}

	if to == ScheduledForDeletion {
		due := now.Add(DeletionGracePeriod)
		return m.Queries.SetDeletionDueAt(ctx, tenantID, &due)
	}
	return nil
}

// runSideEffect executes the exactly-once, idempotently-retriable side
// effect for a transition (§4.3's side-effect table).
func (m *Machine) runSideEffect(ctx context.Context, tenantID string, from, to tenant.State) error {
	switch to {
	case WarningSent:
		return m.Notifier.Notify(ctx, tenantID, NotifyPaymentReminder)

	case Suspended:
		return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
			if err := m.Driver.ScaleDeployment(ctx, tenantID, tenant.WordPressDeploymentName(tenantID), 0); err != nil {
				return err
			}
			_, err := m.Driver.EnsureConfig(ctx, tenantID, "suspension-page", map[string]string{
				"index.html": suspensionPageHTML,
			})
			return err
		})

	case FinalWarningSent:
		return m.Notifier.Notify(ctx, tenantID, NotifyFinalWarning)

	case ScheduledForDeletion:
		return m.Backups.Take(ctx, tenantID, "final")

	case Deleted:
		return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
			if err := m.Driver.DeleteNamespace(ctx, tenantID); err != nil {
				return err
			}
			row, err := m.Queries.GetTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			if err := m.DNS.DeleteRecord(ctx, row.Domain); err != nil {
				return err
			}
			if row.SubscriptionRef != "" {
				if err := m.Subscription.CancelSubscription(ctx, row.SubscriptionRef); err != nil {
					return err
				}
			}
			return nil
		})

	case Active:
		if isFromSuspendedSet(from) {
			return retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
				if err := m.Driver.ScaleDeployment(ctx, tenantID, tenant.WordPressDeploymentName(tenantID), 1); err != nil {
					return err
				}
				row, err := m.Queries.GetTenant(ctx, tenantID)
				if err != nil {
					return err
				}
				if err := m.DNS.UpsertRecord(ctx, row.Domain, row.Domain); err != nil {
					return err
				}
				return m.Notifier.Notify(ctx, tenantID, NotifyReactivation)
			})
		}
		return nil

	default:
		return nil
	}
}

const suspensionPageHTML = `<!doctype html><html><body><h1>Site suspended</h1><p>This site is temporarily unavailable pending payment.</p></body></html>`
