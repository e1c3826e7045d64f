package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

type fakeStore struct {
	rows   map[string]db.TenantRow
	events []db.LifecycleEventRow
}

func newFakeStore(tenantID string, state tenant.State) *fakeStore {
	return &fakeStore{rows: map[string]db.TenantRow{
		tenantID: {ID: tenantID, State: string(state), Domain: tenantID + ".example.com"},
	}}
}

func (f *fakeStore) GetTenant(ctx context.Context, id string) (db.TenantRow, error) {
	row, ok := f.rows[id]
	if !ok {
		return db.TenantRow{}, db.ErrNotFound
	}
	return row, nil
}

func (f *fakeStore) UpdateTenantState(ctx context.Context, id, state string, since time.Time) error {
	row := f.rows[id]
	row.State = state
	f.rows[id] = row
	return nil
}

func (f *fakeStore) SetGraceAnchor(ctx context.Context, id string, anchor *time.Time) error {
	row := f.rows[id]
	row.GraceAnchor = anchor
	f.rows[id] = row
	return nil
}

func (f *fakeStore) SetDeletionDueAt(ctx context.Context, id string, due *time.Time) error {
	row := f.rows[id]
	row.DeletionDueAt = due
	f.rows[id] = row
	return nil
}

func (f *fakeStore) AppendLifecycleEvent(ctx context.Context, e db.LifecycleEventRow) error {
	f.events = append(f.events, e)
	return nil
}

type fakeDriver struct {
	scaledTo    map[string]int32
	deletedNS   []string
}

func newFakeDriver() *fakeDriver { return &fakeDriver{scaledTo: map[string]int32{}} }

func (f *fakeDriver) EnsureNamespace(ctx context.Context, tenantID string) (string, error) { return "", nil }
func (f *fakeDriver) EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.SecretRef, error) {
	return orchestrator.SecretRef{}, nil
}
func (f *fakeDriver) EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.ConfigRef, error) {
	return orchestrator.ConfigRef{}, nil
}
func (f *fakeDriver) EnsureDatabaseDeployment(ctx context.Context, tenantID string, rootPass, userPass string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (f *fakeDriver) EnsureWordPressDeployment(ctx context.Context, tenantID, domain string, adminUser, adminPassword string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (f *fakeDriver) WaitReady(ctx context.Context, ref orchestrator.ReadyRef, deadline time.Duration) error {
	return nil
}
func (f *fakeDriver) EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (orchestrator.IngressRef, error) {
	return orchestrator.IngressRef{}, nil
}
func (f *fakeDriver) ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error {
	f.scaledTo[name] = replicas
	return nil
}
func (f *fakeDriver) DeleteNamespace(ctx context.Context, tenantID string) error {
	f.deletedNS = append(f.deletedNS, tenantID)
	return nil
}
func (f *fakeDriver) ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (orchestrator.ExecResult, error) {
	return orchestrator.ExecResult{}, nil
}
func (f *fakeDriver) EnsureBackupCron(ctx context.Context, tenantID, schedule string) error { return nil }

type fakeDNS struct{ deleted, upserted []string }

func (f *fakeDNS) UpsertRecord(ctx context.Context, domain, target string) error {
	f.upserted = append(f.upserted, domain)
	return nil
}
func (f *fakeDNS) DeleteRecord(ctx context.Context, domain string) error {
	f.deleted = append(f.deleted, domain)
	return nil
}

type fakeSubscription struct{ cancelled []string }

func (f *fakeSubscription) CancelSubscription(ctx context.Context, ref string) error {
	f.cancelled = append(f.cancelled, ref)
	return nil
}

type fakeBackups struct{ taken []string }

func (f *fakeBackups) Take(ctx context.Context, tenantID, kind string) error {
	f.taken = append(f.taken, tenantID+":"+kind)
	return nil
}

type fakeNotifier struct{ sent []NotificationKind }

func (f *fakeNotifier) Notify(ctx context.Context, tenantID string, kind NotificationKind) error {
	f.sent = append(f.sent, kind)
	return nil
}

func TestApply_ActiveToWarningSent(t *testing.T) {
	store := newFakeStore("t1", Active)
	driver := newFakeDriver()
	notifier := &fakeNotifier{}
	m := NewMachine(store, driver, &fakeDNS{}, &fakeSubscription{}, &fakeBackups{}, notifier, nil, slog.Default())

	if err := m.Apply(context.Background(), "t1", TriggerOverdueD3, CauseTimer, "dunning tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.rows["t1"].State != string(WarningSent) {
		t.Fatalf("expected WarningSent, got %s", store.rows["t1"].State)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != NotifyPaymentReminder {
		t.Fatalf("expected a payment reminder notification, got %v", notifier.sent)
	}
	if store.rows["t1"].GraceAnchor == nil {
		t.Fatal("expected grace anchor to be set")
	}
}

func TestApply_SuspendedScalesToZero(t *testing.T) {
	store := newFakeStore("t1", WarningSent)
	driver := newFakeDriver()
	m := NewMachine(store, driver, &fakeDNS{}, &fakeSubscription{}, &fakeBackups{}, &fakeNotifier{}, nil, slog.Default())

	if err := m.Apply(context.Background(), "t1", TriggerOverdueD7, CauseTimer, "dunning tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if driver.scaledTo[tenant.WordPressDeploymentName("t1")] != 0 {
		t.Fatalf("expected deployment scaled to 0, got %v", driver.scaledTo)
	}
}

func TestApply_PaymentConfirmedReactivatesAndClearsAnchor(t *testing.T) {
	store := newFakeStore("t1", Suspended)
	anchor := time.Now()
	row := store.rows["t1"]
	row.GraceAnchor = &anchor
	store.rows["t1"] = row

	driver := newFakeDriver()
	notifier := &fakeNotifier{}
	m := NewMachine(store, driver, &fakeDNS{}, &fakeSubscription{}, &fakeBackups{}, notifier, nil, slog.Default())

	if err := m.Apply(context.Background(), "t1", PaymentConfirmed, CausePayment, "payment confirmed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.rows["t1"].State != string(Active) {
		t.Fatalf("expected Active, got %s", store.rows["t1"].State)
	}
	if store.rows["t1"].GraceAnchor != nil {
		t.Fatal("expected grace anchor cleared")
	}
	if driver.scaledTo[tenant.WordPressDeploymentName("t1")] != 1 {
		t.Fatalf("expected deployment scaled back to 1, got %v", driver.scaledTo)
	}
}

func TestApply_ScheduledForDeletionTriggersFinalBackupAndSetsDueAt(t *testing.T) {
	store := newFakeStore("t1", FinalWarningSent)
	backups := &fakeBackups{}
	m := NewMachine(store, newFakeDriver(), &fakeDNS{}, &fakeSubscription{}, backups, &fakeNotifier{}, nil, slog.Default())

	if err := m.Apply(context.Background(), "t1", TriggerOverdueD30, CauseTimer, "dunning tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(backups.taken) != 1 || backups.taken[0] != "t1:final" {
		t.Fatalf("expected a final backup to be taken, got %v", backups.taken)
	}
	if store.rows["t1"].DeletionDueAt == nil {
		t.Fatal("expected deletion_due_at to be set")
	}
}

func TestApply_DeletedCancelsSubscriptionAndDeletesDNS(t *testing.T) {
	store := newFakeStore("t1", ScheduledForDeletion)
	row := store.rows["t1"]
	row.SubscriptionRef = "sub-123"
	store.rows["t1"] = row

	dns := &fakeDNS{}
	sub := &fakeSubscription{}
	driver := newFakeDriver()
	m := NewMachine(store, driver, dns, sub, &fakeBackups{}, &fakeNotifier{}, nil, slog.Default())

	if err := m.Apply(context.Background(), "t1", DeletionDueElapsed, CauseTimer, "grace window elapsed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.rows["t1"].State != string(Deleted) {
		t.Fatalf("expected Deleted, got %s", store.rows["t1"].State)
	}
	if len(sub.cancelled) != 1 || sub.cancelled[0] != "sub-123" {
		t.Fatalf("expected subscription cancelled, got %v", sub.cancelled)
	}
	if len(dns.deleted) != 1 {
		t.Fatalf("expected DNS record deleted, got %v", dns.deleted)
	}
	if len(driver.deletedNS) != 1 {
		t.Fatalf("expected namespace deleted, got %v", driver.deletedNS)
	}
}

func TestApply_UnknownTriggerInStateIsNoOp(t *testing.T) {
	store := newFakeStore("t1", Active)
	m := NewMachine(store, newFakeDriver(), &fakeDNS{}, &fakeSubscription{}, &fakeBackups{}, &fakeNotifier{}, nil, slog.Default())

	// OverdueD7 is only valid from WarningSent; from Active it must no-op.
	if err := m.Apply(context.Background(), "t1", TriggerOverdueD7, CauseTimer, "dunning tick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows["t1"].State != string(Active) {
		t.Fatalf("expected state unchanged, got %s", store.rows["t1"].State)
	}
	if len(store.events) != 0 {
		t.Fatalf("expected no lifecycle event recorded for a no-op trigger, got %d", len(store.events))
	}
}
