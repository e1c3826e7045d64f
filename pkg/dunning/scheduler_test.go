package dunning

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

type fakeTenantStore struct {
	rows   map[string]db.TenantRow
	events []db.LifecycleEventRow
}

func (f *fakeTenantStore) GetTenant(ctx context.Context, id string) (db.TenantRow, error) {
	row, ok := f.rows[id]
	if !ok {
		return db.TenantRow{}, db.ErrNotFound
	}
	return row, nil
}
func (f *fakeTenantStore) UpdateTenantState(ctx context.Context, id, state string, since time.Time) error {
	row := f.rows[id]
	row.State = state
	f.rows[id] = row
	return nil
}
func (f *fakeTenantStore) SetGraceAnchor(ctx context.Context, id string, anchor *time.Time) error {
	row := f.rows[id]
	row.GraceAnchor = anchor
	f.rows[id] = row
	return nil
}
func (f *fakeTenantStore) SetDeletionDueAt(ctx context.Context, id string, due *time.Time) error {
	row := f.rows[id]
	row.DeletionDueAt = due
	f.rows[id] = row
	return nil
}
func (f *fakeTenantStore) AppendLifecycleEvent(ctx context.Context, e db.LifecycleEventRow) error {
	f.events = append(f.events, e)
	return nil
}
func (f *fakeTenantStore) ListTenantsByStates(ctx context.Context, states []string) ([]db.TenantRow, error) {
	want := map[string]bool{}
	for _, s := range states {
		want[s] = true
	}
	var out []db.TenantRow
	for _, row := range f.rows {
		if want[row.State] {
			out = append(out, row)
		}
	}
	return out, nil
}

type noopDriver struct{}

func (noopDriver) EnsureNamespace(ctx context.Context, tenantID string) (string, error) { return "", nil }
func (noopDriver) EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.SecretRef, error) {
	return orchestrator.SecretRef{}, nil
}
func (noopDriver) EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.ConfigRef, error) {
	return orchestrator.ConfigRef{}, nil
}
func (noopDriver) EnsureDatabaseDeployment(ctx context.Context, tenantID string, rootPass, userPass string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (noopDriver) EnsureWordPressDeployment(ctx context.Context, tenantID, domain string, adminUser, adminPassword string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (noopDriver) WaitReady(ctx context.Context, ref orchestrator.ReadyRef, deadline time.Duration) error {
	return nil
}
func (noopDriver) EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (orchestrator.IngressRef, error) {
	return orchestrator.IngressRef{}, nil
}
func (noopDriver) ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error {
	return nil
}
func (noopDriver) DeleteNamespace(ctx context.Context, tenantID string) error { return nil }
func (noopDriver) ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (orchestrator.ExecResult, error) {
	return orchestrator.ExecResult{}, nil
}
func (noopDriver) EnsureBackupCron(ctx context.Context, tenantID, schedule string) error { return nil }

type noopDNS struct{}

func (noopDNS) UpsertRecord(ctx context.Context, domain, target string) error { return nil }
func (noopDNS) DeleteRecord(ctx context.Context, domain string) error        { return nil }

type noopSubscription struct{}

func (noopSubscription) CancelSubscription(ctx context.Context, ref string) error { return nil }

type noopBackups struct{}

func (noopBackups) Take(ctx context.Context, tenantID, kind string) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(ctx context.Context, tenantID string, kind lifecycle.NotificationKind) error {
	return nil
}

type alwaysAcquireLock struct{ acquired bool }

func (l *alwaysAcquireLock) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	l.acquired = true
	return true, nil
}
func (l *alwaysAcquireLock) AdvisoryUnlock(ctx context.Context, key int64) error { return nil }

type neverAcquireLock struct{}

func (neverAcquireLock) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) { return false, nil }
func (neverAcquireLock) AdvisoryUnlock(ctx context.Context, key int64) error          { return nil }

type fakeGateway struct {
	overdue map[string][]OverdueInvoice
}

func (g *fakeGateway) ListOverdueInvoices(ctx context.Context, subscriptionRef string) ([]OverdueInvoice, error) {
	return g.overdue[subscriptionRef], nil
}

func newTestScheduler(store *fakeTenantStore, gateway *fakeGateway, lock LeaderLock) *Scheduler {
	machine := lifecycle.NewMachine(store, noopDriver{}, noopDNS{}, noopSubscription{}, noopBackups{}, noopNotifier{}, nil, slog.Default())
	return New(store, lock, gateway, machine, slog.Default())
}

func TestTick_EscalatesActiveTenantPastD3(t *testing.T) {
	store := &fakeTenantStore{rows: map[string]db.TenantRow{
		"t1": {ID: "t1", State: string(lifecycle.Active), SubscriptionRef: "sub-1", Domain: "t1.example.com"},
	}}
	gateway := &fakeGateway{overdue: map[string][]OverdueInvoice{
		"sub-1": {{ID: "inv-1", DueDate: time.Now().Add(-4 * 24 * time.Hour)}},
	}}
	sched := newTestScheduler(store, gateway, &alwaysAcquireLock{})

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if store.rows["t1"].State != string(lifecycle.WarningSent) {
		t.Fatalf("expected WarningSent, got %s", store.rows["t1"].State)
	}
}

func TestTick_SkipsWhenLeaderLockNotAcquired(t *testing.T) {
	store := &fakeTenantStore{rows: map[string]db.TenantRow{
		"t1": {ID: "t1", State: string(lifecycle.Active), SubscriptionRef: "sub-1"},
	}}
	gateway := &fakeGateway{overdue: map[string][]OverdueInvoice{
		"sub-1": {{ID: "inv-1", DueDate: time.Now().Add(-40 * 24 * time.Hour)}},
	}}
	sched := newTestScheduler(store, gateway, neverAcquireLock{})

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows["t1"].State != string(lifecycle.Active) {
		t.Fatalf("expected no transition when lock not acquired, got %s", store.rows["t1"].State)
	}
}

func TestTick_NeverMoreThanOneTransitionPerTenantPerTick(t *testing.T) {
	store := &fakeTenantStore{rows: map[string]db.TenantRow{
		"t1": {ID: "t1", State: string(lifecycle.Active), SubscriptionRef: "sub-1", Domain: "t1.example.com"},
	}}
	gateway := &fakeGateway{overdue: map[string][]OverdueInvoice{
		"sub-1": {{ID: "inv-1", DueDate: time.Now().Add(-40 * 24 * time.Hour)}},
	}}
	sched := newTestScheduler(store, gateway, &alwaysAcquireLock{})

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 40 days overdue clears every threshold, but nextRungTrigger only offers
	// Active its D3 rung — exactly one transition occurs, not a jump to
	// ScheduledForDeletion.
	if store.rows["t1"].State != string(lifecycle.WarningSent) {
		t.Fatalf("expected single-step transition to WarningSent, got %s", store.rows["t1"].State)
	}
}

func TestTick_ExpiresDeletionWindow(t *testing.T) {
	due := time.Now().Add(-time.Minute)
	store := &fakeTenantStore{rows: map[string]db.TenantRow{
		"t1": {ID: "t1", State: string(lifecycle.ScheduledForDeletion), DeletionDueAt: &due, Domain: "t1.example.com"},
	}}
	sched := newTestScheduler(store, &fakeGateway{}, &alwaysAcquireLock{})

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows["t1"].State != string(lifecycle.Deleted) {
		t.Fatalf("expected Deleted, got %s", store.rows["t1"].State)
	}
}

func TestTick_DoesNotExpireDeletionBeforeDue(t *testing.T) {
	due := time.Now().Add(time.Hour)
	store := &fakeTenantStore{rows: map[string]db.TenantRow{
		"t1": {ID: "t1", State: string(lifecycle.ScheduledForDeletion), DeletionDueAt: &due},
	}}
	sched := newTestScheduler(store, &fakeGateway{}, &alwaysAcquireLock{})

	if err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.rows["t1"].State != string(lifecycle.ScheduledForDeletion) {
		t.Fatalf("expected state unchanged, got %s", store.rows["t1"].State)
	}
}

func TestNextRungTrigger(t *testing.T) {
	cases := []struct {
		state tenant.State
		days  int
		want  string
		ok    bool
	}{
		{lifecycle.Active, 0, "", false},
		{lifecycle.Active, 2, "", false},
		{lifecycle.Active, 3, string(lifecycle.TriggerOverdueD3), true},
		{lifecycle.Active, 40, string(lifecycle.TriggerOverdueD3), true},
		{lifecycle.WarningSent, 6, "", false},
		{lifecycle.WarningSent, 7, string(lifecycle.TriggerOverdueD7), true},
		{lifecycle.Suspended, 15, string(lifecycle.TriggerOverdueD15), true},
		{lifecycle.FinalWarningSent, 30, string(lifecycle.TriggerOverdueD30), true},
		{lifecycle.ScheduledForDeletion, 60, "", false},
	}
	for _, c := range cases {
		trig, ok := nextRungTrigger(c.state, c.days)
		if ok != c.ok || string(trig) != c.want {
			t.Fatalf("state=%s days=%d: got (%s, %v), want (%s, %v)", c.state, c.days, trig, ok, c.want, c.ok)
		}
	}
}
