// Package seed loads a handful of demo tenants spanning the lifecycle so a
// developer can exercise dunning, backup, and admin-API flows against a
// freshly migrated local database without running a real provisioning pass.
package seed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/pkg/lifecycle"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// Store is the narrow persistence slice Run needs.
type Store interface {
	InsertTenant(ctx context.Context, t db.TenantRow) error
	AppendLifecycleEvent(ctx context.Context, e db.LifecycleEventRow) error
}

type demoTenant struct {
	businessName string
	domain       string
	industry     string
	plan         tenant.PlanTier
	state        lifecycle.State
	graceAnchor  *time.Duration // how far back to date StateSince and the seed event, if any; no grace_anchor is written
}

func demoTenants() []demoTenant {
	threeDays := 3 * 24 * time.Hour
	twelveDays := 12 * 24 * time.Hour
	return []demoTenant{
		{"Acme Bakery", "acme-bakery.demo.local", "restaurant", tenant.PlanStarter, lifecycle.Active, nil},
		{"Sunrise Clinic", "sunrise-clinic.demo.local", "healthcare", tenant.PlanProfessional, lifecycle.WarningSent, &threeDays},
		{"Bolt Outfitters", "bolt-outfitters.demo.local", "ecommerce", tenant.PlanBusiness, lifecycle.Suspended, &twelveDays},
		{"Keystone Academy", "keystone-academy.demo.local", "education", tenant.PlanAgency, lifecycle.FinalWarningSent, &twelveDays},
		{"Havenwood Realty", "havenwood-realty.demo.local", "real-estate", tenant.PlanStarter, lifecycle.ScheduledForDeletion, nil},
	}
}

// Run inserts the demo tenant fixtures. Intended for local/dev databases
// only — cmd/hostfleetd runs it only when the seed-demo mode was chosen
// explicitly (HOSTFLEET_MODE=seed-demo or -mode seed-demo).
func Run(ctx context.Context, store Store, logger *slog.Logger) error {
	now := time.Now()

	for i, dt := range demoTenants() {
		id, err := tenant.NewTenantID(dt.businessName)
		if err != nil {
			return fmt.Errorf("generating id for demo tenant %q: %w", dt.businessName, err)
		}
		id = fmt.Sprintf("%s-demo%d", id, i)

		since := now
		if dt.graceAnchor != nil {
			since = now.Add(-*dt.graceAnchor)
		}

		if err := store.InsertTenant(ctx, db.TenantRow{
			ID:           id,
			BusinessName: dt.businessName,
			Domain:       dt.domain,
			Industry:     dt.industry,
			Plan:         string(dt.plan),
			OwnerID:      "demo-owner-" + id,
			State:        string(dt.state),
			StateSince:   since,
		}); err != nil {
			return fmt.Errorf("inserting demo tenant %s: %w", id, err)
		}

		if err := store.AppendLifecycleEvent(ctx, db.LifecycleEventRow{
			TenantID: id, From: "Provisioning", To: string(dt.state), Reason: "seed-demo fixture", Cause: "admin", Ts: since,
		}); err != nil {
			return fmt.Errorf("recording demo lifecycle event for %s: %w", id, err)
		}

		logger.Info("seeded demo tenant", "tenant_id", id, "state", dt.state)
	}

	return nil
}
