// Package provisioner implements the Provisioner (§4.2): a single, bounded
// workflow that brings a new tenant from nothing to a Ready WordPress site,
// rolling back everything it created on hard failure. Step completion is not
// recorded, so a failed run is rolled back rather than resumed.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/internal/eventbus"
	"github.com/hostfleet/controlplane/internal/keyedmutex"
	"github.com/hostfleet/controlplane/internal/retry"
	"github.com/hostfleet/controlplane/pkg/executor"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// Request is the ProvisionRequest from spec.md §4.2.
type Request struct {
	BusinessName   string
	Domain         string
	Industry       string
	Plan           tenant.PlanTier
	OwnerUserID    string
	TemplateID     string
	FieldOverrides map[string]string
}

// TenantStore is the narrow persistence slice Provisioner needs.
type TenantStore interface {
	InsertTenant(ctx context.Context, t db.TenantRow) error
	GetTenant(ctx context.Context, id string) (db.TenantRow, error)
	GetTenantByDomain(ctx context.Context, domain string) (db.TenantRow, error)
	UpdateTenantState(ctx context.Context, id, state string, since time.Time) error
	AppendLifecycleEvent(ctx context.Context, e db.LifecycleEventRow) error
}

// WaitReadyTimeout bounds each of the two WaitReady calls (§4.2 steps 4-5).
const WaitReadyTimeout = 5 * time.Minute

// PostHook is a pluggable collaborator invoked after the WP-CLI and plugin
// steps (§4.2 step 9): apply-template, configure field groups, etc. The
// provisioner only hands it a tenant handle and waits for success/failure.
type PostHook interface {
	Name() string
	Apply(ctx context.Context, tenantID string, templateID string, fieldOverrides map[string]string) error
}

// BackupCronSchedule is the daily cron expression materialized for every
// tenant at provisioning time (§4.2 step 10).
const BackupCronSchedule = "0 3 * * *"

// Provisioner executes Request workflows.
type Provisioner struct {
	Store     TenantStore
	Driver    orchestrator.Driver
	Executor  *executor.Executor
	Bus       *eventbus.Bus
	Logger    *slog.Logger
	PostHooks []PostHook

	locks *keyedmutex.Map
}

// New builds a Provisioner.
func New(store TenantStore, driver orchestrator.Driver, exec *executor.Executor, bus *eventbus.Bus, logger *slog.Logger, hooks ...PostHook) *Provisioner {
	return &Provisioner{
		Store:     store,
		Driver:    driver,
		Executor:  exec,
		Bus:       bus,
		Logger:    logger,
		PostHooks: hooks,
		locks:     keyedmutex.New(),
	}
}

// Execute runs the full workflow described by spec.md §4.2, returning the
// provisioned tenant.Info on success. On hard failure before step 11 it
// rolls back: DeleteNamespace, ProvisioningFailed, credentials zeroed.
//
// Execute is idempotent per domain (§8 round-trip property, E2E scenario 6):
// two concurrent requests for the same domain serialize on the same lock,
// and the loser is handed back the winner's row wrapped in an
// errkind.AlreadyExists instead of minting a second TenantID.
func (p *Provisioner) Execute(ctx context.Context, req Request) (tenant.Info, error) {
	unlock := p.locks.Lock(req.Domain)
	defer unlock()

	if existing, err := p.Store.GetTenantByDomain(ctx, req.Domain); err == nil {
		return infoFromRow(existing), &errkind.AlreadyExists{Domain: req.Domain, TenantID: existing.ID}
	} else if !errors.Is(err, db.ErrNotFound) {
		return tenant.Info{}, fmt.Errorf("checking for existing tenant: %w", err)
	}

	tenantID, err := tenant.NewTenantID(req.BusinessName)
	if err != nil {
		return tenant.Info{}, fmt.Errorf("generating tenant id: %w", err)
	}

	creds, err := tenant.GenerateCredentials(tenantID, req.Domain)
	if err != nil {
		return tenant.Info{}, fmt.Errorf("generating credentials: %w", err)
	}
	defer creds.Zero()

	now := time.Now()
	if err := p.Store.InsertTenant(ctx, db.TenantRow{
		ID:           tenantID,
		BusinessName: req.BusinessName,
		Domain:       req.Domain,
		Industry:     req.Industry,
		Plan:         string(req.Plan),
		OwnerID:      req.OwnerUserID,
		State:        "Provisioning",
		StateSince:   now,
	}); err != nil {
		if db.IsUniqueViolation(err) {
			// Another replica's domain-keyed lock won the race; this one lost.
			existing, getErr := p.Store.GetTenantByDomain(ctx, req.Domain)
			if getErr != nil {
				return tenant.Info{}, fmt.Errorf("recording tenant: %w (and re-reading existing row: %v)", err, getErr)
			}
			return infoFromRow(existing), &errkind.AlreadyExists{Domain: req.Domain, TenantID: existing.ID}
		}
		return tenant.Info{}, fmt.Errorf("recording tenant: %w", err)
	}

	if err := p.provisionInfrastructure(ctx, tenantID, req, creds); err != nil {
		p.rollback(ctx, tenantID, err)
		return tenant.Info{}, fmt.Errorf("provisioning %s: %w", tenantID, err)
	}

	if err := p.Store.UpdateTenantState(ctx, tenantID, "Active", time.Now()); err != nil {
		return tenant.Info{}, fmt.Errorf("activating tenant: %w", err)
	}
	if err := p.Store.AppendLifecycleEvent(ctx, db.LifecycleEventRow{
		TenantID: tenantID, From: "Provisioning", To: "Active", Reason: "provisioned", Cause: "admin", Ts: time.Now(),
	}); err != nil {
		p.Logger.Warn("failed to append provisioning completion event", "tenant_id", tenantID, "error", err)
	}

	if p.Bus != nil {
		p.Bus.Publish(ctx, eventbus.Event{
			ID:       tenantID + ":provisioned",
			Type:     eventbus.TenantProvisioned,
			TenantID: tenantID,
		})
	}

	p.Logger.Info("tenant provisioned", "tenant_id", tenantID, "domain", req.Domain, "plan", req.Plan)

	return tenant.Info{
		TenantID:       tenantID,
		BusinessName:   req.BusinessName,
		Domain:         req.Domain,
		Industry:       req.Industry,
		PlanTier:       req.Plan,
		OwnerUserID:    req.OwnerUserID,
		LifecycleState: tenant.State("Active"),
		LifecycleSince: time.Now(),
		Infrastructure: tenant.NewInfrastructureRef(tenantID),
	}, nil
}

// provisionInfrastructure runs steps 3-10. Any error here is treated as
// hard failure by Execute and triggers rollback.
func (p *Provisioner) provisionInfrastructure(ctx context.Context, tenantID string, req Request, creds tenant.Credentials) error {
	if _, err := p.Driver.EnsureNamespace(ctx, tenantID); err != nil {
		return fmt.Errorf("ensure namespace: %w", err)
	}

	if _, err := p.Driver.EnsureSecret(ctx, tenantID, tenant.SecretName(tenantID, "db"), map[string]string{
		"root_password": creds.DBRootPass,
		"user_password": creds.DBUserPass,
	}); err != nil {
		return fmt.Errorf("ensure db secret: %w", err)
	}
	if _, err := p.Driver.EnsureSecret(ctx, tenantID, tenant.SecretName(tenantID, "wp"), map[string]string{
		"admin_user":     creds.AdminUser,
		"admin_password": creds.AdminPassword,
		"admin_email":    creds.AdminEmail,
	}); err != nil {
		return fmt.Errorf("ensure wp secret: %w", err)
	}
	if _, err := p.Driver.EnsureConfig(ctx, tenantID, "ingress-proxy", map[string]string{
		"domain": req.Domain,
	}); err != nil {
		return fmt.Errorf("ensure ingress config: %w", err)
	}

	dbReady, err := p.Driver.EnsureDatabaseDeployment(ctx, tenantID, creds.DBRootPass, creds.DBUserPass)
	if err != nil {
		return fmt.Errorf("ensure database deployment: %w", err)
	}
	if err := p.Driver.WaitReady(ctx, dbReady, WaitReadyTimeout); err != nil {
		return fmt.Errorf("wait for database ready: %w", err)
	}

	wpReady, err := p.Driver.EnsureWordPressDeployment(ctx, tenantID, req.Domain, creds.AdminUser, creds.AdminPassword)
	if err != nil {
		return fmt.Errorf("ensure wordpress deployment: %w", err)
	}
	if err := p.Driver.WaitReady(ctx, wpReady, WaitReadyTimeout); err != nil {
		return fmt.Errorf("wait for wordpress ready: %w", err)
	}

	if _, err := p.Driver.EnsureIngress(ctx, tenantID, req.Domain, tenant.SecretName(tenantID, "tls")); err != nil {
		return fmt.Errorf("ensure ingress: %w", err)
	}

	if err := p.installWordPress(ctx, tenantID, req.Domain, creds); err != nil {
		return fmt.Errorf("wordpress install: %w", err)
	}

	p.installPlugins(ctx, tenantID, req.Industry, req.Plan)

	if err := p.runPostHooks(ctx, tenantID, req.TemplateID, req.FieldOverrides); err != nil {
		return fmt.Errorf("post-hooks: %w", err)
	}

	if err := retry.Do(ctx, retry.StepPolicy, func(ctx context.Context) error {
		return p.Driver.EnsureBackupCron(ctx, tenantID, BackupCronSchedule)
	}); err != nil {
		return fmt.Errorf("ensure backup cron: %w", err)
	}

	return nil
}

// wpInstallSequence is the fixed ordered WP-CLI command list (§4.2 step 7).
// Every command must succeed; a non-zero exit aborts the workflow.
func wpInstallSequence(domain string, creds tenant.Credentials) [][]string {
	return [][]string{
		{"wp", "core", "download", "--path=/var/www/html"},
		{"wp", "config", "create", "--dbname=wordpress", "--dbuser=wp", "--dbpass=" + creds.DBUserPass, "--dbhost=127.0.0.1"},
		{"wp", "core", "install",
			"--url=https://" + domain,
			"--title=" + domain,
			"--admin_user=" + creds.AdminUser,
			"--admin_password=" + creds.AdminPassword,
			"--admin_email=" + creds.AdminEmail,
		},
		{"wp", "option", "update", "timezone_string", "UTC"},
		{"wp", "rewrite", "structure", "/%postname%/"},
		{"wp", "plugin", "delete", "hello", "akismet"},
		{"wp", "theme", "delete", "twentytwentyone"},
	}
}

func (p *Provisioner) installWordPress(ctx context.Context, tenantID, domain string, creds tenant.Credentials) error {
	selector := "app=" + tenant.WordPressDeploymentName(tenantID)
	return p.Executor.RunSequence(ctx, tenantID, selector, wpInstallSequence(domain, creds), 0)
}

// installPlugins installs the industry-and-plan-keyed plugin set. A
// failing plugin is logged but never aborts the workflow (§4.2 step 8).
func (p *Provisioner) installPlugins(ctx context.Context, tenantID, industry string, plan tenant.PlanTier) {
	plugins := pluginsFor(industry, plan)
	if len(plugins) == 0 {
		return
	}

	selector := "app=" + tenant.WordPressDeploymentName(tenantID)
	var cmds [][]string
	for _, slug := range plugins {
		cmds = append(cmds, []string{"wp", "plugin", "install", slug, "--activate"})
	}

	failures := p.Executor.RunSoftSequence(ctx, tenantID, selector, cmds, 0, p.Logger)
	if len(failures) > 0 {
		p.Logger.Warn("some plugins failed to install", "tenant_id", tenantID, "failure_count", len(failures))
	}
}

func (p *Provisioner) runPostHooks(ctx context.Context, tenantID, templateID string, overrides map[string]string) error {
	for _, hook := range p.PostHooks {
		if err := hook.Apply(ctx, tenantID, templateID, overrides); err != nil {
			return fmt.Errorf("post-hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

// rollback implements the §4.2 failure policy: delete the namespace,
// transition to ProvisioningFailed, and record why.
func (p *Provisioner) rollback(ctx context.Context, tenantID string, cause error) {
	p.Logger.Error("provisioning failed, rolling back", "tenant_id", tenantID, "error", cause)

	if err := p.Driver.DeleteNamespace(ctx, tenantID); err != nil {
		p.Logger.Error("rollback: delete namespace failed", "tenant_id", tenantID, "error", err)
	}

	if err := p.Store.UpdateTenantState(ctx, tenantID, "ProvisioningFailed", time.Now()); err != nil {
		p.Logger.Error("rollback: state update failed", "tenant_id", tenantID, "error", err)
		return
	}

	if err := p.Store.AppendLifecycleEvent(ctx, db.LifecycleEventRow{
		TenantID: tenantID, From: "Provisioning", To: "ProvisioningFailed", Reason: cause.Error(), Cause: "admin", Ts: time.Now(),
	}); err != nil {
		p.Logger.Error("rollback: lifecycle event append failed", "tenant_id", tenantID, "error", err)
	}
}

// infoFromRow converts a persisted tenants row back into a tenant.Info,
// used to answer a duplicate ProvisionRequest with the pre-existing tenant
// rather than minting a second one.
func infoFromRow(row db.TenantRow) tenant.Info {
	return tenant.Info{
		TenantID:          row.ID,
		BusinessName:      row.BusinessName,
		Domain:            row.Domain,
		Industry:          row.Industry,
		PlanTier:          tenant.PlanTier(row.Plan),
		OwnerUserID:       row.OwnerID,
		LifecycleState:    tenant.State(row.State),
		LifecycleSince:    row.StateSince,
		GracePeriodAnchor: row.GraceAnchor,
		DeletionDueAt:     row.DeletionDueAt,
		Infrastructure:    tenant.NewInfrastructureRef(row.ID),
		SubscriptionRef:   row.SubscriptionRef,
	}
}
