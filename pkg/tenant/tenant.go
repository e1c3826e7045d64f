// Package tenant holds the Tenant aggregate: its identity, generated
// credentials, and the deterministic naming scheme that ties it to
// orchestrator objects (§3 Data Model).
package tenant

import (
	"context"
	"time"
)

// PlanTier is one of the four subscription tiers a tenant can provision under.
type PlanTier string

const (
	PlanStarter      PlanTier = "starter"
	PlanProfessional PlanTier = "professional"
	PlanBusiness     PlanTier = "business"
	PlanAgency       PlanTier = "agency"
)

// State is a lifecycle state name; the authoritative transition table lives
// in pkg/lifecycle, this package only carries the current value.
type State string

// Credentials are generated once at provisioning and never recoverable
// after Provisioner.Execute returns (§3, §4.2 step 2). Zero on any failure
// path — see Zero.
type Credentials struct {
	AdminUser     string
	AdminPassword string
	AdminEmail    string
	DBRootPass    string
	DBUserPass    string
	CachePassword string
}

// Zero overwrites every secret field so a failed provisioning run cannot
// leak credentials through a lingering struct value.
func (c *Credentials) Zero() {
	c.AdminPassword = ""
	c.DBRootPass = ""
	c.DBUserPass = ""
	c.CachePassword = ""
}

// InfrastructureRef references the orchestrator objects owned by a tenant,
// deterministically derived from TenantID (§4.1 naming scheme).
type InfrastructureRef struct {
	Namespace          string
	WordPressDeployment string
	DatabaseDeployment string
	ServiceHost        string
}

// Info is the Tenant aggregate.
type Info struct {
	TenantID          string
	BusinessName      string
	Domain            string
	Industry          string
	PlanTier          PlanTier
	OwnerUserID       string
	LifecycleState    State
	LifecycleSince    time.Time
	GracePeriodAnchor *time.Time
	DeletionDueAt     *time.Time
	Infrastructure    InfrastructureRef
	SubscriptionRef   string
}

// Namespace returns the client- prefixed namespace name (§4.1, permanent).
func Namespace(tenantID string) string { return "client-" + tenantID }

// WordPressDeploymentName returns the wp- prefixed deployment name.
func WordPressDeploymentName(tenantID string) string { return "wp-" + tenantID }

// DatabaseDeploymentName returns the db- prefixed deployment name.
func DatabaseDeploymentName(tenantID string) string { return "db-" + tenantID }

// SecretName returns the deterministic secret name for a tenant's kind of secret.
func SecretName(tenantID, kind string) string { return kind + "-" + tenantID }

// NewInfrastructureRef builds the InfrastructureRef for a tenantID using the
// permanent naming scheme.
func NewInfrastructureRef(tenantID string) InfrastructureRef {
	return InfrastructureRef{
		Namespace:           Namespace(tenantID),
		WordPressDeployment: WordPressDeploymentName(tenantID),
		DatabaseDeployment:  DatabaseDeploymentName(tenantID),
		ServiceHost:         "wp-" + tenantID + "." + Namespace(tenantID) + ".svc.cluster.local",
	}
}

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// NewContext attaches a tenant id to ctx, for handlers and workers that need
// to thread the current tenant through without passing it as a parameter.
func NewContext(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// FromContext retrieves the tenant id attached by NewContext.
func FromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tenantIDKey).(string)
	return v, ok
}
