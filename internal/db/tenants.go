package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TenantRow mirrors the tenants table (§6).
type TenantRow struct {
	ID               string
	BusinessName     string
	Domain           string
	Industry         string
	Plan             string
	OwnerID          string
	State            string
	StateSince       time.Time
	GraceAnchor      *time.Time
	DeletionDueAt    *time.Time
	SubscriptionRef  string
	CredentialsBlob  []byte
}

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// InsertTenant creates a new tenant row in the state given by t.State.
func (q *Queries) InsertTenant(ctx context.Context, t TenantRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO tenants (id, business_name, domain, industry, plan, owner_id, state, state_since, subscription_ref, credentials_blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.BusinessName, t.Domain, t.Industry, t.Plan, t.OwnerID, t.State, t.StateSince, t.SubscriptionRef, t.CredentialsBlob)
	return err
}

// GetTenant loads a tenant row by id.
func (q *Queries) GetTenant(ctx context.Context, id string) (TenantRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, business_name, domain, industry, plan, owner_id, state, state_since, grace_anchor, deletion_due_at, subscription_ref, credentials_blob
		FROM tenants WHERE id = $1
	`, id)

	var t TenantRow
	err := row.Scan(&t.ID, &t.BusinessName, &t.Domain, &t.Industry, &t.Plan, &t.OwnerID, &t.State, &t.StateSince, &t.GraceAnchor, &t.DeletionDueAt, &t.SubscriptionRef, &t.CredentialsBlob)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantRow{}, ErrNotFound
	}
	return t, err
}

// GetTenantByDomain loads a tenant row by its unique domain, used by the
// Provisioner to detect a duplicate ProvisionRequest before minting a new
// TenantID (§8 round-trip property).
func (q *Queries) GetTenantByDomain(ctx context.Context, domain string) (TenantRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, business_name, domain, industry, plan, owner_id, state, state_since, grace_anchor, deletion_due_at, subscription_ref, credentials_blob
		FROM tenants WHERE domain = $1
	`, domain)

	var t TenantRow
	err := row.Scan(&t.ID, &t.BusinessName, &t.Domain, &t.Industry, &t.Plan, &t.OwnerID, &t.State, &t.StateSince, &t.GraceAnchor, &t.DeletionDueAt, &t.SubscriptionRef, &t.CredentialsBlob)
	if errors.Is(err, pgx.ErrNoRows) {
		return TenantRow{}, ErrNotFound
	}
	return t, err
}

// UpdateTenantState transitions a tenant's state and stamps state_since.
func (q *Queries) UpdateTenantState(ctx context.Context, id, state string, since time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE tenants SET state = $2, state_since = $3 WHERE id = $1
	`, id, state, since)
	return err
}

// SetGraceAnchor sets or clears the grace-period anchor (§4.3).
func (q *Queries) SetGraceAnchor(ctx context.Context, id string, anchor *time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE tenants SET grace_anchor = $2 WHERE id = $1`, id, anchor)
	return err
}

// SetDeletionDueAt records when a ScheduledForDeletion tenant's grace window elapses.
func (q *Queries) SetDeletionDueAt(ctx context.Context, id string, due *time.Time) error {
	_, err := q.db.Exec(ctx, `UPDATE tenants SET deletion_due_at = $2 WHERE id = $1`, id, due)
	return err
}

// ListTenantsByStates returns every tenant in any of the given states in a
// single unpaged query, used by the DunningScheduler to enumerate
// dunning-eligible tenants.
func (q *Queries) ListTenantsByStates(ctx context.Context, states []string) ([]TenantRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, business_name, domain, industry, plan, owner_id, state, state_since, grace_anchor, deletion_due_at, subscription_ref, credentials_blob
		FROM tenants WHERE state = ANY($1)
	`, states)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TenantRow
	for rows.Next() {
		var t TenantRow
		if err := rows.Scan(&t.ID, &t.BusinessName, &t.Domain, &t.Industry, &t.Plan, &t.OwnerID, &t.State, &t.StateSince, &t.GraceAnchor, &t.DeletionDueAt, &t.SubscriptionRef, &t.CredentialsBlob); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTenant removes a tenant row permanently (called only after the
// Deleted state's side-effects have completed).
func (q *Queries) DeleteTenant(ctx context.Context, id string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	return err
}
