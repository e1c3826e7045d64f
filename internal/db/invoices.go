package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// InvoiceRow mirrors the invoices table (§6) — a local mirror of a gateway invoice.
type InvoiceRow struct {
	ID       string
	TenantID string
	Amount   int64 // minor units
	Currency string
	DueDate  time.Time
	Status   string // pending, confirmed, overdue, refunded, cancelled
}

// UpsertInvoice inserts or refreshes a mirrored invoice.
func (q *Queries) UpsertInvoice(ctx context.Context, inv InvoiceRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO invoices (id, tenant_id, amount, currency, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, due_date = EXCLUDED.due_date
	`, inv.ID, inv.TenantID, inv.Amount, inv.Currency, inv.DueDate, inv.Status)
	return err
}

// GetInvoice loads an invoice by gateway id.
func (q *Queries) GetInvoice(ctx context.Context, id string) (InvoiceRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, amount, currency, due_date, status FROM invoices WHERE id = $1
	`, id)

	var inv InvoiceRow
	err := row.Scan(&inv.ID, &inv.TenantID, &inv.Amount, &inv.Currency, &inv.DueDate, &inv.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoiceRow{}, ErrNotFound
	}
	return inv, err
}

// ListOverdueInvoices returns overdue invoices for a tenant, oldest due date first.
func (q *Queries) ListOverdueInvoices(ctx context.Context, tenantID string) ([]InvoiceRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, amount, currency, due_date, status
		FROM invoices WHERE tenant_id = $1 AND status = 'overdue'
		ORDER BY due_date ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceRow
	for rows.Next() {
		var inv InvoiceRow
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Amount, &inv.Currency, &inv.DueDate, &inv.Status); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
