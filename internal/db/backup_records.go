package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// BackupRecordRow mirrors the backup_records table (§6).
type BackupRecordRow struct {
	ID             string
	TenantID       string
	Kind           string // daily, weekly, monthly, final
	CreatedAt      time.Time
	SizeBytes      int64
	Checksum       string // sha-256 hex
	ObjectKey      string
	RetentionClass string
}

// InsertBackupRecord records a successful backup.
func (q *Queries) InsertBackupRecord(ctx context.Context, b BackupRecordRow) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO backup_records (id, tenant_id, kind, created_at, size_bytes, checksum, object_key, retention_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, b.ID, b.TenantID, b.Kind, b.CreatedAt, b.SizeBytes, b.Checksum, b.ObjectKey, b.RetentionClass)
	return err
}

// GetBackupRecord loads a backup record by id, scoped to its tenant.
func (q *Queries) GetBackupRecord(ctx context.Context, tenantID, id string) (BackupRecordRow, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, kind, created_at, size_bytes, checksum, object_key, retention_class
		FROM backup_records WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	var b BackupRecordRow
	err := row.Scan(&b.ID, &b.TenantID, &b.Kind, &b.CreatedAt, &b.SizeBytes, &b.Checksum, &b.ObjectKey, &b.RetentionClass)
	if errors.Is(err, pgx.ErrNoRows) {
		return BackupRecordRow{}, ErrNotFound
	}
	return b, err
}

// ListBackupRecords returns every backup for a tenant, newest first.
func (q *Queries) ListBackupRecords(ctx context.Context, tenantID string) ([]BackupRecordRow, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, tenant_id, kind, created_at, size_bytes, checksum, object_key, retention_class
		FROM backup_records WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BackupRecordRow
	for rows.Next() {
		var b BackupRecordRow
		if err := rows.Scan(&b.ID, &b.TenantID, &b.Kind, &b.CreatedAt, &b.SizeBytes, &b.Checksum, &b.ObjectKey, &b.RetentionClass); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
