package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/keyedmutex"
	"github.com/hostfleet/controlplane/pkg/executor"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// Recorder is the narrow persistence slice Engine needs.
type Recorder interface {
	InsertBackupRecord(ctx context.Context, b db.BackupRecordRow) error
	GetBackupRecord(ctx context.Context, tenantID, id string) (db.BackupRecordRow, error)
}

// Engine implements the BackupEngine (§4.5): Take produces a
// self-describing tarball per tenant and uploads it to object storage
// under a retention class; Restore reverses the process.
type Engine struct {
	Executor *executor.Executor
	Store    ObjectStore
	Records  Recorder
	Logger   *slog.Logger

	locks *keyedmutex.Map
}

// New builds an Engine.
func New(exec *executor.Executor, store ObjectStore, records Recorder, logger *slog.Logger) *Engine {
	return &Engine{Executor: exec, Store: store, Records: records, Logger: logger, locks: keyedmutex.New()}
}

// phpVersion and mysqlVersion are the fixed component versions every
// tenant's managed stack runs (§4.5 step 3) — unlike wordPressVersion,
// these are never queried per-tenant because every pod image is pinned to
// the same PHP/MySQL base.
const (
	phpVersion   = "8.2"
	mysqlVersion = "8.0"
)

// backupContents records which parts of the site a backup actually
// captured (§6 metadata.json contract). Take always backs up everything;
// the field set exists so a restricted backup kind could report less.
type backupContents struct {
	Database        bool `json:"database"`
	Files           bool `json:"files"`
	IncludeUploads  bool `json:"include_uploads"`
	IncludePlugins  bool `json:"include_plugins"`
	IncludeThemes   bool `json:"include_themes"`
}

// metadata is the self-describing companion file bundled into every
// archive (§4.5 step 3, §6). Restore does not read metadata.json back: it
// verifies only the archive's SHA-256 against the BackupRecord checksum.
type metadata struct {
	BackupID         string          `json:"backup_id"`
	TenantID         string          `json:"tenant_id"`
	Timestamp        time.Time       `json:"timestamp"`
	WordPressVersion string          `json:"wordpress_version"`
	PHPVersion       string          `json:"php_version"`
	MySQLVersion     string          `json:"mysql_version"`
	BackupContents   backupContents  `json:"backup_contents"`
	RetentionPolicy  string          `json:"retention_policy"`
}

// Take runs the full backup sequence for tenantID, tagged with a
// retention class (daily, weekly, monthly, final). The backup ID is the
// timestamped basename itself (§6), so Restore's FindKey can locate the
// object without a side index.
func (e *Engine) Take(ctx context.Context, tenantID, kind string) (db.BackupRecordRow, error) {
	unlock := e.locks.Lock(tenantID)
	defer unlock()

	createdAt := time.Now().UTC()
	backupID := fmt.Sprintf("%s_%s_%s", tenantID, kind, createdAt.Format("20060102150405"))

	dbDump, err := e.dumpDatabase(ctx, tenantID)
	if err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("dump database: %w", err)
	}

	filesArchive, err := e.archiveFiles(ctx, tenantID)
	if err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("archive files: %w", err)
	}

	meta := metadata{
		BackupID:         backupID,
		TenantID:         tenantID,
		Timestamp:        createdAt,
		WordPressVersion: e.wordPressVersion(ctx, tenantID),
		PHPVersion:       phpVersion,
		MySQLVersion:     mysqlVersion,
		BackupContents: backupContents{
			Database:       true,
			Files:          true,
			IncludeUploads: true,
			IncludePlugins: true,
			IncludeThemes:  true,
		},
		RetentionPolicy: RetentionClassFor(kind),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("marshal metadata: %w", err)
	}

	tarball, err := buildTarball(map[string][]byte{
		"database.sql.gz":        dbDump,
		"wordpress_files.tar.gz": filesArchive,
		"metadata.json":          metaJSON,
	})
	if err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("assemble tarball: %w", err)
	}

	checksum := sha256.Sum256(tarball)
	key := objectKey(kind, tenantID, backupID)

	if err := e.Store.PutObject(ctx, key, tarball, map[string]string{
		"tenant-id": tenantID,
		"kind":      kind,
		"checksum":  hex.EncodeToString(checksum[:]),
	}, ""); err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("upload archive: %w", err)
	}

	record := db.BackupRecordRow{
		ID:             backupID,
		TenantID:       tenantID,
		Kind:           kind,
		CreatedAt:      createdAt,
		SizeBytes:      int64(len(tarball)),
		Checksum:       hex.EncodeToString(checksum[:]),
		ObjectKey:      key,
		RetentionClass: RetentionClassFor(kind),
	}
	if err := e.Records.InsertBackupRecord(ctx, record); err != nil {
		return db.BackupRecordRow{}, fmt.Errorf("record backup: %w", err)
	}

	e.Logger.Info("backup completed", "tenant_id", tenantID, "backup_id", backupID, "kind", kind, "size_bytes", record.SizeBytes)
	return record, nil
}

// dumpDatabase runs mysqldump inside the tenant's database pod and
// gzip-compresses the result (§4.5 step 1).
func (e *Engine) dumpDatabase(ctx context.Context, tenantID string) ([]byte, error) {
	selector := "app=" + tenant.DatabaseDeploymentName(tenantID)
	cmd := []string{"sh", "-c", "mysqldump --single-transaction --routines --triggers --events --all-databases | gzip -c"}

	result, err := e.Executor.Run(ctx, tenantID, selector, cmd, nil, 0)
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// wordPressVersion queries the live site for its WordPress core version to
// stamp into metadata.json. A failure here must never abort the backup —
// it's recorded as "unknown" instead.
func (e *Engine) wordPressVersion(ctx context.Context, tenantID string) string {
	selector := "app=" + tenant.WordPressDeploymentName(tenantID)
	result, err := e.Executor.Run(ctx, tenantID, selector, []string{"wp", "core", "version"}, nil, 0)
	if err != nil {
		e.Logger.Warn("could not determine wordpress version for backup metadata", "tenant_id", tenantID, "error", err)
		return "unknown"
	}
	return strings.TrimSpace(result.Stdout)
}

// archiveFiles tars the tenant's WordPress content directory from inside
// the WordPress pod (§4.5 step 2).
func (e *Engine) archiveFiles(ctx context.Context, tenantID string) ([]byte, error) {
	selector := "app=" + tenant.WordPressDeploymentName(tenantID)
	cmd := []string{"tar", "-czf", "-", "-C", "/var/www/html", "wp-content"}

	result, err := e.Executor.Run(ctx, tenantID, selector, cmd, nil, 0)
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

// buildTarball packs named byte blobs into a single gzip-compressed tar
// stream, the archive format uploaded to object storage.
func buildTarball(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o640, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// objectKey derives the bit-exact upload key (§4.5 step 5 / §6).
func objectKey(kind, tenantID, backupID string) string {
	return fmt.Sprintf("%s/%s/%s.tar.gz", kind, tenantID, backupID)
}
