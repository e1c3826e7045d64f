package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/pkg/tenant"
)

// RestoreOptions selects which parts of a backup to restore (§4.5 step 8:
// an operator may want the database back without clobbering live files,
// or vice versa).
type RestoreOptions struct {
	Database bool
	Files    bool
}

// Restore locates backupID for tenantID, unpacks it, and replays the
// selected components into the tenant's live pods.
func (e *Engine) Restore(ctx context.Context, tenantID, backupID string, opts RestoreOptions) error {
	unlock := e.locks.Lock(tenantID)
	defer unlock()

	record, err := e.Records.GetBackupRecord(ctx, tenantID, backupID)
	if err != nil {
		return fmt.Errorf("load backup record: %w", err)
	}

	key, err := e.Store.FindKey(ctx, tenantID, backupID)
	if err != nil {
		return fmt.Errorf("locate backup: %w", err)
	}

	tarball, err := e.Store.GetObject(ctx, key)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}

	if err := verifyChecksum(tarball, record.Checksum); err != nil {
		return err
	}

	files, err := extractTarball(tarball)
	if err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}

	if opts.Database {
		dump, ok := files["database.sql.gz"]
		if !ok {
			return fmt.Errorf("archive %s has no database.sql.gz", key)
		}
		if err := e.restoreDatabase(ctx, tenantID, dump); err != nil {
			return fmt.Errorf("restore database: %w", err)
		}
	}

	if opts.Files {
		archive, ok := files["wordpress_files.tar.gz"]
		if !ok {
			return fmt.Errorf("archive %s has no wordpress_files.tar.gz", key)
		}
		if err := e.restoreFiles(ctx, tenantID, archive); err != nil {
			return fmt.Errorf("restore files: %w", err)
		}
	}

	e.Logger.Info("restore completed", "tenant_id", tenantID, "backup_id", backupID, "database", opts.Database, "files", opts.Files)
	return nil
}

// restoreDatabase pipes the gzip-compressed SQL dump back into mysql
// inside the tenant's database pod (reverse of §4.5 step 1).
func (e *Engine) restoreDatabase(ctx context.Context, tenantID string, dump []byte) error {
	selector := "app=" + tenant.DatabaseDeploymentName(tenantID)
	cmd := []string{"sh", "-c", "gunzip -c | mysql"}
	_, err := e.Executor.Run(ctx, tenantID, selector, cmd, dump, 0)
	return err
}

// restoreFiles untars the content archive back into the WordPress pod's
// content directory (reverse of §4.5 step 2).
func (e *Engine) restoreFiles(ctx context.Context, tenantID string, archive []byte) error {
	selector := "app=" + tenant.WordPressDeploymentName(tenantID)
	cmd := []string{"tar", "-xzf", "-", "-C", "/var/www/html"}
	_, err := e.Executor.Run(ctx, tenantID, selector, cmd, archive, 0)
	return err
}

// verifyChecksum recomputes the SHA-256 of a downloaded archive and
// compares it against the checksum recorded at backup time (§3 BackupRecord
// invariant, §8 round-trip property) — a silent restore from a corrupted
// or tampered object would otherwise go undetected.
func verifyChecksum(tarball []byte, want string) error {
	sum := sha256.Sum256(tarball)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return &errkind.InvariantViolation{
			What: fmt.Sprintf("backup checksum mismatch: recorded %s, downloaded object hashes to %s", want, got),
		}
	}
	return nil
}

// extractTarball reverses buildTarball, returning each member by name.
func extractTarball(data []byte) (map[string][]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	out := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		out[hdr.Name] = content
	}
	return out, nil
}
