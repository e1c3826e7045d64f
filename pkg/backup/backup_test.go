package backup

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hostfleet/controlplane/internal/db"
	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/pkg/executor"
	"github.com/hostfleet/controlplane/pkg/orchestrator"
)

// fakeDriver simulates pod exec without a real cluster: mysqldump calls
// return a canned SQL blob, tar calls return a canned archive blob.
type fakeDriver struct {
	execCalls []string
}

func (f *fakeDriver) EnsureNamespace(ctx context.Context, tenantID string) (string, error) {
	return "client-" + tenantID, nil
}
func (f *fakeDriver) EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.SecretRef, error) {
	return orchestrator.SecretRef{}, nil
}
func (f *fakeDriver) EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (orchestrator.ConfigRef, error) {
	return orchestrator.ConfigRef{}, nil
}
func (f *fakeDriver) EnsureDatabaseDeployment(ctx context.Context, tenantID, rootPass, userPass string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (f *fakeDriver) EnsureWordPressDeployment(ctx context.Context, tenantID, domain, adminUser, adminPassword string) (orchestrator.ReadyRef, error) {
	return orchestrator.ReadyRef{}, nil
}
func (f *fakeDriver) WaitReady(ctx context.Context, ref orchestrator.ReadyRef, deadline time.Duration) error {
	return nil
}
func (f *fakeDriver) EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (orchestrator.IngressRef, error) {
	return orchestrator.IngressRef{}, nil
}
func (f *fakeDriver) ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error {
	return nil
}
func (f *fakeDriver) DeleteNamespace(ctx context.Context, tenantID string) error { return nil }
func (f *fakeDriver) EnsureBackupCron(ctx context.Context, tenantID, schedule string) error {
	return nil
}

func (f *fakeDriver) ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (orchestrator.ExecResult, error) {
	f.execCalls = append(f.execCalls, podSelector)
	joined := strings.Join(cmd, " ")
	switch {
	case strings.Contains(joined, "mysqldump"):
		return orchestrator.ExecResult{Stdout: "fake-sql-dump-gz"}, nil
	case strings.Contains(joined, "tar -czf"):
		return orchestrator.ExecResult{Stdout: "fake-files-tar-gz"}, nil
	default:
		return orchestrator.ExecResult{}, nil
	}
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (s *fakeObjectStore) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string, storageClass string) error {
	s.objects[key] = body
	return nil
}

func (s *fakeObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	b, ok := s.objects[key]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (s *fakeObjectStore) FindKey(ctx context.Context, tenantID, backupID string) (string, error) {
	for _, kind := range backupKinds {
		key := kind + "/" + tenantID + "/" + backupID + ".tar.gz"
		if _, ok := s.objects[key]; ok {
			return key, nil
		}
	}
	return "", errNotFound
}

type fakeRecorder struct {
	records map[string]db.BackupRecordRow
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{records: make(map[string]db.BackupRecordRow)}
}

func (r *fakeRecorder) InsertBackupRecord(ctx context.Context, b db.BackupRecordRow) error {
	r.records[b.TenantID+"/"+b.ID] = b
	return nil
}

func (r *fakeRecorder) GetBackupRecord(ctx context.Context, tenantID, id string) (db.BackupRecordRow, error) {
	b, ok := r.records[tenantID+"/"+id]
	if !ok {
		return db.BackupRecordRow{}, errNotFound
	}
	return b, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

const errNotFound = simpleErr("not found")

func testEngine() (*Engine, *fakeDriver, *fakeObjectStore) {
	driver := &fakeDriver{}
	store := newFakeObjectStore()
	records := newFakeRecorder()
	eng := New(executor.New(driver), store, records, slog.Default())
	return eng, driver, store
}

func TestTake_UploadsSelfDescribingArchiveAndRecordsIt(t *testing.T) {
	eng, driver, store := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "daily")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	if record.Kind != "daily" || record.TenantID != "acme-abc123" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ObjectKey == "" || !strings.HasPrefix(record.ObjectKey, "daily/acme-abc123/") {
		t.Fatalf("unexpected object key: %s", record.ObjectKey)
	}
	if _, ok := store.objects[record.ObjectKey]; !ok {
		t.Fatalf("archive not uploaded under %s", record.ObjectKey)
	}
	if record.RetentionClass != "30d" {
		t.Fatalf("expected 30d retention for daily, got %s", record.RetentionClass)
	}
	if len(driver.execCalls) != 3 {
		t.Fatalf("expected exactly 3 pod exec calls (db dump + files archive + wp version), got %d", len(driver.execCalls))
	}
}

func TestTake_ArchiveContainsAllThreeMembers(t *testing.T) {
	eng, _, store := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "weekly")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	files, err := extractTarball(store.objects[record.ObjectKey])
	if err != nil {
		t.Fatalf("extractTarball: %v", err)
	}
	for _, name := range []string{"database.sql.gz", "wordpress_files.tar.gz", "metadata.json"} {
		if _, ok := files[name]; !ok {
			t.Fatalf("archive missing member %s", name)
		}
	}
}

func TestTake_MetadataContainsFullFieldSet(t *testing.T) {
	eng, _, store := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "monthly")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}

	files, err := extractTarball(store.objects[record.ObjectKey])
	if err != nil {
		t.Fatalf("extractTarball: %v", err)
	}

	var meta metadata
	if err := json.Unmarshal(files["metadata.json"], &meta); err != nil {
		t.Fatalf("unmarshal metadata.json: %v", err)
	}

	if meta.BackupID != record.ID {
		t.Fatalf("expected backup_id %s, got %s", record.ID, meta.BackupID)
	}
	if meta.TenantID != "acme-abc123" {
		t.Fatalf("expected tenant_id acme-abc123, got %s", meta.TenantID)
	}
	if meta.Timestamp.IsZero() {
		t.Fatal("expected a non-zero timestamp")
	}
	if meta.PHPVersion != phpVersion || meta.MySQLVersion != mysqlVersion {
		t.Fatalf("expected component versions %s/%s, got %s/%s", phpVersion, mysqlVersion, meta.PHPVersion, meta.MySQLVersion)
	}
	if !meta.BackupContents.Database || !meta.BackupContents.Files {
		t.Fatalf("expected backup_contents to report database and files captured, got %+v", meta.BackupContents)
	}
	if meta.RetentionPolicy != "360d" {
		t.Fatalf("expected retention_policy 360d for monthly, got %s", meta.RetentionPolicy)
	}
}

func TestRestore_LocatesAndReplaysSelectedComponents(t *testing.T) {
	eng, driver, _ := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "final")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	driver.execCalls = nil

	if err := eng.Restore(context.Background(), "acme-abc123", record.ID, RestoreOptions{Database: true, Files: true}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(driver.execCalls) != 2 {
		t.Fatalf("expected db restore + files restore exec calls, got %d", len(driver.execCalls))
	}
}

func TestRestore_DatabaseOnlySkipsFiles(t *testing.T) {
	eng, driver, _ := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "final")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	driver.execCalls = nil

	if err := eng.Restore(context.Background(), "acme-abc123", record.ID, RestoreOptions{Database: true}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(driver.execCalls) != 1 {
		t.Fatalf("expected exactly 1 exec call for database-only restore, got %d", len(driver.execCalls))
	}
}

func TestRestore_UnknownBackupIDFails(t *testing.T) {
	eng, _, _ := testEngine()

	err := eng.Restore(context.Background(), "acme-abc123", "does-not-exist", RestoreOptions{Database: true})
	if err == nil {
		t.Fatal("expected error for unknown backup id")
	}
}

func TestRestore_ChecksumMismatchFails(t *testing.T) {
	eng, driver, store := testEngine()

	record, err := eng.Take(context.Background(), "acme-abc123", "final")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	driver.execCalls = nil

	store.objects[record.ObjectKey] = append([]byte(nil), store.objects[record.ObjectKey]...)
	store.objects[record.ObjectKey] = append(store.objects[record.ObjectKey], 0xFF)

	err = eng.Restore(context.Background(), "acme-abc123", record.ID, RestoreOptions{Database: true, Files: true})
	if err == nil {
		t.Fatal("expected checksum mismatch to fail the restore")
	}
	var violation *errkind.InvariantViolation
	if !errors.As(err, &violation) {
		t.Fatalf("expected errkind.InvariantViolation, got %v", err)
	}
	if len(driver.execCalls) != 0 {
		t.Fatalf("expected no pod exec calls after a failed checksum check, got %d", len(driver.execCalls))
	}
}

func TestTake_SerializesConcurrentCallsForSameTenant(t *testing.T) {
	eng, _, _ := testEngine()

	done := make(chan error, 2)
	go func() {
		_, err := eng.Take(context.Background(), "acme-abc123", "daily")
		done <- err
	}()
	go func() {
		_, err := eng.Take(context.Background(), "acme-abc123", "daily")
		done <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Take: %v", err)
		}
	}
}
