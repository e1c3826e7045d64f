package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/hostfleet/controlplane/pkg/tenant"
)

// DevDriver is the explicit log-only implementation (§4.1: "this mode must
// be explicit, not implicit"). It simulates success for every operation and
// is selected only when app wiring deliberately chooses it — never as an
// implicit fallback from a failed client construction.
type DevDriver struct {
	Logger *slog.Logger
}

// NewDevDriver constructs a DevDriver. Callers must choose this explicitly,
// e.g. when no kubeconfig is configured at startup.
func NewDevDriver(logger *slog.Logger) *DevDriver {
	return &DevDriver{Logger: logger}
}

func (d *DevDriver) log(op, tenantID string, extra ...any) {
	args := append([]any{"op", op, "tenant_id", tenantID, "mode", "dev"}, extra...)
	d.Logger.Info("orchestrator simulated", args...)
}

func (d *DevDriver) EnsureNamespace(ctx context.Context, tenantID string) (string, error) {
	ns := tenant.Namespace(tenantID)
	d.log("EnsureNamespace", tenantID, "namespace", ns)
	return ns, nil
}

func (d *DevDriver) EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (SecretRef, error) {
	d.log("EnsureSecret", tenantID, "name", name, "keys", len(data))
	return SecretRef{Namespace: tenant.Namespace(tenantID), Name: name}, nil
}

func (d *DevDriver) EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (ConfigRef, error) {
	d.log("EnsureConfig", tenantID, "name", name)
	return ConfigRef{Namespace: tenant.Namespace(tenantID), Name: name}, nil
}

func (d *DevDriver) EnsureDatabaseDeployment(ctx context.Context, tenantID string, rootPass, userPass string) (ReadyRef, error) {
	name := tenant.DatabaseDeploymentName(tenantID)
	d.log("EnsureDatabaseDeployment", tenantID, "deployment", name)
	return ReadyRef{Namespace: tenant.Namespace(tenantID), Name: name, Kind: "Deployment"}, nil
}

func (d *DevDriver) EnsureWordPressDeployment(ctx context.Context, tenantID, domain string, adminUser, adminPassword string) (ReadyRef, error) {
	name := tenant.WordPressDeploymentName(tenantID)
	d.log("EnsureWordPressDeployment", tenantID, "deployment", name, "domain", domain)
	return ReadyRef{Namespace: tenant.Namespace(tenantID), Name: name, Kind: "Deployment"}, nil
}

func (d *DevDriver) WaitReady(ctx context.Context, ref ReadyRef, deadline time.Duration) error {
	d.log("WaitReady", "", "ref", ref.Name)
	return nil
}

func (d *DevDriver) EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (IngressRef, error) {
	d.log("EnsureIngress", tenantID, "domain", domain)
	return IngressRef{Namespace: tenant.Namespace(tenantID), Name: "ingress-" + tenantID, Host: domain}, nil
}

func (d *DevDriver) ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error {
	d.log("ScaleDeployment", tenantID, "name", name, "replicas", replicas)
	return nil
}

func (d *DevDriver) DeleteNamespace(ctx context.Context, tenantID string) error {
	d.log("DeleteNamespace", tenantID)
	return nil
}

func (d *DevDriver) ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (ExecResult, error) {
	d.log("ExecInPod", tenantID, "selector", podSelector, "cmd", cmd)
	return ExecResult{ExitCode: 0, Stdout: "simulated"}, nil
}

func (d *DevDriver) EnsureBackupCron(ctx context.Context, tenantID, schedule string) error {
	d.log("EnsureBackupCron", tenantID, "schedule", schedule)
	return nil
}
