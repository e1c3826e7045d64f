// Package orchestrator is the only component that speaks the container
// orchestrator's protocol (§4.1). Every operation is idempotent by the name
// derived from TenantID: read first, create only if absent, patch only if
// desired state differs from observed.
package orchestrator

import (
	"context"
	"time"
)

// ReadyRef identifies a workload the caller should wait on with WaitReady.
type ReadyRef struct {
	Namespace string
	Name      string
	Kind      string // Deployment, StatefulSet
}

// SecretRef and ConfigRef are opaque handles returned by EnsureSecret/EnsureConfig.
type SecretRef struct{ Namespace, Name string }
type ConfigRef struct{ Namespace, Name string }

// IngressRef is returned by EnsureIngress.
type IngressRef struct {
	Namespace string
	Name      string
	Host      string
}

// ExecResult is the outcome of a command run via ExecInPod.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Driver converts high-level tenant intents into orchestrator primitives.
// The naming scheme (namespace, wp-<id>, db-<id>, ...) is permanent — see
// pkg/tenant for the derivation functions every implementation must use.
type Driver interface {
	EnsureNamespace(ctx context.Context, tenantID string) (string, error)
	EnsureSecret(ctx context.Context, tenantID, name string, data map[string]string) (SecretRef, error)
	EnsureConfig(ctx context.Context, tenantID, name string, data map[string]string) (ConfigRef, error)
	EnsureDatabaseDeployment(ctx context.Context, tenantID string, rootPass, userPass string) (ReadyRef, error)
	EnsureWordPressDeployment(ctx context.Context, tenantID, domain string, adminUser, adminPassword string) (ReadyRef, error)
	WaitReady(ctx context.Context, ref ReadyRef, deadline time.Duration) error
	EnsureIngress(ctx context.Context, tenantID, domain, tlsSecretName string) (IngressRef, error)
	ScaleDeployment(ctx context.Context, tenantID, name string, replicas int32) error
	DeleteNamespace(ctx context.Context, tenantID string) error
	ExecInPod(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte) (ExecResult, error)
	// EnsureBackupCron materializes the daily backup schedule (§4.2 step 10).
	EnsureBackupCron(ctx context.Context, tenantID, schedule string) error
}
