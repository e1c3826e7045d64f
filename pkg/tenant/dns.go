package tenant

import "context"

// DNSProvider is the narrow collaborator the lifecycle machine and
// provisioner use to point a tenant's domain at the orchestrator's ingress
// and to tear it down on deletion. It deliberately exposes nothing beyond
// what those two callers need — no zone management, no bulk operations.
type DNSProvider interface {
	// UpsertRecord points domain at target (an ingress hostname or IP).
	UpsertRecord(ctx context.Context, domain, target string) error
	// DeleteRecord removes domain's record entirely.
	DeleteRecord(ctx context.Context, domain string) error
}
