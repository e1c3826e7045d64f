// Package errkind defines the typed error taxonomy shared by every outbound
// collaborator (orchestrator, gateway, object store). Callers dispatch on
// these with errors.As instead of string matching.
package errkind

import "fmt"

// TransientExternalError wraps a failure that is expected to succeed on retry
// (network blips, 5xx, not-ready-yet).
type TransientExternalError struct {
	Op  string
	Err error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Op, e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// PermanentExternalError wraps a failure that retrying will not fix (4xx,
// auth failure, not-found on a delete).
type PermanentExternalError struct {
	Op  string
	Err error
}

func (e *PermanentExternalError) Error() string {
	return fmt.Sprintf("permanent error during %s: %v", e.Op, e.Err)
}

func (e *PermanentExternalError) Unwrap() error { return e.Err }

// ProvisionTimeout means a WaitReady deadline elapsed before the workload
// reported ready.
type ProvisionTimeout struct {
	TenantID string
	Ref      string
}

func (e *ProvisionTimeout) Error() string {
	return fmt.Sprintf("provisioning timeout for tenant %s waiting on %s", e.TenantID, e.Ref)
}

// ExecNonZero means a command run via ExecInPod exited non-zero.
type ExecNonZero struct {
	Cmd      []string
	ExitCode int
	Stderr   string
}

func (e *ExecNonZero) Error() string {
	return fmt.Sprintf("command %v exited %d: %s", e.Cmd, e.ExitCode, e.Stderr)
}

// PodNotFound means ExecInPod could not resolve a pod for the given selector.
type PodNotFound struct {
	TenantID string
	Selector string
}

func (e *PodNotFound) Error() string {
	return fmt.Sprintf("no pod matching selector %q for tenant %s", e.Selector, e.TenantID)
}

// InvariantViolation signals a programming or data-integrity bug: a code
// path assumed a precondition that did not hold.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s", e.What)
}

// WebhookIgnored is a non-error sentinel: the webhook body parsed but names
// an event type this system intentionally drops (not an error, not a defect).
type WebhookIgnored struct {
	EventType string
}

func (e *WebhookIgnored) Error() string {
	return fmt.Sprintf("webhook event type %q ignored", e.EventType)
}

// AlreadyExists signals that a request to create a resource matched one
// already on record (e.g. two concurrent ProvisionRequests for the same
// domain, §8 round-trip property). TenantID names the pre-existing row so
// the caller can hand it back instead of erroring blind.
type AlreadyExists struct {
	Domain   string
	TenantID string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("tenant for domain %q already exists: %s", e.Domain, e.TenantID)
}
