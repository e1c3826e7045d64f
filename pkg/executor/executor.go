// Package executor wraps orchestrator.Driver.ExecInPod with the
// deadline-aware, structured-result contract the provisioner and backup
// engine both need for running WP-CLI and mysqldump/tar commands inside a
// tenant's pods.
package executor

import (
	"context"
	"time"

	"github.com/hostfleet/controlplane/pkg/orchestrator"
)

// DefaultTimeout bounds a single command when the caller doesn't set one
// explicitly (provisioner WP-CLI steps; §5 treats exec as cancellable I/O).
const DefaultTimeout = 2 * time.Minute

// Executor runs commands inside a tenant's pods via an orchestrator.Driver.
type Executor struct {
	Driver orchestrator.Driver
}

// New builds an Executor over driver.
func New(driver orchestrator.Driver) *Executor {
	return &Executor{Driver: driver}
}

// Run executes cmd against the pod matching podSelector in tenantID's
// namespace, bounded by timeout (0 means DefaultTimeout).
func (e *Executor) Run(ctx context.Context, tenantID, podSelector string, cmd []string, stdin []byte, timeout time.Duration) (orchestrator.ExecResult, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return e.Driver.ExecInPod(ctx, tenantID, podSelector, cmd, stdin)
}

// RunSequence runs each command in order, stopping at the first failure —
// used for the provisioner's fixed WP-CLI install sequence (§4.2 step 7),
// where every command must succeed.
func (e *Executor) RunSequence(ctx context.Context, tenantID, podSelector string, cmds [][]string, timeout time.Duration) error {
	for _, cmd := range cmds {
		if _, err := e.Run(ctx, tenantID, podSelector, cmd, nil, timeout); err != nil {
			return err
		}
	}
	return nil
}
