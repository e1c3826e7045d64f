package executor

import (
	"context"
	"log/slog"
	"time"
)

// SoftFailure records a command in a RunSoftSequence that failed without
// aborting the caller's workflow (§4.2 step 8: plugin installs are a soft
// dependency).
type SoftFailure struct {
	Cmd []string
	Err error
}

// RunSoftSequence runs every command, logging and collecting failures
// instead of stopping at the first one.
func (e *Executor) RunSoftSequence(ctx context.Context, tenantID, podSelector string, cmds [][]string, timeout time.Duration, logger *slog.Logger) []SoftFailure {
	var failures []SoftFailure
	for _, cmd := range cmds {
		if _, err := e.Run(ctx, tenantID, podSelector, cmd, nil, timeout); err != nil {
			logger.Warn("soft command failed, continuing", "tenant_id", tenantID, "cmd", cmd, "error", err)
			failures = append(failures, SoftFailure{Cmd: cmd, Err: err})
		}
	}
	return failures
}
