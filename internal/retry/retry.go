// Package retry centralizes the bounded-backoff policy used by every
// outbound collaborator: orchestrator driver, gateway client, backup
// transfers. It is a thin policy layer over avast/retry-go so call sites
// express "how many tries, how long to wait" instead of hand-rolled loops.
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go"

	"github.com/hostfleet/controlplane/internal/errkind"
)

// Policy bounds a single retry sequence.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// Base is the initial backoff delay.
	Base time.Duration
	// Cap is the maximum backoff delay between attempts.
	Cap time.Duration
}

// StepPolicy is the Provisioner's per-step policy: 5 attempts, 30s cap (§4.2).
var StepPolicy = Policy{MaxAttempts: 5, Base: 500 * time.Millisecond, Cap: 30 * time.Second}

// GatewayPolicy is the PaymentGatewayClient's policy: base 250ms, cap 8s, 5 tries (§4.8).
var GatewayPolicy = Policy{MaxAttempts: 5, Base: 250 * time.Millisecond, Cap: 8 * time.Second}

// Do runs fn under the given policy, retrying every error except an
// errkind.PermanentExternalError, which aborts immediately. ctx is checked
// before each attempt: once it is cancelled or past its deadline, no
// further attempt (including the first) is made.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	return retrygo.Do(
		func() error {
			attempt++
			if err := ctx.Err(); err != nil {
				return retrygo.Unrecoverable(err)
			}
			err := fn(ctx)
			if err == nil {
				return nil
			}

			var permanent *errkind.PermanentExternalError
			if errors.As(err, &permanent) {
				return retrygo.Unrecoverable(err)
			}
			return err
		},
		retrygo.Attempts(uint(policy.MaxAttempts)),
		retrygo.Delay(policy.Base),
		retrygo.MaxDelay(policy.Cap),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
	)
}
