package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hostfleet/controlplane/internal/errkind"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	tries := 0
	policy := Policy{MaxAttempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		tries++
		if tries < 3 {
			return &errkind.TransientExternalError{Op: "test", Err: errors.New("not ready")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if tries != 3 {
		t.Fatalf("expected 3 tries, got %d", tries)
	}
}

func TestDo_PermanentErrorAbortsImmediately(t *testing.T) {
	tries := 0
	policy := Policy{MaxAttempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		tries++
		return &errkind.PermanentExternalError{Op: "test", Err: errors.New("bad request")}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if tries != 1 {
		t.Fatalf("expected exactly 1 try for a permanent error, got %d", tries)
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	tries := 0
	policy := Policy{MaxAttempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		tries++
		return &errkind.TransientExternalError{Op: "test", Err: errors.New("still failing")}
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if tries != 3 {
		t.Fatalf("expected 3 tries, got %d", tries)
	}
}

func TestDo_ContextCancelledStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tries := 0
	policy := Policy{MaxAttempts: 5, Base: time.Millisecond, Cap: 5 * time.Millisecond}

	_ = Do(ctx, policy, func(ctx context.Context) error {
		tries++
		return nil
	})

	if tries != 0 {
		t.Fatalf("expected the cancelled context to stop before the first try, got %d", tries)
	}
}
