package webhook

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hostfleet/controlplane/internal/eventbus"
)

type fakeVerifier struct{ ok bool }

func (f fakeVerifier) VerifyWebhookSignature(body []byte, signature string) bool { return f.ok }

func TestServeHTTP_BadSignature_AlwaysReturns200AndDropsEvent(t *testing.T) {
	bus := eventbus.New(slog.Default())
	var mu sync.Mutex
	var delivered int
	bus.Subscribe(eventbus.PaymentConfirmed, func(ctx context.Context, e *eventbus.Event) error {
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx, 1)

	ing := New(fakeVerifier{ok: false}, bus, slog.Default())

	body := []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"p1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/system/webhooks/payments", bytes.NewReader(body))
	req.Header.Set("X-Signature", "deadbeef")
	rec := httptest.NewRecorder()

	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("expected no event published on bad signature, got %d deliveries", delivered)
	}
}

func TestServeHTTP_ValidSignature_TranslatesAndPublishes(t *testing.T) {
	bus := eventbus.New(slog.Default())
	received := make(chan *eventbus.Event, 1)
	bus.Subscribe(eventbus.PaymentConfirmed, func(ctx context.Context, e *eventbus.Event) error {
		received <- e
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx, 1)

	ing := New(fakeVerifier{ok: true}, bus, slog.Default())

	body := []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"p1","externalReference":"acme-abc123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/system/webhooks/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	select {
	case e := <-received:
		if e.TenantID != "acme-abc123" {
			t.Fatalf("unexpected tenant id: %s", e.TenantID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event to be published")
	}
}

func TestServeHTTP_UnknownEventType_IgnoredButStill200(t *testing.T) {
	bus := eventbus.New(slog.Default())
	ing := New(fakeVerifier{ok: true}, bus, slog.Default())

	body := []byte(`{"event":"SOMETHING_WEIRD","payment":{"id":"p1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/system/webhooks/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestServeHTTP_OverdueEventIsIgnored(t *testing.T) {
	bus := eventbus.New(slog.Default())
	ing := New(fakeVerifier{ok: true}, bus, slog.Default())

	body := []byte(`{"event":"PAYMENT_OVERDUE","payment":{"id":"p1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/system/webhooks/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	ing.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
