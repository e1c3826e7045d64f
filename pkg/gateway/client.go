// Package gateway is the PaymentGatewayClient (§4.8): a thin HTTP client
// over an Asaas-shaped payment gateway JSON API. It exposes exactly the
// methods the rest of the system calls — subscription lifecycle, overdue
// invoice lookup, and webhook signature verification.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/internal/retry"
	"github.com/hostfleet/controlplane/pkg/dunning"
)

// Client talks to the payment gateway over HTTPS JSON.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	httpClient    *http.Client
}

// New builds a Client.
func New(baseURL, apiKey, webhookSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Invoice mirrors the gateway's invoice representation.
type Invoice struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	DueDate  time.Time `json:"dueDate"`
	Amount   int64     `json:"amountCents"`
	Currency string    `json:"currency"`
}

// CreateCustomer registers a new billing customer for a tenant.
func (c *Client) CreateCustomer(ctx context.Context, ownerEmail, name string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v3/customers", map[string]string{"email": ownerEmail, "name": name}, &resp)
	return resp.ID, err
}

// CreateSubscription starts a billing subscription for customerID at planTier.
func (c *Client) CreateSubscription(ctx context.Context, customerID, planTier string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v3/subscriptions", map[string]string{"customer": customerID, "plan": planTier}, &resp)
	return resp.ID, err
}

// CancelSubscription cancels a subscription (called by pkg/lifecycle on
// the → Deleted transition; satisfies lifecycle.SubscriptionCanceller).
func (c *Client) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v3/subscriptions/"+subscriptionRef, nil, nil)
}

// UpdateSubscription changes the plan on an existing subscription.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionRef, planTier string) error {
	return c.doJSON(ctx, http.MethodPut, "/v3/subscriptions/"+subscriptionRef, map[string]string{"plan": planTier}, nil)
}

// GetInvoice disambiguates a single invoice by gateway id.
func (c *Client) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	err := c.doJSON(ctx, http.MethodGet, "/v3/payments/"+id, nil, &inv)
	return inv, err
}

// ListOverdueInvoices returns overdue invoices for a subscription, used by
// the DunningScheduler (satisfies dunning.GatewayClient).
func (c *Client) ListOverdueInvoices(ctx context.Context, subscriptionRef string) ([]dunning.OverdueInvoice, error) {
	var resp struct {
		Data []Invoice `json:"data"`
	}
	path := fmt.Sprintf("/v3/payments?subscription=%s&status=OVERDUE", subscriptionRef)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]dunning.OverdueInvoice, 0, len(resp.Data))
	for _, inv := range resp.Data {
		out = append(out, dunning.OverdueInvoice{ID: inv.ID, DueDate: inv.DueDate})
	}
	return out, nil
}

// VerifyWebhookSignature checks an HMAC-SHA-256 signature over body using
// the configured shared secret, in constant time.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	return retry.Do(ctx, retry.GatewayPolicy, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return &errkind.PermanentExternalError{Op: "gateway.marshal", Err: err}
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &errkind.PermanentExternalError{Op: "gateway.newrequest", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("access_token", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &errkind.TransientExternalError{Op: "gateway." + path, Err: err}
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return &errkind.TransientExternalError{Op: "gateway." + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
		case resp.StatusCode >= 400:
			return &errkind.PermanentExternalError{Op: "gateway." + path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return &errkind.PermanentExternalError{Op: "gateway.unmarshal", Err: err}
			}
		}
		return nil
	})
}
