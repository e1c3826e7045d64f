// Package dnsprovider implements tenant.DNSProvider (§4.1, §4.3) as a thin
// HTTP client over a generic REST DNS API, in the same request/retry shape
// as pkg/gateway.Client — no DNS SDK appears anywhere in the example pack,
// so this follows the one HTTP-client pattern the corpus does show.
package dnsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hostfleet/controlplane/internal/errkind"
	"github.com/hostfleet/controlplane/internal/retry"
)

// Client talks to a DNS provider's REST API to manage A/CNAME records
// pointing tenant domains at the orchestrator's ingress.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// UpsertRecord points domain at target, creating the record if absent
// (satisfies tenant.DNSProvider).
func (c *Client) UpsertRecord(ctx context.Context, domain, target string) error {
	return c.do(ctx, http.MethodPut, "/v1/records/"+domain, map[string]string{"target": target})
}

// DeleteRecord removes domain's record entirely.
func (c *Client) DeleteRecord(ctx context.Context, domain string) error {
	return c.do(ctx, http.MethodDelete, "/v1/records/"+domain, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	return retry.Do(ctx, retry.GatewayPolicy, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return &errkind.PermanentExternalError{Op: "dnsprovider.marshal", Err: err}
			}
			reader = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return &errkind.PermanentExternalError{Op: "dnsprovider.newrequest", Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &errkind.TransientExternalError{Op: "dnsprovider." + path, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return &errkind.TransientExternalError{Op: "dnsprovider." + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
		case resp.StatusCode >= 400:
			return &errkind.PermanentExternalError{Op: "dnsprovider." + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		return nil
	})
}
