// Package custody is the REST client for the custody bridge, which holds
// user funds and executes payouts for signed withdrawal claim vouchers.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/praxismarkets/futarchyd/internal/crypto"
	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Client is the HMAC-authenticated client for the custody bridge API.
// Every request is signed over timestamp+method+path+body; the path used
// for signing includes the query string.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new custody bridge client.
//
// baseURL is the bridge API root, e.g. "https://bridge.praxis.example".
// secret is the shared HMAC secret from the custody config section.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    &crypto.HMACAuth{Secret: secret},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RequestPayout asks the bridge to pay out a withdrawal claim. The bridge
// verifies the voucher signature against the venue's signer address before
// releasing funds. Re-submitting a claim returns domain.ErrAlreadyExists.
func (c *Client) RequestPayout(ctx context.Context, req PayoutRequest) (Payout, error) {
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/v1/payouts", req)
	if err != nil {
		return Payout{}, fmt.Errorf("custody: request payout %s: %w", req.ClaimID, err)
	}

	var apiPayout APIPayout
	if err := json.Unmarshal(body, &apiPayout); err != nil {
		return Payout{}, fmt.Errorf("custody: decode payout: %w", err)
	}

	return apiPayout.ToPayout()
}

// GetPayout returns the bridge-side state of a payout by claim ID.
func (c *Client) GetPayout(ctx context.Context, claimID string) (Payout, error) {
	path := fmt.Sprintf("/v1/payouts/%s", url.PathEscape(claimID))

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return Payout{}, fmt.Errorf("custody: get payout %s: %w", claimID, err)
	}

	var apiPayout APIPayout
	if err := json.Unmarshal(body, &apiPayout); err != nil {
		return Payout{}, fmt.Errorf("custody: decode payout: %w", err)
	}

	return apiPayout.ToPayout()
}

// ListDeposits returns deposits the bridge has confirmed at or after the
// given time, oldest first. Used to reconcile credited balances.
func (c *Client) ListDeposits(ctx context.Context, since time.Time) ([]Deposit, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/deposits?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("custody: list deposits: %w", err)
	}

	var apiDeposits []APIDeposit
	if err := json.Unmarshal(body, &apiDeposits); err != nil {
		return nil, fmt.Errorf("custody: decode deposits: %w", err)
	}

	out := make([]Deposit, 0, len(apiDeposits))
	for i := range apiDeposits {
		d, err := apiDeposits[i].ToDeposit()
		if err != nil {
			return nil, fmt.Errorf("custody: deposit %s: %w", apiDeposits[i].ID, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Health checks that the bridge is reachable and accepts our signature.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/health", nil); err != nil {
		return fmt.Errorf("custody: health: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doSignedRequest builds, signs, sends, and reads an HTTP request against
// the custody bridge API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyStr string
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := c.checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate domain errors.
func (c *Client) checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s (%s)", domain.ErrNotFound, apiErr.Message, apiErr.Code)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s (%s)", domain.ErrUnauthorized, apiErr.Message, apiErr.Code)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s (%s)", domain.ErrAlreadyExists, apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (%s)", domain.ErrRateLimited, apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
