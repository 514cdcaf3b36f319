// Package governance is the REST client for the governance facilitator,
// the venue's authority on proposal resolution.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// Client polls the governance facilitator. All endpoints are read-only; the
// venue never writes governance state.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new governance client.
//
// baseURL is the facilitator API root, e.g. "https://gov.praxis.example/api".
// apiKey may be empty for facilitators that serve resolutions publicly.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetResolution returns the resolution state of a single proposal.
// It returns domain.ErrNotFound when the facilitator does not know the
// proposal.
func (c *Client) GetResolution(ctx context.Context, proposalID string) (Resolution, error) {
	path := fmt.Sprintf("/v1/proposals/%s/resolution", url.PathEscape(proposalID))

	body, err := c.doGet(ctx, path)
	if err != nil {
		return Resolution{}, fmt.Errorf("governance: get resolution %s: %w", proposalID, err)
	}

	var apiRes APIResolution
	if err := json.Unmarshal(body, &apiRes); err != nil {
		return Resolution{}, fmt.Errorf("governance: decode resolution: %w", err)
	}

	return apiRes.ToResolution()
}

// ListResolvedSince returns every proposal the facilitator has resolved at
// or after the given time, oldest first. The resolution watcher uses this to
// catch up after downtime.
func (c *Client) ListResolvedSince(ctx context.Context, since time.Time) ([]Resolution, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))

	body, err := c.doGet(ctx, "/v1/resolutions?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("governance: list resolutions: %w", err)
	}

	var apiRes []APIResolution
	if err := json.Unmarshal(body, &apiRes); err != nil {
		return nil, fmt.Errorf("governance: decode resolutions: %w", err)
	}

	out := make([]Resolution, 0, len(apiRes))
	for i := range apiRes {
		res, err := apiRes[i].ToResolution()
		if err != nil {
			return nil, fmt.Errorf("governance: resolution %s: %w", apiRes[i].ProposalID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// Health checks that the facilitator is reachable.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.doGet(ctx, "/v1/health"); err != nil {
		return fmt.Errorf("governance: health: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a GET request, attaching the API key when configured.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
