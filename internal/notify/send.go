package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrBody bounds how much of a rejection response lands in the error.
const maxErrBody = 1024

// postJSON marshals payload and posts it, treating any 2xx as success
// (Telegram answers 200, Discord webhooks 204). On rejection the error
// carries the leading bytes of the response body, which is where both APIs
// put their reason.
func postJSON(ctx context.Context, client *http.Client, scope, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", scope, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", scope, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: post: %w", scope, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("%s: status %d: %s", scope, resp.StatusCode, reason)
	}
	return nil
}
