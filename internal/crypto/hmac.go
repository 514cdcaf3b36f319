package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth signs requests to the custody bridge. Both sides share a secret;
// the bridge recomputes the signature over timestamp+method+path+body and
// rejects requests whose timestamp has drifted too far.
type HMACAuth struct {
	Secret string
}

// Headers returns the HTTP headers for a custody bridge request.
// The signature is HMAC-SHA256(secret, timestamp+method+path+body) encoded
// as base64.
//
// Returned header keys:
//   - X-FUTARCHYD-TIMESTAMP
//   - X-FUTARCHYD-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with an explicit Unix timestamp, so tests can pin
// the signature they expect.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-FUTARCHYD-TIMESTAMP": ts,
		"X-FUTARCHYD-SIGNATURE": sig,
	}
}

// Verify checks an inbound callback signature in constant time. The caller
// is responsible for rejecting stale timestamps.
func (h *HMACAuth) Verify(method, path, body, timestamp, signature string) bool {
	message := timestamp + method + path + body
	want := hmacSHA256Base64([]byte(h.Secret), message)
	return hmac.Equal([]byte(want), []byte(signature))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	s := h.Secret
	if len(s) <= 4 {
		return "HMACAuth{secret=****}"
	}
	return fmt.Sprintf("HMACAuth{secret=%s****}", s[:4])
}
