package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth guards the venue's mutating endpoints. A request authenticates with
// any configured key, carried either as "Authorization: Bearer <key>" or in
// X-API-Key; accepting every configured key lets operators rotate by
// shipping the new key alongside the old. No configured keys disables the
// check entirely.
func Auth(apiKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, len(apiKeys))
	for i, k := range apiKeys {
		keys[i] = []byte(k)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := []byte(requestToken(r))
			if len(token) == 0 {
				unauthorized(w, "missing authentication token")
				return
			}

			// Constant-time comparison, folded across every key.
			ok := 0
			for _, key := range keys {
				ok |= subtle.ConstantTimeCompare(token, key)
			}
			if ok != 1 {
				unauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestToken pulls the credential off the request: Bearer scheme first,
// then the X-API-Key header.
func requestToken(r *http.Request) string {
	if scheme, rest, found := strings.Cut(r.Header.Get("Authorization"), " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
