package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
)

// maxAuthBodySize bounds how much of a request body the auth middleware will
// buffer for signature verification.
const maxAuthBodySize = 1 << 20

// AdminAuth returns middleware that verifies the HMAC signature headers on
// admin requests. If auth is nil, the middleware passes all requests through
// (disabled).
func AdminAuth(auth *crypto.RequestAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBodySize))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = auth.Verify(
				r.Method,
				r.URL.Path,
				string(body),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				time.Now(),
			)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
