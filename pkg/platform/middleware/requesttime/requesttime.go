// Package requesttime pins one "now" per HTTP request so window rollovers,
// ledger timestamps and audit entries of a single request agree.
package requesttime

import (
	"net/http"
	"time"

	"tiergate/pkg/requestcontext"
)

// Middleware captures the current UTC time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
