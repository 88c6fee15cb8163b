// Package requesttime pins "now" once per request so every timestamp written
// while serving it (history entries, status changes, audit logs) agrees.
package requesttime

import (
	"net/http"
	"time"

	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// Middleware stores the request start time in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
