package admin

import (
	"log/slog"
	"net/http"

	auth "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/auth"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// RequireAdmin guards the back-office routes: status overrides, listings,
// history and statistics. Each admin call is written to the audit stream.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	requireRole := auth.RequireRole(logger, requestcontext.RoleAdmin)
	return func(next http.Handler) http.Handler {
		return requireRole(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger.InfoContext(ctx, "admin access",
				"log_type", "audit",
				"admin_id", requestcontext.UserID(ctx).String(),
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", requestcontext.ClientIP(ctx),
				"device", requestcontext.Device(ctx),
				"request_id", requestcontext.RequestID(ctx),
			)
			next.ServeHTTP(w, r)
		}))
	}
}
