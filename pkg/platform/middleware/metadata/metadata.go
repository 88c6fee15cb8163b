package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

const unknownDevice = "unknown"

// ClientMetadata records client IP, User-Agent and a coarse device label
// ("Chrome/Windows") on the request context. Audit log lines pick these up.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r),
			userAgent,
			DeviceLabel(userAgent),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceLabel reduces a User-Agent to "Browser/OS". Bots report as "bot/<name>".
func DeviceLabel(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return unknownDevice
	}
	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	if ua.Bot() {
		if browser == "" {
			return "bot"
		}
		return "bot/" + browser
	}
	os := ua.OSInfo().Name
	if browser == "" {
		browser = unknownDevice
	}
	if os == "" {
		os = unknownDevice
	}
	return browser + "/" + os
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the socket address without its port.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}
	return "unknown"
}
