package testutil

import (
	"context"
	"net/http"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

// WithActor simulates what the auth middleware does for an authenticated request.
func WithActor(req *http.Request, userID id.UserID, role requestcontext.Role) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), userID, role))
}

// WithGuardian, WithInstitution and WithAdmin are shorthands for WithActor.
func WithGuardian(req *http.Request, userID id.UserID) *http.Request {
	return WithActor(req, userID, requestcontext.RoleGuardian)
}

func WithInstitution(req *http.Request, userID id.UserID) *http.Request {
	return WithActor(req, userID, requestcontext.RoleInstitution)
}

func WithAdmin(req *http.Request, userID id.UserID) *http.Request {
	return WithActor(req, userID, requestcontext.RoleAdmin)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
