package auth

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (s stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return s.claims, s.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(h http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/counsel-requests", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRequireAuth(t *testing.T) {
	userID := uuid.New()
	var seenRole requestcontext.Role
	var seenUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRole = requestcontext.ActorRole(r.Context())
		seenUser = requestcontext.UserID(r.Context()).String()
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token sets actor", func(t *testing.T) {
		mw := RequireAuth(stubValidator{claims: &JWTClaims{UserID: userID.String(), Role: "Guardian"}}, discard)
		rr := serve(mw(next), "Bearer good")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, requestcontext.RoleGuardian, seenRole)
		assert.Equal(t, userID.String(), seenUser)
	})

	t.Run("missing header", func(t *testing.T) {
		mw := RequireAuth(stubValidator{}, discard)
		rr := serve(mw(next), "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Contains(t, rr.Body.String(), "unauthorized")
	})

	t.Run("invalid token", func(t *testing.T) {
		mw := RequireAuth(stubValidator{err: errors.New("bad signature")}, discard)
		rr := serve(mw(next), "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("malformed subject", func(t *testing.T) {
		mw := RequireAuth(stubValidator{claims: &JWTClaims{UserID: "not-a-uuid", Role: "admin"}}, discard)
		rr := serve(mw(next), "Bearer x")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		mw := RequireAuth(stubValidator{claims: &JWTClaims{UserID: userID.String(), Role: "superuser"}}, discard)
		rr := serve(mw(next), "Bearer x")
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mw := RequireRole(discard, requestcontext.RoleInstitution, requestcontext.RoleAdmin)(ok)

	tests := []struct {
		role requestcontext.Role
		want int
	}{
		{requestcontext.RoleInstitution, http.StatusNoContent},
		{requestcontext.RoleAdmin, http.StatusNoContent},
		{requestcontext.RoleGuardian, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tt.role != "" {
				req = req.WithContext(requestcontext.WithActor(req.Context(), id.UserID(uuid.New()), tt.role))
			}
			rr := httptest.NewRecorder()
			mw.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
