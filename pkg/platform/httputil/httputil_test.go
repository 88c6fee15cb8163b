package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("rejected transition keeps its specific reason", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeImmutableTerminalState, "completed requests cannot be changed"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "immutable_terminal_state" {
			t.Fatalf("expected error code immutable_terminal_state, got %q", body["error"])
		}
		if body["error_description"] != "completed requests cannot be changed" {
			t.Fatalf("expected error_description to carry the reason, got %q", body["error_description"])
		}
	})

	t.Run("unknown errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, http.ErrHandlerTimeout)

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeNotFound:                http.StatusNotFound,
		dErrors.CodeConcurrentModification:  http.StatusConflict,
		dErrors.CodeForbiddenTransition:     http.StatusBadRequest,
		dErrors.CodeInvalidSelection:        http.StatusBadRequest,
		dErrors.CodeOracleUnavailable:       http.StatusBadRequest,
		dErrors.CodeInsufficientInformation: http.StatusBadRequest,
		dErrors.CodeNotDeletable:            http.StatusBadRequest,
		dErrors.CodeUnauthorized:            http.StatusUnauthorized,
		dErrors.CodeForbidden:               http.StatusForbidden,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
