package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

// Every status must be handled by stage(); the default branch panics.
func TestStageCoversEveryStatus(t *testing.T) {
	for _, s := range AllStatuses() {
		assert.NotPanics(t, func() { _ = s.stage() }, s.String())
	}
	assert.Panics(t, func() { _ = Status("ARCHIVED").stage() })
}

func TestParseStatus(t *testing.T) {
	t.Run("accepts any case", func(t *testing.T) {
		st, err := ParseStatus(" in_progress ")
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, st)
	})

	t.Run("rejects unknown", func(t *testing.T) {
		_, err := ParseStatus("ARCHIVED")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ParseStatus("  ")
		require.Error(t, err)
	})
}

func TestNormalTransitions(t *testing.T) {
	allowed := map[edge]bool{
		{StatusPending, StatusRecommended}:  true,
		{StatusRecommended, StatusMatched}:  true,
		{StatusMatched, StatusInProgress}:   true,
		{StatusInProgress, StatusCompleted}: true,
		{StatusPending, StatusRejected}:     true,
		{StatusRecommended, StatusRejected}: true,
		{StatusMatched, StatusRejected}:     true,
		{StatusInProgress, StatusRejected}:  true,
	}

	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			err := CheckTransition(from, to, ActorSelfService)
			if allowed[edge{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition), "%s -> %s", from, to)
		}
	}

	t.Run("completion is reachable only from IN_PROGRESS", func(t *testing.T) {
		for _, from := range AllStatuses() {
			ok := IsAllowed(from, StatusCompleted, ActorSelfService)
			assert.Equal(t, from == StatusInProgress, ok, from.String())
		}
	})

	t.Run("terminal states explain themselves", func(t *testing.T) {
		err := CheckTransition(StatusCompleted, StatusRejected, ActorSelfService)
		assert.Equal(t, "completed requests cannot be changed", dErrors.MessageOf(err))
	})
}

func TestAdminTransitions(t *testing.T) {
	t.Run("any non-completed status may move to any other admin target", func(t *testing.T) {
		for _, from := range AllStatuses() {
			if from == StatusCompleted {
				continue
			}
			for _, to := range AdminTargets() {
				if to == from {
					continue
				}
				assert.NoError(t, CheckTransition(from, to, ActorAdmin), "%s -> %s", from, to)
			}
		}
	})

	t.Run("completed requests are immutable regardless of target", func(t *testing.T) {
		for _, to := range AllStatuses() {
			err := CheckTransition(StatusCompleted, to, ActorAdmin)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeImmutableTerminalState), to.String())
		}
	})

	t.Run("completion can never be forced", func(t *testing.T) {
		for _, from := range AllStatuses() {
			if from == StatusCompleted {
				continue
			}
			err := CheckTransition(from, StatusCompleted, ActorAdmin)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeForbiddenTransition), from.String())
		}
		assert.NotContains(t, AdminTargets(), StatusCompleted)
	})

	t.Run("same status is a no-op, including REJECTED", func(t *testing.T) {
		for _, s := range AdminTargets() {
			err := CheckTransition(s, s, ActorAdmin)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeNoOpTransition), s.String())
		}
	})

	t.Run("unknown target is forbidden", func(t *testing.T) {
		err := CheckTransition(StatusPending, Status("ARCHIVED"), ActorAdmin)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbiddenTransition))
	})
}

func TestCheckTransitionPanicsOnUnknownActor(t *testing.T) {
	assert.Panics(t, func() {
		_ = CheckTransition(StatusPending, StatusRecommended, ActorKind("robot"))
	})
}

func TestValidateJustification(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		ok     bool
	}{
		{"too short", "too short", false},
		{"exactly ten", "0123456789", true},
		{"padded short", "   short    ", false},
		{"exactly five hundred", strings.Repeat("a", 500), true},
		{"five hundred one", strings.Repeat("a", 501), false},
		{"multibyte counted by character", strings.Repeat("상담", 5), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateJustification(tc.reason)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, strings.TrimSpace(tc.reason), got)
				return
			}
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidJustification))
		})
	}
}

func TestClearsMatch(t *testing.T) {
	assert.True(t, clearsMatch(StatusInProgress, StatusPending))
	assert.True(t, clearsMatch(StatusMatched, StatusRecommended))
	assert.True(t, clearsMatch(StatusInProgress, StatusMatched))
	assert.False(t, clearsMatch(StatusMatched, StatusInProgress))
	assert.False(t, clearsMatch(StatusInProgress, StatusRejected))
}
