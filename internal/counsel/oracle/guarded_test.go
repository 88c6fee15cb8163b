package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/circuit"
)

type flakyScorer struct {
	calls int
	err   error
}

func (f *flakyScorer) Score(context.Context, models.Profile) ([]models.Candidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []models.Candidate{{InstitutionID: id.InstitutionID(uuid.New()), Score: 90}}, nil
}

func TestGuarded(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newBreaker := func() *circuit.Breaker {
		return circuit.New("oracle",
			circuit.WithFailureThreshold(2),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return now }),
		)
	}
	profile := models.Profile{CounselRequestID: id.CounselRequestID(uuid.New()), CareType: "PSYCHOLOGICAL"}

	t.Run("opens after repeated outages and fails fast", func(t *testing.T) {
		scorer := &flakyScorer{err: newError(ErrorOutage, "503", nil)}
		g := NewGuarded(scorer, newBreaker(), nil)

		for range 2 {
			_, err := g.Score(context.Background(), profile)
			require.Error(t, err)
		}
		_, err := g.Score(context.Background(), profile)
		assert.Equal(t, ErrorCircuitOpen, CategoryOf(err))
		assert.Equal(t, 2, scorer.calls)

		now = now.Add(time.Minute)
		scorer.err = nil
		candidates, err := g.Score(context.Background(), profile)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
		assert.Equal(t, 3, scorer.calls)
	})

	t.Run("cancellation does not trip", func(t *testing.T) {
		scorer := &flakyScorer{err: newError(ErrorCancelled, "cancelled", context.Canceled)}
		b := newBreaker()
		g := NewGuarded(scorer, b, nil)
		for range 3 {
			_, _ = g.Score(context.Background(), profile)
		}
		assert.False(t, b.IsOpen())
	})

	t.Run("foreign errors count as outages", func(t *testing.T) {
		scorer := &flakyScorer{err: errors.New("dial tcp: connection refused")}
		b := newBreaker()
		g := NewGuarded(scorer, b, nil)
		for range 2 {
			_, _ = g.Score(context.Background(), profile)
		}
		assert.True(t, b.IsOpen())
	})
}
