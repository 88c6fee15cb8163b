package oracle

import (
	"context"
	"log/slog"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/circuit"
)

// Scorer is the oracle call being guarded.
type Scorer interface {
	Score(ctx context.Context, profile models.Profile) ([]models.Candidate, error)
}

// Guarded fails fast while the scoring service is known to be down, so a
// recommendation request does not wait out the full timeout on every call.
type Guarded struct {
	next    Scorer
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next Scorer, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) Score(ctx context.Context, profile models.Profile) ([]models.Candidate, error) {
	if !g.breaker.Allow() {
		return nil, newError(ErrorCircuitOpen, "scoring service temporarily disabled", nil)
	}

	candidates, err := g.next.Score(ctx, profile)
	switch {
	case err == nil:
		if _, change := g.breaker.RecordSuccess(); change.Closed && g.logger != nil {
			g.logger.InfoContext(ctx, "oracle circuit closed", "breaker", g.breaker.Name())
		}
	case tripsBreaker(err):
		if _, change := g.breaker.RecordFailure(); change.Opened && g.logger != nil {
			g.logger.WarnContext(ctx, "oracle circuit opened",
				"breaker", g.breaker.Name(),
				"category", string(CategoryOf(err)),
			)
		}
	}
	return candidates, err
}

// Caller cancellation and bad requests say nothing about oracle health.
func tripsBreaker(err error) bool {
	switch CategoryOf(err) {
	case ErrorCancelled, ErrorCircuitOpen, ErrorAuthentication:
		return false
	default:
		return true
	}
}
