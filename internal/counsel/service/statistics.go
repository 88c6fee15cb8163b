package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/models"
	dErrors "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain-errors"
)

const statisticsTimeout = 10 * time.Second

// Statistics derives distribution, funnel and latency figures for requests
// created in rng. It performs no writes.
func (s *Service) Statistics(ctx context.Context, rng models.DateRange) (models.Statistics, error) {
	if rng.From != nil && rng.To != nil && rng.From.After(*rng.To) {
		return models.Statistics{}, dErrors.New(dErrors.CodeValidation, "from must not be after to")
	}
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveStatistics(start)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, statisticsTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	var (
		requests []models.CounselRequest
		history  []models.StatusHistoryEntry
	)
	g.Go(func() error {
		var err error
		requests, err = s.store.RequestsCreatedIn(ctx, rng)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = s.store.HistoryForRequestsCreatedIn(ctx, rng)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Statistics{}, wrapStoreErr(err, "failed to load statistics")
	}

	return models.ComputeStatistics(requests, history), nil
}
