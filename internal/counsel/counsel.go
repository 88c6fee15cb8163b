// Package counsel assembles the counsel request module: lifecycle service,
// recommendation ranker, intake adapters and HTTP handlers.
package counsel

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/handler"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/intake"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/oracle"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/ranker"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/service"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/config"
	id "github.com/yeirin-dev/yeirin-backend-sub001/pkg/domain"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/circuit"
	authmw "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/auth"
)

// Dependencies are the infrastructure pieces chosen by the process.
type Dependencies struct {
	Store        service.Store
	Oracle       ranker.Oracle
	Idempotency  intake.IdempotencyStore
	Events       service.EventPublisher
	JWTValidator authmw.JWTValidator
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Module is the wired counsel module.
type Module struct {
	Service *service.Service
	Handler *handler.Handler
}

// New wires the module from configuration and dependencies.
func New(cfg *config.Server, deps Dependencies) *Module {
	rk := ranker.New(deps.Oracle,
		ranker.WithTimeout(cfg.Oracle.Timeout),
		ranker.WithLimit(cfg.Oracle.RecommendationSize),
		ranker.WithHighScoreThreshold(cfg.Oracle.HighScoreThreshold),
		ranker.WithMetrics(deps.Metrics),
		ranker.WithLogger(deps.Logger),
	)

	opts := []service.Option{
		service.WithLogger(deps.Logger),
		service.WithMetrics(deps.Metrics),
	}
	if deps.Events != nil {
		opts = append(opts, service.WithEventPublisher(deps.Events))
	}
	svc := service.New(deps.Store, rk, opts...)

	webhook := intake.NewWebhook(svc, deps.Idempotency,
		intake.WithDedupeTTL(cfg.Webhook.DedupeTTL),
		intake.WithAllowedSources(cfg.Webhook.Sources),
		intake.WithLogger(deps.Logger),
		intake.WithMetrics(deps.Metrics),
	)

	h := handler.New(svc, intake.NewGuardian(svc), webhook, deps.JWTValidator, deps.Logger, deps.Metrics)
	return &Module{Service: svc, Handler: h}
}

// NewOracle returns the HTTP oracle client, behind a circuit breaker, when a
// URL is configured and the deterministic static oracle otherwise.
func NewOracle(cfg config.OracleConfig, logger *slog.Logger) (ranker.Oracle, error) {
	if cfg.URL != "" {
		client := oracle.NewHTTPClient(cfg.URL, cfg.APIKey, cfg.Timeout, oracle.WithLogger(logger))
		breaker := circuit.New("scoring-oracle",
			circuit.WithFailureThreshold(cfg.CircuitFailures),
			circuit.WithCooldown(cfg.CircuitCooldown),
		)
		return oracle.NewGuarded(client, breaker, logger), nil
	}
	catalog, err := StaticCatalog(cfg.StaticInstitutions)
	if err != nil {
		return nil, err
	}
	logger.Info("scoring oracle not configured, using static catalog", "institutions", len(catalog))
	return oracle.NewStatic(catalog), nil
}

const defaultCatalogSize = 8

// StaticCatalog parses configured institution ids. With none configured it
// derives a stable local catalog so recommendations work out of the box.
func StaticCatalog(raw []string) ([]id.InstitutionID, error) {
	if len(raw) == 0 {
		out := make([]id.InstitutionID, defaultCatalogSize)
		for i := range out {
			out[i] = id.InstitutionID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("counsel-static-institution-"+strconv.Itoa(i))))
		}
		return out, nil
	}
	out := make([]id.InstitutionID, 0, len(raw))
	for _, s := range raw {
		inst, err := id.ParseInstitutionID(s)
		if err != nil {
			return nil, fmt.Errorf("STATIC_INSTITUTIONS entry %q: %w", s, err)
		}
		out = append(out, inst)
	}
	return out, nil
}
