package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/events"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/intake"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/metrics"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/service"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/counsel/store"
	jwttoken "github.com/yeirin-dev/yeirin-backend-sub001/internal/jwt_token"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/config"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/httpserver"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/kafka"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/logger"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/postgres"
	platformredis "github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/redis"
	"github.com/yeirin-dev/yeirin-backend-sub001/internal/platform/tracing"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/httputil"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/metadata"
	request "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/request"
	"github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/middleware/requesttime"
)

// main wires infrastructure into the counsel module and serves HTTP until
// SIGINT or SIGTERM. Optional backends (Postgres, Redis, Kafka, the scoring
// oracle) fall back to in-process implementations when unconfigured.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

type infra struct {
	db       *sql.DB
	redis    *platformredis.Client
	producer *kgo.Client
}

func (i *infra) close(log *slog.Logger) {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("failed to close redis", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("failed to close postgres", "error", err)
		}
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Environment, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	res := &infra{}
	defer res.close(log)

	counselMetrics := metrics.New()

	counselStore, err := openStore(ctx, cfg, res, log)
	if err != nil {
		return err
	}
	idempotency, err := openIdempotency(ctx, cfg, res, log)
	if err != nil {
		return err
	}
	publisher, err := openPublisher(ctx, cfg, res, log)
	if err != nil {
		return err
	}
	oracle, err := counsel.NewOracle(cfg.Oracle, log)
	if err != nil {
		return err
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer)
	module := counsel.New(&cfg, counsel.Dependencies{
		Store:        counselStore,
		Oracle:       oracle,
		Idempotency:  idempotency,
		Events:       publisher,
		JWTValidator: jwttoken.NewJWTServiceAdapter(jwtService),
		Logger:       log,
		Metrics:      counselMetrics,
	})

	r := chi.NewRouter()
	r.Use(request.Recovery(log))
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(log))
	r.Use(request.Timeout(30 * time.Second))

	r.Get("/healthz", healthHandler(res))
	r.Handle("/metrics", promhttp.Handler())
	module.Handler.Register(r)

	srv := httpserver.New(cfg.Addr, r)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting counsel service", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Server, res *infra, log *slog.Logger) (service.Store, error) {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if db == nil {
		log.Warn("DATABASE_URL not set, counsel requests are kept in memory")
		return store.NewInMemoryStore(), nil
	}
	res.db = db
	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate counsel schema: %w", err)
		}
	}
	return store.NewPostgres(db), nil
}

func openIdempotency(ctx context.Context, cfg config.Server, res *infra, log *slog.Logger) (intake.IdempotencyStore, error) {
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Warn("REDIS_URL not set, webhook deduplication is per process")
		return intake.NewMemoryIdempotencyStore(), nil
	}
	res.redis = client
	return intake.NewRedisIdempotencyStore(client.Client), nil
}

func openPublisher(ctx context.Context, cfg config.Server, res *infra, log *slog.Logger) (service.EventPublisher, error) {
	producer, err := kafka.NewProducer(ctx, cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if producer == nil {
		log.Info("KAFKA_BROKERS not set, status events are not published")
		return events.NoopPublisher{}, nil
	}
	res.producer = producer
	if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.Partitions, cfg.Kafka.Replication, cfg.Kafka.StatusTopic); err != nil {
		log.Warn("could not ensure status topic", "topic", cfg.Kafka.StatusTopic, "error", err)
	}
	return events.NewKafkaPublisher(producer, cfg.Kafka.StatusTopic,
		events.WithLogger(log),
		events.WithTimeout(cfg.Kafka.ProduceTimeout),
	), nil
}

type healthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checkedAt"`
}

func healthHandler(res *infra) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := healthResponse{Status: "ok", Checks: map[string]string{}, CheckedAt: time.Now().UTC()}
		status := http.StatusOK
		check := func(name string, ping func(context.Context) error) {
			if err := ping(ctx); err != nil {
				body.Checks[name] = "down"
				body.Status = "degraded"
				status = http.StatusServiceUnavailable
				return
			}
			body.Checks[name] = "up"
		}
		if res.db != nil {
			check("postgres", res.db.PingContext)
		}
		if res.redis != nil {
			check("redis", res.redis.Health)
		}
		if res.producer != nil {
			check("kafka", res.producer.Ping)
		}
		httputil.WriteJSON(w, status, body)
	}
}
