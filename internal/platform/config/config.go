package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	platformstrings "github.com/yeirin-dev/yeirin-backend-sub001/pkg/platform/strings"
)

// Oracle call bounds. A configured timeout outside the range is clamped.
const (
	MinOracleTimeout     = 5 * time.Second
	MaxOracleTimeout     = 10 * time.Second
	DefaultOracleTimeout = 8 * time.Second
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	LogFormat   string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Oracle   OracleConfig
	Auth     AuthConfig
	Webhook  WebhookConfig
	Tracing  TracingConfig

	ShutdownTimeout time.Duration
}

// PostgresConfig selects the durable store. An empty URL keeps everything in
// memory.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig backs webhook deduplication across instances. An empty URL
// falls back to in-process deduplication.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables status-change events. No brokers means no events.
type KafkaConfig struct {
	Brokers        []string
	ClientID       string
	StatusTopic    string
	Partitions     int32
	Replication    int16
	ProduceTimeout time.Duration
}

// OracleConfig points at the scoring service. An empty URL uses the static
// oracle over StaticInstitutions.
type OracleConfig struct {
	URL                string
	APIKey             string
	Timeout            time.Duration
	RecommendationSize int
	HighScoreThreshold float64
	StaticInstitutions []string
	CircuitFailures    int
	CircuitCooldown    time.Duration
}

type AuthConfig struct {
	JWTSigningKey string
	Issuer        string
}

type WebhookConfig struct {
	Sources   []string
	DedupeTTL time.Duration
}

type TracingConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	SampleRatio  float64
}

// FromEnv builds a Server config from environment variables so main stays
// lean. A .env file in the working directory is loaded first when present;
// real environment variables win over it.
func FromEnv() Server {
	_ = godotenv.Load()

	cfg := Server{
		Addr:            getString("COUNSEL_ADDR", ":8080"),
		Environment:     getString("APP_ENV", "development"),
		LogLevel:        getString("LOG_LEVEL", "info"),
		LogFormat:       getString("LOG_FORMAT", ""),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     getBool("DATABASE_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getList("KAFKA_BROKERS"),
			ClientID:       getString("KAFKA_CLIENT_ID", "counsel-service"),
			StatusTopic:    getString("KAFKA_STATUS_TOPIC", "counsel.status-changed"),
			Partitions:     int32(getInt("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication:    int16(getInt("KAFKA_TOPIC_REPLICATION", 1)),
			ProduceTimeout: getDuration("KAFKA_PRODUCE_TIMEOUT", 3*time.Second),
		},
		Oracle: OracleConfig{
			URL:                os.Getenv("ORACLE_URL"),
			APIKey:             os.Getenv("ORACLE_API_KEY"),
			Timeout:            ClampOracleTimeout(getDuration("ORACLE_TIMEOUT", DefaultOracleTimeout)),
			RecommendationSize: getInt("RECOMMENDATION_LIMIT", 5),
			HighScoreThreshold: getFloat("HIGH_SCORE_THRESHOLD", 80),
			StaticInstitutions: getList("STATIC_INSTITUTIONS"),
			CircuitFailures:    getInt("ORACLE_CIRCUIT_FAILURES", 5),
			CircuitCooldown:    getDuration("ORACLE_CIRCUIT_COOLDOWN", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSigningKey: getString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        getString("JWT_ISSUER", "yeirin"),
		},
		Webhook: WebhookConfig{
			Sources:   getList("WEBHOOK_SOURCES"),
			DedupeTTL: getDuration("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		},
		Tracing: TracingConfig{
			Enabled:      getBool("OTEL_ENABLED", false),
			ServiceName:  getString("OTEL_SERVICE_NAME", "counsel-service"),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SampleRatio:  getFloat("OTEL_SAMPLE_RATIO", 1),
		},
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	return cfg
}

// IsProduction reports whether the service runs with production defaults.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

// ClampOracleTimeout keeps the oracle deadline within 5 to 10 seconds.
func ClampOracleTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultOracleTimeout
	case d < MinOracleTimeout:
		return MinOracleTimeout
	case d > MaxOracleTimeout:
		return MaxOracleTimeout
	default:
		return d
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return fallback
}

// getDuration accepts Go duration strings ("8s") or whole seconds ("8").
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	return platformstrings.DedupeAndTrim(strings.Split(raw, ","))
}
