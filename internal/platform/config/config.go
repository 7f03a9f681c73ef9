package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Usage store backends.
const (
	UsageStoreMemory   = "memory"
	UsageStorePostgres = "postgres"
	UsageStoreRedis    = "redis"
)

// Server captures process level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// DatabaseURL selects Postgres-backed stores; empty means in-memory (dev).
	DatabaseURL string
	Redis       RedisConfig
	Kafka       KafkaConfig

	TierCatalogPath  string
	EnforceTierOrder bool
	UsageStore       string

	Providers ProviderConfig

	KYCWebhookSecret  string
	KYCWebhookMaxSkew time.Duration
	JWTSigningKey     string
	JWTIssuer         string

	Reconciler ReconcilerConfig
}

// RedisConfig mirrors the go-redis options we override.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
	Partitions int32
}

// ProviderConfig bounds calls to the identity and exchange providers.
// SandboxLatency delays the in-process sandbox providers used by the binary.
type ProviderConfig struct {
	SandboxLatency   time.Duration
	Timeout          time.Duration
	MaxRetries       uint64
	BreakerThreshold int
	BreakerCoolDown  time.Duration
}

type ReconcilerConfig struct {
	Interval    time.Duration
	Grace       time.Duration
	Retention   time.Duration
	Concurrency int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	duration := func(key string, fallback time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Sprintf("invalid %s: %q", key, v))
			return fallback
		}
		return d
	}
	integer := func(key string, fallback int) int {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("invalid %s: %q", key, v))
			return fallback
		}
		return n
	}
	boolean := func(key string, fallback bool) bool {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %q", key, v))
			return fallback
		}
		return b
	}

	cfg := Server{
		Addr:            getEnv("ADDR", ":8080"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "tiergate.audit"),
			Partitions: int32(integer("KAFKA_AUDIT_PARTITIONS", 3)),
		},
		TierCatalogPath:  os.Getenv("TIER_CATALOG_PATH"),
		EnforceTierOrder: boolean("ENFORCE_TIER_ORDER", true),
		UsageStore:       strings.ToLower(getEnv("USAGE_STORE", "")),
		Providers: ProviderConfig{
			SandboxLatency:   duration("PROVIDER_SANDBOX_LATENCY", 50*time.Millisecond),
			Timeout:          duration("PROVIDER_TIMEOUT", 5*time.Second),
			MaxRetries:       uint64(integer("PROVIDER_MAX_RETRIES", 2)),
			BreakerThreshold: integer("PROVIDER_BREAKER_THRESHOLD", 5),
			BreakerCoolDown:  duration("PROVIDER_BREAKER_COOLDOWN", 30*time.Second),
		},
		KYCWebhookSecret:  os.Getenv("KYC_WEBHOOK_SECRET"),
		KYCWebhookMaxSkew: duration("KYC_WEBHOOK_MAX_SKEW", 5*time.Minute),
		JWTSigningKey:     os.Getenv("JWT_SIGNING_KEY"),
		JWTIssuer:         getEnv("JWT_ISSUER", "tiergate"),
		Reconciler: ReconcilerConfig{
			Interval:    duration("RECONCILE_INTERVAL", 30*time.Second),
			Grace:       duration("RECONCILE_GRACE", 2*time.Minute),
			Retention:   duration("SAGA_RETENTION", 72*time.Hour),
			Concurrency: integer("RECONCILE_CONCURRENCY", 4),
		},
	}

	if cfg.UsageStore == "" {
		cfg.UsageStore = UsageStoreMemory
		if cfg.DatabaseURL != "" {
			cfg.UsageStore = UsageStorePostgres
		}
	}
	switch cfg.UsageStore {
	case UsageStoreMemory:
	case UsageStorePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "USAGE_STORE=postgres requires DATABASE_URL")
		}
	case UsageStoreRedis:
		if cfg.Redis.URL == "" {
			errs = append(errs, "USAGE_STORE=redis requires REDIS_URL")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid USAGE_STORE: %q", cfg.UsageStore))
	}

	if len(errs) > 0 {
		return Server{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// DevMode reports whether the process runs entirely on in-memory stores.
func (s Server) DevMode() bool {
	return s.DatabaseURL == ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
