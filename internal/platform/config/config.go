// Package config builds process configuration from SIGNET_* environment
// variables so main stays lean. Every knob has a development default; only
// secrets and addresses need to be set in production.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "signet/pkg/platform/strings"
)

// Config groups all process configuration.
type Config struct {
	Server      ServerConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Outbox      OutboxConfig
	Documents   DocumentsConfig
	Tokens      TokensConfig
	Idempotency IdempotencyConfig
	Lifecycle   LifecycleConfig
}

// ServerConfig captures HTTP server level configuration. An empty
// AdminToken keeps the tenant administration surface closed.
type ServerConfig struct {
	Addr              string
	LogLevel          string
	AdminToken        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// PostgresConfig captures the primary store connection.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig captures the single-use token store connection.
// An empty URL means Redis is not configured and the memory fallback is used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig captures the event bus connection. Empty brokers means the bus
// is not configured and dispatch logs events instead of publishing.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
}

// OutboxConfig tunes the dispatcher. MaxAttempts is the retry ceiling for
// failed records; records beyond it wait for operator redispatch.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// DocumentsConfig captures the blob store. An empty bucket selects the
// in-memory store (development and tests). Endpoint is only set for
// S3-compatible stores such as MinIO.
type DocumentsConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// TokensConfig captures signing-token issuance.
type TokensConfig struct {
	SigningKey string
	TTL        time.Duration
}

// IdempotencyConfig tunes the command guard and its maintenance sweep.
type IdempotencyConfig struct {
	TTL          time.Duration
	ReapInterval time.Duration
	ReapLimit    int
}

// LifecycleConfig captures tunable lifecycle policy.
// DeclinePolicy is "decline_continues" (envelope waits for the remaining
// signers' fate) or "decline_blocks" (a sequential upstream decline declines
// the envelope immediately).
type LifecycleConfig struct {
	DeclinePolicy       string
	PartyPageSize       int
	ExpirySweepInterval time.Duration
	ExpirySweepLimit    int
}

// FromEnv builds the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:              getString("SIGNET_ADDR", ":8080"),
			LogLevel:          getString("SIGNET_LOG_LEVEL", "info"),
			AdminToken:        getString("SIGNET_ADMIN_TOKEN", ""),
			ReadHeaderTimeout: getDuration("SIGNET_READ_HEADER_TIMEOUT", 5*time.Second),
			ShutdownTimeout:   getDuration("SIGNET_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: PostgresConfig{
			DSN:             getString("SIGNET_POSTGRES_DSN", ""),
			MaxOpenConns:    getInt("SIGNET_POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("SIGNET_POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("SIGNET_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          getString("SIGNET_REDIS_URL", ""),
			PoolSize:     getInt("SIGNET_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("SIGNET_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("SIGNET_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("SIGNET_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("SIGNET_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           getStrings("SIGNET_KAFKA_BROKERS", nil),
			Topic:             getString("SIGNET_KAFKA_TOPIC", "signet.envelope.events"),
			ClientID:          getString("SIGNET_KAFKA_CLIENT_ID", "signet-server"),
			Partitions:        int32(getInt("SIGNET_KAFKA_PARTITIONS", 6)),
			ReplicationFactor: int16(getInt("SIGNET_KAFKA_REPLICATION_FACTOR", 1)),
		},
		Outbox: OutboxConfig{
			BatchSize:    getInt("SIGNET_OUTBOX_BATCH_SIZE", 50),
			PollInterval: getDuration("SIGNET_OUTBOX_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  getInt("SIGNET_OUTBOX_MAX_ATTEMPTS", 5),
			BackoffBase:  getDuration("SIGNET_OUTBOX_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:   getDuration("SIGNET_OUTBOX_BACKOFF_CAP", 30*time.Second),
		},
		Documents: DocumentsConfig{
			Bucket:   getString("SIGNET_DOCUMENTS_BUCKET", ""),
			Region:   getString("SIGNET_DOCUMENTS_REGION", "eu-west-1"),
			Endpoint: getString("SIGNET_DOCUMENTS_ENDPOINT", ""),
			Prefix:   getString("SIGNET_DOCUMENTS_PREFIX", ""),
		},
		Tokens: TokensConfig{
			// Development default; must be overridden in production.
			SigningKey: getString("SIGNET_TOKEN_SIGNING_KEY", "dev-secret-key-change-in-production"),
			TTL:        getDuration("SIGNET_TOKEN_TTL", 72*time.Hour),
		},
		Idempotency: IdempotencyConfig{
			TTL:          getDuration("SIGNET_IDEMPOTENCY_TTL", 24*time.Hour),
			ReapInterval: getDuration("SIGNET_IDEMPOTENCY_REAP_INTERVAL", 10*time.Minute),
			ReapLimit:    getInt("SIGNET_IDEMPOTENCY_REAP_LIMIT", 500),
		},
		Lifecycle: LifecycleConfig{
			DeclinePolicy:       getString("SIGNET_DECLINE_POLICY", "decline_continues"),
			PartyPageSize:       getInt("SIGNET_PARTY_PAGE_SIZE", 200),
			ExpirySweepInterval: getDuration("SIGNET_EXPIRY_SWEEP_INTERVAL", time.Minute),
			ExpirySweepLimit:    getInt("SIGNET_EXPIRY_SWEEP_LIMIT", 200),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getStrings(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	out := platformstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
