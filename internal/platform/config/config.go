package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string
}

// Postgres captures the request/credential store connection.
type Postgres struct {
	URL string
}

// Redis captures the queue transport connection.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Queue names the action queue stream and its consumer group.
type Queue struct {
	Stream string
	Group  string
}

// Worker holds the action executor's polling knobs. Defaults mirror the
// processor's original deployment settings.
type Worker struct {
	PollInterval      time.Duration
	MaxMessages       int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// Issuance holds retention and expiry windows for requests and tokens.
type Issuance struct {
	RequestRetention time.Duration
	TokenTTL         time.Duration
}

// Notify configures outbound approval/decision mails.
type Notify struct {
	Sender  string
	BaseURL string
}

// Config is the full configuration surface for both binaries.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Queue    Queue
	Worker   Worker
	Issuance Issuance
	Notify   Notify
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr: envOr("APPROVALGATE_ADDR", ":8080"),
		},
		Postgres: Postgres{
			URL: envOr("POSTGRES_URL", "postgres://localhost:5432/approvalgate?sslmode=disable"),
		},
		Redis: Redis{
			URL:          envOr("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Queue: Queue{
			Stream: envOr("ACTION_QUEUE_STREAM", "approval:decisions"),
			Group:  envOr("ACTION_QUEUE_GROUP", "action-processor"),
		},
		Worker: Worker{
			PollInterval:      envDuration("WORKER_POLL_INTERVAL", 30*time.Second),
			MaxMessages:       envInt("WORKER_MAX_MESSAGES", 10),
			VisibilityTimeout: envDuration("WORKER_VISIBILITY_TIMEOUT", 5*time.Minute),
			WaitTime:          envDuration("WORKER_WAIT_TIME", 20*time.Second),
		},
		Issuance: Issuance{
			RequestRetention: envDuration("REQUEST_RETENTION", 7*24*time.Hour),
			TokenTTL:         envDuration("TOKEN_TTL", 24*time.Hour),
		},
		Notify: Notify{
			Sender:  envOr("NOTIFY_SENDER", "noreply@approvalgate.local"),
			BaseURL: envOr("DECISION_LINK_BASE_URL", "http://localhost:8080/api/approvals/decide"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
