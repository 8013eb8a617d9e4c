package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Worker       WorkerConfig
	Scheduler    SchedulerConfig
	Backup       BackupConfig
	Export       ExportConfig
	Retention    RetentionConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// NotificationConfig holds outbound notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// WorkerConfig tunes the background worker pool.
type WorkerConfig struct {
	Workers               int
	PollIntervalSeconds   int
	LeaseSeconds          int
	HandlerTimeoutSeconds int
}

// SchedulerConfig sets periodic job intervals.
type SchedulerConfig struct {
	SLASweepMinutes int
	BackupHours     int
	CleanupHours    int
}

// BackupConfig controls the nightly database backup job.
type BackupConfig struct {
	Dir string
}

// ExportConfig controls the async CSV export job.
type ExportConfig struct {
	Dir string
}

// RetentionConfig controls audit history retention cleanup.
type RetentionConfig struct {
	HistoryDays int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "service-request-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Worker: WorkerConfig{
			Workers:               getEnvAsInt("WORKER_COUNT", 4),
			PollIntervalSeconds:   getEnvAsInt("WORKER_POLL_INTERVAL_SECONDS", 2),
			LeaseSeconds:          getEnvAsInt("WORKER_LEASE_SECONDS", 60),
			HandlerTimeoutSeconds: getEnvAsInt("WORKER_HANDLER_TIMEOUT_SECONDS", 30),
		},
		Scheduler: SchedulerConfig{
			SLASweepMinutes: getEnvAsInt("SCHEDULE_SLA_SWEEP_MINUTES", 5),
			BackupHours:     getEnvAsInt("SCHEDULE_BACKUP_HOURS", 24),
			CleanupHours:    getEnvAsInt("SCHEDULE_CLEANUP_HOURS", 24),
		},
		Backup: BackupConfig{
			Dir: getEnv("BACKUP_DIR", "/backups"),
		},
		Export: ExportConfig{
			Dir: getEnv("EXPORT_DIR", "/exports"),
		},
		Retention: RetentionConfig{
			HistoryDays: getEnvAsInt("RETENTION_HISTORY_DAYS", 90),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// PollInterval returns how long an idle worker sleeps between claims.
func (w WorkerConfig) PollInterval() time.Duration {
	if w.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// Lease returns the visibility lease granted per claim.
func (w WorkerConfig) Lease() time.Duration {
	if w.LeaseSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(w.LeaseSeconds) * time.Second
}

// HandlerTimeout bounds a single handler execution.
func (w WorkerConfig) HandlerTimeout() time.Duration {
	if w.HandlerTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(w.HandlerTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
