package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	GRPC          GRPCConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Alerting      AlertingConfig
	Correlation   CorrelationConfig
	Notifications NotificationConfig
	Escalation    EscalationConfig
	SelfHealing   SelfHealingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `envconfig:"PORT" default:"8080"`
	Environment  string        `envconfig:"ENV" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// IngestRateLimit caps ingest requests per credential per minute.
	// Zero disables the limiter.
	IngestRateLimit int `envconfig:"SERVER_INGEST_RATE_LIMIT" default:"600"`
}

// GRPCConfig holds the OTLP metrics ingest server configuration
type GRPCConfig struct {
	Port    int  `envconfig:"GRPC_PORT" default:"4317"`
	Enabled bool `envconfig:"GRPC_ENABLED" default:"true"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER" default:"pipeguard"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" default:"pipeguard"`
	Database        string        `envconfig:"POSTGRES_DB" default:"pipeguard"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"5m"`
}

// DSN returns the PostgreSQL connection string
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL used by the migrator.
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ClickHouseConfig holds ClickHouse connection configuration
type ClickHouseConfig struct {
	Host        string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port        int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Database    string        `envconfig:"CLICKHOUSE_DB" default:"pipeguard"`
	User        string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password    string        `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	DialTimeout time.Duration `envconfig:"CLICKHOUSE_DIAL_TIMEOUT" default:"5s"`
	MaxOpenConn int           `envconfig:"CLICKHOUSE_MAX_OPEN_CONN" default:"10"`
	MaxIdleConn int           `envconfig:"CLICKHOUSE_MAX_IDLE_CONN" default:"5"`
}

// RedisConfig holds the notification dedup store configuration
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret        string        `envconfig:"JWT_SECRET" required:"true"`
	JWTExpiration    time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`
	APIKeySalt       string        `envconfig:"API_KEY_SALT" required:"true"`
	BcryptCost       int           `envconfig:"BCRYPT_COST" default:"12"`
	OperatorUser     string        `envconfig:"OPERATOR_USER" default:"operator"`
	OperatorPassword string        `envconfig:"OPERATOR_PASSWORD_HASH" required:"true"` // bcrypt hash
}

// AlertingConfig holds rule engine and generator configuration
type AlertingConfig struct {
	RulesFile           string `envconfig:"ALERTING_RULES_FILE" default:"configs/alerting.yaml"`
	WatchRulesFile      bool   `envconfig:"ALERTING_WATCH_RULES_FILE" default:"true"`
	MaxConcurrentAlerts int    `envconfig:"ALERTING_MAX_CONCURRENT_ALERTS" default:"10"`
}

// CorrelationConfig holds alert correlation and suppression configuration
type CorrelationConfig struct {
	Window           time.Duration `envconfig:"CORRELATION_WINDOW" default:"5m"`
	GroupTTL         time.Duration `envconfig:"CORRELATION_GROUP_TTL" default:"30m"`
	RateLimitCount   int           `envconfig:"CORRELATION_RATE_LIMIT_COUNT" default:"10"`
	RateLimitWindow  time.Duration `envconfig:"CORRELATION_RATE_LIMIT_WINDOW" default:"5m"`
	RateLimitEnabled bool          `envconfig:"CORRELATION_RATE_LIMIT_ENABLED" default:"true"`
}

// NotificationConfig holds router and transport configuration
type NotificationConfig struct {
	MaxConcurrent         int           `envconfig:"NOTIFICATIONS_MAX_CONCURRENT" default:"10"`
	DispatchTimeout       time.Duration `envconfig:"NOTIFICATIONS_DISPATCH_TIMEOUT" default:"30s"`
	BatchMessageTimeout   time.Duration `envconfig:"NOTIFICATIONS_BATCH_MESSAGE_TIMEOUT" default:"60s"`
	HistoryRetentionHours int           `envconfig:"NOTIFICATIONS_HISTORY_RETENTION_HOURS" default:"24"`

	TeamsWebhookURL string        `envconfig:"NOTIFICATIONS_TEAMS_WEBHOOK_URL" default:""`
	TeamsTimeout    time.Duration `envconfig:"NOTIFICATIONS_TEAMS_TIMEOUT" default:"10s"`

	SMTPHost        string   `envconfig:"NOTIFICATIONS_SMTP_HOST" default:""`
	SMTPPort        int      `envconfig:"NOTIFICATIONS_SMTP_PORT" default:"587"`
	SMTPUser        string   `envconfig:"NOTIFICATIONS_SMTP_USER" default:""`
	SMTPPassword    string   `envconfig:"NOTIFICATIONS_SMTP_PASSWORD" default:""`
	SMTPFrom        string   `envconfig:"NOTIFICATIONS_SMTP_FROM" default:"pipeguard@localhost"`
	EmailRecipients []string `envconfig:"NOTIFICATIONS_EMAIL_RECIPIENTS" default:""`

	SlackToken   string `envconfig:"NOTIFICATIONS_SLACK_TOKEN" default:""`
	SlackChannel string `envconfig:"NOTIFICATIONS_SLACK_CHANNEL" default:"#pipeline-alerts"`
}

// EscalationConfig holds escalation monitor configuration
type EscalationConfig struct {
	CheckInterval time.Duration `envconfig:"ESCALATION_CHECK_INTERVAL" default:"60s"`
}

// SelfHealingConfig holds healing decision configuration
type SelfHealingConfig struct {
	Mode                    string        `envconfig:"SELF_HEALING_MODE" default:"semi_automatic"` // 'disabled', 'recommendation_only', 'semi_automatic', 'automatic'
	ConfidenceThreshold     float64       `envconfig:"SELF_HEALING_CONFIDENCE_THRESHOLD" default:"0.85"`
	ImpactThreshold         float64       `envconfig:"SELF_HEALING_IMPACT_THRESHOLD" default:"0.6"`
	MaxRetryAttempts        int           `envconfig:"SELF_HEALING_MAX_RETRY_ATTEMPTS" default:"3"`
	ApprovalExpirationHours int           `envconfig:"SELF_HEALING_APPROVAL_EXPIRATION_HOURS" default:"24"`
	ApprovalSweepInterval   time.Duration `envconfig:"SELF_HEALING_APPROVAL_SWEEP_INTERVAL" default:"5m"`
	MinHistorySamples       int           `envconfig:"SELF_HEALING_MIN_HISTORY_SAMPLES" default:"5"`

	// SimulationMode executes selected resolutions as dry runs. Disable
	// only with an executor webhook configured.
	SimulationMode     bool          `envconfig:"SELF_HEALING_SIMULATION_MODE" default:"true"`
	ExecutorWebhookURL string        `envconfig:"SELF_HEALING_EXECUTOR_WEBHOOK_URL" default:""`
	ExecutorTimeout    time.Duration `envconfig:"SELF_HEALING_EXECUTOR_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("PIPEGUARD", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
