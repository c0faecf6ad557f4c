package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Stripe        StripeConfig
	Identity      IdentityConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Worker        WorkerConfig
	Webhook       WebhookConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"KITCHENOPS_APP_ENV" required:"true"`
	Port         string   `envconfig:"KITCHENOPS_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"KITCHENOPS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"KITCHENOPS_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"KITCHENOPS_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"KITCHENOPS_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

// ConsoleLogs reports whether logs should use the human readable writer.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(strings.TrimSpace(a.LogFormat), "console")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KITCHENOPS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"KITCHENOPS_DB_DSN"`

	LegacyHost     string `envconfig:"KITCHENOPS_DB_HOST"`
	LegacyPort     int    `envconfig:"KITCHENOPS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KITCHENOPS_DB_USER"`
	LegacyPassword string `envconfig:"KITCHENOPS_DB_PASSWORD"`
	LegacyName     string `envconfig:"KITCHENOPS_DB_NAME"`
	LegacySSLMode  string `envconfig:"KITCHENOPS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KITCHENOPS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KITCHENOPS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KITCHENOPS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KITCHENOPS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KITCHENOPS_REDIS_URL"`
	Address      string        `envconfig:"KITCHENOPS_REDIS_ADDR"`
	Password     string        `envconfig:"KITCHENOPS_REDIS_PASSWORD"`
	DB           int           `envconfig:"KITCHENOPS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KITCHENOPS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KITCHENOPS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KITCHENOPS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KITCHENOPS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KITCHENOPS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for tokens issued by the identity provider.
type JWTConfig struct {
	Secret   string `envconfig:"KITCHENOPS_JWT_SECRET" required:"true"`
	Issuer   string `envconfig:"KITCHENOPS_JWT_ISSUER"`
	Audience string `envconfig:"KITCHENOPS_JWT_AUDIENCE" default:"authenticated"`
}

type AuthRateLimitConfig struct {
	SignupWindow     time.Duration `envconfig:"KITCHENOPS_AUTH_RATE_LIMIT_SIGNUP_WINDOW" default:"5m"`
	SignupEmailLimit int           `envconfig:"KITCHENOPS_AUTH_RATE_LIMIT_SIGNUP_EMAIL_LIMIT" default:"3"`
	SignupIPLimit    int           `envconfig:"KITCHENOPS_AUTH_RATE_LIMIT_SIGNUP_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"KITCHENOPS_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey              string        `envconfig:"KITCHENOPS_STRIPE_API_KEY"`
	Secret              string        `envconfig:"KITCHENOPS_STRIPE_SECRET"`
	Env                 string        `envconfig:"KITCHENOPS_STRIPE_ENV" default:"test"`
	SubscriptionPriceID string        `envconfig:"KITCHENOPS_STRIPE_SUBSCRIPTION_PRICE_ID"`
	PortalReturnURL     string        `envconfig:"KITCHENOPS_STRIPE_PORTAL_RETURN_URL"`
	CallTimeout         time.Duration `envconfig:"KITCHENOPS_STRIPE_CALL_TIMEOUT" default:"15s"`
	MaxRetries          uint          `envconfig:"KITCHENOPS_STRIPE_MAX_RETRIES" default:"3"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// IdentityConfig points at the GoTrue-compatible auth admin API.
type IdentityConfig struct {
	BaseURL           string        `envconfig:"KITCHENOPS_IDENTITY_BASE_URL"`
	ServiceKey        string        `envconfig:"KITCHENOPS_IDENTITY_SERVICE_KEY"`
	MagicLinkRedirect string        `envconfig:"KITCHENOPS_IDENTITY_MAGIC_LINK_REDIRECT"`
	Timeout           time.Duration `envconfig:"KITCHENOPS_IDENTITY_TIMEOUT" default:"10s"`
	MaxRetries        uint          `envconfig:"KITCHENOPS_IDENTITY_MAX_RETRIES" default:"3"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"KITCHENOPS_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"KITCHENOPS_GCP_CREDENTIALS_JSON"`
}

// PubSubConfig is optional; an empty topic disables lifecycle fan-out.
type PubSubConfig struct {
	LifecycleTopic string `envconfig:"KITCHENOPS_PUBSUB_LIFECYCLE_TOPIC"`
}

// Enabled reports whether lifecycle events should be published.
func (p PubSubConfig) Enabled() bool {
	return strings.TrimSpace(p.LifecycleTopic) != ""
}

type OutboxConfig struct {
	BatchSize   int `envconfig:"KITCHENOPS_OUTBOX_BATCH_SIZE" default:"50"`
	MaxAttempts int `envconfig:"KITCHENOPS_OUTBOX_MAX_ATTEMPTS" default:"10"`
	// RetentionDays bounds how long delivered rows are kept.
	RetentionDays int `envconfig:"KITCHENOPS_OUTBOX_RETENTION_DAYS" default:"30"`
}

type WorkerConfig struct {
	DispatchSchedule  string        `envconfig:"KITCHENOPS_WORKER_DISPATCH_SCHEDULE" default:"@every 30s"`
	ReconcileSchedule string        `envconfig:"KITCHENOPS_WORKER_RECONCILE_SCHEDULE" default:"@every 15m"`
	RetentionSchedule string        `envconfig:"KITCHENOPS_WORKER_RETENTION_SCHEDULE" default:"@daily"`
	LockTTL           time.Duration `envconfig:"KITCHENOPS_WORKER_LOCK_TTL" default:"10m"`
	MetricsPort       string        `envconfig:"KITCHENOPS_WORKER_METRICS_PORT" default:"9090"`
	StaleIncomplete   time.Duration `envconfig:"KITCHENOPS_WORKER_STALE_INCOMPLETE" default:"1h"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"KITCHENOPS_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
