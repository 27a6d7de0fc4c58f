package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Gateway      GatewayConfig
	Settlement   SettlementConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validateProd(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateProd rejects local-only settings when FORMPAY_APP_ENV=prod.
func (c *Config) validateProd() error {
	if !c.App.IsProd() {
		return nil
	}
	if strings.EqualFold(c.DB.Driver, "sqlite") {
		return fmt.Errorf("sqlite driver is not allowed in %s", AppEnvProd)
	}
	for _, origin := range c.App.CORSOrigins {
		if strings.TrimSpace(origin) == "*" {
			return fmt.Errorf("wildcard CORS origin is not allowed in %s", AppEnvProd)
		}
	}
	return nil
}

type AppConfig struct {
	Env          string   `envconfig:"FORMPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"FORMPAY_APP_PORT" required:"true"`
	PublicURL    string   `envconfig:"FORMPAY_APP_PUBLIC_URL" default:"http://localhost:8080"`
	CORSOrigins  []string `envconfig:"FORMPAY_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	LogLevel     string   `envconfig:"FORMPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"FORMPAY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"FORMPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"FORMPAY_DB_DSN"`
	Driver string `envconfig:"FORMPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FORMPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"FORMPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FORMPAY_DB_USER"`
	LegacyPassword string `envconfig:"FORMPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"FORMPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"FORMPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FORMPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FORMPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FORMPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FORMPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"FORMPAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FORMPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FORMPAY_REDIS_ADDR"`
	Password     string        `envconfig:"FORMPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"FORMPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FORMPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FORMPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FORMPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FORMPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FORMPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FORMPAY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FORMPAY_AUTO_MIGRATE" default:"false"`
}

// GatewayConfig holds the Nets Easy merchant credentials and checkout settings.
type GatewayConfig struct {
	SecretKey        string        `envconfig:"FORMPAY_NETS_SECRET_KEY"`
	CheckoutKey      string        `envconfig:"FORMPAY_NETS_CHECKOUT_KEY"`
	TestMode         bool          `envconfig:"FORMPAY_NETS_TEST_MODE" default:"true"`
	TermsURL         string        `envconfig:"FORMPAY_NETS_TERMS_URL"`
	MerchantTermsURL string        `envconfig:"FORMPAY_NETS_MERCHANT_TERMS_URL"`
	Currency         string        `envconfig:"FORMPAY_NETS_CURRENCY" default:"DKK"`
	RequestTimeout   time.Duration `envconfig:"FORMPAY_NETS_REQUEST_TIMEOUT" default:"30s"`
	ErrorMessage     string        `envconfig:"FORMPAY_CHECKOUT_ERROR_MESSAGE" default:"The payment window could not be loaded. Please try again later."`
}

// Mode returns "test" or "live".
func (g GatewayConfig) Mode() string {
	if g.TestMode {
		return "test"
	}
	return "live"
}

func (g GatewayConfig) validate() error {
	if strings.TrimSpace(g.SecretKey) == "" {
		return fmt.Errorf("%s is required", EnvNetsSecretKey)
	}
	return nil
}

// SettlementConfig tunes the settlement worker and its maintenance jobs.
type SettlementConfig struct {
	BatchSize      int           `envconfig:"FORMPAY_SETTLEMENT_BATCH_SIZE" default:"20"`
	PollIntervalMS int           `envconfig:"FORMPAY_SETTLEMENT_POLL_MS" default:"1000"`
	MaxAttempts    int           `envconfig:"FORMPAY_SETTLEMENT_MAX_ATTEMPTS" default:"5"`
	LeaseTTL       time.Duration `envconfig:"FORMPAY_SETTLEMENT_LEASE_TTL" default:"5m"`
	LockTTL        time.Duration `envconfig:"FORMPAY_SETTLEMENT_LOCK_TTL" default:"5m"`
	RetentionDays  int           `envconfig:"FORMPAY_SETTLEMENT_RETENTION_DAYS" default:"30"`
	MetricsAddr    string        `envconfig:"FORMPAY_SETTLEMENT_METRICS_ADDR" default:":9091"`
}

// PollInterval returns the configured poll interval.
func (s SettlementConfig) PollInterval() time.Duration {
	if s.PollIntervalMS <= 0 {
		return time.Second
	}
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// CronConfig tunes the maintenance cycle.
type CronConfig struct {
	Interval   time.Duration `envconfig:"FORMPAY_CRON_INTERVAL" default:"5m"`
	LockTTL    time.Duration `envconfig:"FORMPAY_CRON_LOCK_TTL" default:"10m"`
	JobTimeout time.Duration `envconfig:"FORMPAY_CRON_JOB_TIMEOUT" default:"2m"`
	// Jobs limits the worker to a comma separated subset; empty runs all.
	Jobs        []string `envconfig:"FORMPAY_CRON_JOBS"`
	MetricsAddr string   `envconfig:"FORMPAY_CRON_METRICS_ADDR" default:":9093"`
}

type RateLimitConfig struct {
	CheckoutWindow  time.Duration `envconfig:"FORMPAY_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutIPLimit int           `envconfig:"FORMPAY_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"30"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"FORMPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"FORMPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"FORMPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentEventsTopic string `envconfig:"FORMPAY_PUBSUB_PAYMENT_EVENTS_TOPIC" default:"formpay-payment-events"`
	// CreateTopics creates missing topics instead of failing; meant for the emulator.
	CreateTopics   bool `envconfig:"FORMPAY_PUBSUB_CREATE_TOPICS" default:"false"`
	PublishDelayMS int  `envconfig:"FORMPAY_PUBSUB_PUBLISH_DELAY_MS" default:"10"`
	PublishCount   int  `envconfig:"FORMPAY_PUBSUB_PUBLISH_COUNT" default:"100"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"FORMPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"FORMPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"FORMPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"FORMPAY_OUTBOX_RETENTION_DAYS" default:"30"`

	MetricsAddr string `envconfig:"FORMPAY_OUTBOX_METRICS_ADDR" default:":9092"`
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
