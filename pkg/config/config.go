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
	JWT          JWTConfig
	Crypto       CryptoConfig
	FeatureFlags FeatureFlagsConfig
	Scheduler    SchedulerConfig
	Publishing   PublishingConfig
	RateLimit    RateLimitConfig
	Billing      BillingConfig
	YouTube      YouTubeConfig
	TikTok       TikTokConfig
	Instagram    InstagramConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"REELCAST_APP_ENV" required:"true"`
	Port         string `envconfig:"REELCAST_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"REELCAST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"REELCAST_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"REELCAST_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"REELCAST_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"REELCAST_DB_DSN"`
	Driver string `envconfig:"REELCAST_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"REELCAST_DB_HOST"`
	Port     int    `envconfig:"REELCAST_DB_PORT" default:"5432"`
	User     string `envconfig:"REELCAST_DB_USER"`
	Password string `envconfig:"REELCAST_DB_PASSWORD"`
	Name     string `envconfig:"REELCAST_DB_NAME"`
	SSLMode  string `envconfig:"REELCAST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"REELCAST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"REELCAST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"REELCAST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"REELCAST_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"REELCAST_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REELCAST_REDIS_URL" required:"true"`
	Address      string        `envconfig:"REELCAST_REDIS_ADDR"`
	Password     string        `envconfig:"REELCAST_REDIS_PASSWORD"`
	DB           int           `envconfig:"REELCAST_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"REELCAST_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REELCAST_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REELCAST_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REELCAST_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"REELCAST_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"REELCAST_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"REELCAST_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"REELCAST_JWT_EXPIRATION_MINUTES" default:"60"`
}

// CryptoConfig holds the key used to seal OAuth tokens at rest.
type CryptoConfig struct {
	TokenEncryptionKey string `envconfig:"REELCAST_TOKEN_ENCRYPTION_KEY" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"REELCAST_AUTO_MIGRATE" default:"false"`
}

// SchedulerConfig tunes the sweep and the maintenance jobs run by cmd/scheduler.
type SchedulerConfig struct {
	SweepInterval           time.Duration `envconfig:"REELCAST_SCHEDULER_SWEEP_INTERVAL" default:"60s"`
	BatchSize               int           `envconfig:"REELCAST_SCHEDULER_BATCH_SIZE" default:"50"`
	DispatchConcurrency     int           `envconfig:"REELCAST_SCHEDULER_DISPATCH_CONCURRENCY" default:"4"`
	StaleAfter              time.Duration `envconfig:"REELCAST_SCHEDULER_STALE_AFTER" default:"2h"`
	ReaperInterval          time.Duration `envconfig:"REELCAST_SCHEDULER_REAPER_INTERVAL" default:"10m"`
	OutboxRetentionInterval time.Duration `envconfig:"REELCAST_SCHEDULER_OUTBOX_RETENTION_INTERVAL" default:"24h"`
	OutboxRetentionDays     int           `envconfig:"REELCAST_SCHEDULER_OUTBOX_RETENTION_DAYS" default:"30"`
	UseLock                 bool          `envconfig:"REELCAST_SCHEDULER_USE_LOCK" default:"true"`
	LockTTL                 time.Duration `envconfig:"REELCAST_SCHEDULER_LOCK_TTL" default:"5m"`
}

// PublishingConfig controls timeouts and the in-attempt retry policy.
type PublishingConfig struct {
	UploadTimeout       time.Duration `envconfig:"REELCAST_PUBLISH_UPLOAD_TIMEOUT" default:"10m"`
	RefreshTimeout      time.Duration `envconfig:"REELCAST_PUBLISH_REFRESH_TIMEOUT" default:"30s"`
	StatusTimeout       time.Duration `envconfig:"REELCAST_PUBLISH_STATUS_TIMEOUT" default:"15s"`
	RetryMaxAttempts    int           `envconfig:"REELCAST_PUBLISH_RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff time.Duration `envconfig:"REELCAST_PUBLISH_RETRY_INITIAL_BACKOFF" default:"2s"`
	RetryMaxBackoff     time.Duration `envconfig:"REELCAST_PUBLISH_RETRY_MAX_BACKOFF" default:"30s"`
	RefreshMargin       time.Duration `envconfig:"REELCAST_CREDENTIAL_REFRESH_MARGIN" default:"5m"`
	RefreshLockTTL      time.Duration `envconfig:"REELCAST_CREDENTIAL_REFRESH_LOCK_TTL" default:"30s"`
	RefreshLockWait     time.Duration `envconfig:"REELCAST_CREDENTIAL_REFRESH_LOCK_WAIT" default:"5s"`
}

type RateLimitConfig struct {
	PublishWindow time.Duration `envconfig:"REELCAST_RATE_LIMIT_PUBLISH_WINDOW" default:"1m"`
	PublishLimit  int           `envconfig:"REELCAST_RATE_LIMIT_PUBLISH_LIMIT" default:"10"`
}

// BillingConfig points at the external entitlement check. An empty URL allows all owners.
type BillingConfig struct {
	GateURL  string        `envconfig:"REELCAST_BILLING_GATE_URL"`
	Timeout  time.Duration `envconfig:"REELCAST_BILLING_GATE_TIMEOUT" default:"5s"`
	FailOpen bool          `envconfig:"REELCAST_BILLING_GATE_FAIL_OPEN" default:"false"`
}

type YouTubeConfig struct {
	ClientID       string `envconfig:"REELCAST_YOUTUBE_CLIENT_ID"`
	ClientSecret   string `envconfig:"REELCAST_YOUTUBE_CLIENT_SECRET"`
	RedirectURL    string `envconfig:"REELCAST_YOUTUBE_REDIRECT_URL"`
	APIEndpoint    string `envconfig:"REELCAST_YOUTUBE_API_ENDPOINT"`
	DefaultPrivacy string `envconfig:"REELCAST_YOUTUBE_DEFAULT_PRIVACY" default:"private"`
	CategoryID     string `envconfig:"REELCAST_YOUTUBE_CATEGORY_ID" default:"22"`
}

type TikTokConfig struct {
	ClientKey      string `envconfig:"REELCAST_TIKTOK_CLIENT_KEY"`
	ClientSecret   string `envconfig:"REELCAST_TIKTOK_CLIENT_SECRET"`
	RedirectURL    string `envconfig:"REELCAST_TIKTOK_REDIRECT_URL"`
	BaseURL        string `envconfig:"REELCAST_TIKTOK_BASE_URL" default:"https://open.tiktokapis.com"`
	AuthURL        string `envconfig:"REELCAST_TIKTOK_AUTH_URL" default:"https://www.tiktok.com/v2/auth/authorize/"`
	DefaultPrivacy string `envconfig:"REELCAST_TIKTOK_DEFAULT_PRIVACY" default:"SELF_ONLY"`
}

type InstagramConfig struct {
	AppID                 string        `envconfig:"REELCAST_INSTAGRAM_APP_ID"`
	AppSecret             string        `envconfig:"REELCAST_INSTAGRAM_APP_SECRET"`
	RedirectURL           string        `envconfig:"REELCAST_INSTAGRAM_REDIRECT_URL"`
	AuthURL               string        `envconfig:"REELCAST_INSTAGRAM_AUTH_URL" default:"https://www.instagram.com/oauth/authorize"`
	APIBaseURL            string        `envconfig:"REELCAST_INSTAGRAM_API_BASE_URL" default:"https://api.instagram.com"`
	GraphBaseURL          string        `envconfig:"REELCAST_INSTAGRAM_GRAPH_BASE_URL" default:"https://graph.instagram.com"`
	GraphVersion          string        `envconfig:"REELCAST_INSTAGRAM_GRAPH_VERSION" default:"v21.0"`
	ContainerPollInterval time.Duration `envconfig:"REELCAST_INSTAGRAM_CONTAINER_POLL_INTERVAL" default:"5s"`
	ContainerPollAttempts int           `envconfig:"REELCAST_INSTAGRAM_CONTAINER_POLL_ATTEMPTS" default:"60"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"REELCAST_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PublishingTopic string `envconfig:"REELCAST_PUBSUB_PUBLISHING_TOPIC" default:"reelcast-publishing-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"REELCAST_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"REELCAST_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"REELCAST_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
