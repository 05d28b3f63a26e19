package config

// EnvPrefix is handed to envconfig; every field carries an explicit envconfig tag.
const EnvPrefix = "REELCAST"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv              = "REELCAST_APP_ENV"
	EnvPort                = "REELCAST_APP_PORT"
	EnvDBDSN               = "REELCAST_DB_DSN"
	EnvDBHost              = "REELCAST_DB_HOST"
	EnvDBUser              = "REELCAST_DB_USER"
	EnvDBName              = "REELCAST_DB_NAME"
	EnvDBPassword          = "REELCAST_DB_PASSWORD"
	EnvRedisURL            = "REELCAST_REDIS_URL"
	EnvJWTSecret           = "REELCAST_JWT_SECRET"
	EnvJWTIssuer           = "REELCAST_JWT_ISSUER"
	EnvTokenEncryptionKey  = "REELCAST_TOKEN_ENCRYPTION_KEY"
	EnvSchedulerInterval   = "REELCAST_SCHEDULER_SWEEP_INTERVAL"
	EnvPublishRetryMax     = "REELCAST_PUBLISH_RETRY_MAX_ATTEMPTS"
	EnvBillingGateURL      = "REELCAST_BILLING_GATE_URL"
	EnvPubSubPublishTopic  = "REELCAST_PUBSUB_PUBLISHING_TOPIC"
	EnvInstagramPollPeriod = "REELCAST_INSTAGRAM_CONTAINER_POLL_INTERVAL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
