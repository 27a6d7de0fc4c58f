package config

// EnvPrefix is the envconfig prefix. Field tags carry the full variable names.
const EnvPrefix = "FORMPAY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "FORMPAY_APP_ENV"
	EnvPort     = "FORMPAY_APP_PORT"
	EnvLogLevel = "FORMPAY_LOG_LEVEL"

	EnvDBDSN  = "FORMPAY_DB_DSN"
	EnvDBHost = "FORMPAY_DB_HOST"
	EnvDBUser = "FORMPAY_DB_USER"
	EnvDBName = "FORMPAY_DB_NAME"

	EnvRedisURL = "FORMPAY_REDIS_URL"

	EnvNetsSecretKey   = "FORMPAY_NETS_SECRET_KEY"
	EnvNetsCheckoutKey = "FORMPAY_NETS_CHECKOUT_KEY"
	EnvNetsTestMode    = "FORMPAY_NETS_TEST_MODE"
	EnvNetsTermsURL    = "FORMPAY_NETS_TERMS_URL"

	EnvSettlementMaxAttempts = "FORMPAY_SETTLEMENT_MAX_ATTEMPTS"
	EnvPubSubPaymentTopic    = "FORMPAY_PUBSUB_PAYMENT_EVENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
