package config

const (
	EnvPrefix = "KITCHENOPS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "KITCHENOPS_APP_ENV"
	EnvPort      = "KITCHENOPS_APP_PORT"
	EnvDBDSN     = "KITCHENOPS_DB_DSN"
	EnvDBHost    = "KITCHENOPS_DB_HOST"
	EnvDBUser    = "KITCHENOPS_DB_USER"
	EnvDBName    = "KITCHENOPS_DB_NAME"
	EnvRedisURL  = "KITCHENOPS_REDIS_URL"
	EnvJWTSecret = "KITCHENOPS_JWT_SECRET"

	EnvStripeAPIKey  = "KITCHENOPS_STRIPE_API_KEY"
	EnvStripeSecret  = "KITCHENOPS_STRIPE_SECRET"
	EnvStripePriceID = "KITCHENOPS_STRIPE_SUBSCRIPTION_PRICE_ID"

	EnvPubSubLifecycleTopic = "KITCHENOPS_PUBSUB_LIFECYCLE_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
