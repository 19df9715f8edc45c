package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	TasksBackendLocal  = "local"
	TasksBackendPubSub = "pubsub"

	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"

	defaultSQLiteDSN = "file:storefront.db?cache=shared&_foreign_keys=on"
)

const (
	EnvAppEnv         = "STOREFRONT_APP_ENV"
	EnvPort           = "STOREFRONT_APP_PORT"
	EnvDBDSN          = "STOREFRONT_DB_DSN"
	EnvDBDriver       = "STOREFRONT_DB_DRIVER"
	EnvDBHost         = "STOREFRONT_DB_HOST"
	EnvDBUser         = "STOREFRONT_DB_USER"
	EnvDBName         = "STOREFRONT_DB_NAME"
	EnvRedisURL       = "STOREFRONT_REDIS_URL"
	EnvJWTSecret      = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer      = "STOREFRONT_JWT_ISSUER"
	EnvUseSQLite      = "STOREFRONT_USE_SQLITE"
	EnvGCPProjectID   = "STOREFRONT_GCP_PROJECT_ID"
	EnvTasksBackend   = "STOREFRONT_TASKS_BACKEND"
	EnvCheckoutWindow = "STOREFRONT_CHECKOUT_WINDOW"
	EnvStrictAuditLog = "STOREFRONT_CHECKOUT_STRICT_AUDIT_LOG"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
