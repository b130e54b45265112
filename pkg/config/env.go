package config

const EnvPrefix = "POSSYNC"

const (
	AppEnvDev        = "dev"
	AppEnvProd       = "prod"
	AppEnvProduction = "production"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	EnvAppEnv       = "POSSYNC_APP_ENV"
	EnvLogLevel     = "POSSYNC_LOG_LEVEL"
	EnvLogWarnStack = "POSSYNC_LOG_WARN_STACK"

	EnvStoreID  = "POSSYNC_STORE_ID"
	EnvDeviceID = "POSSYNC_DEVICE_ID"

	EnvDBDriver = "POSSYNC_DB_DRIVER"
	EnvDBDSN    = "POSSYNC_DB_DSN"

	EnvRedisURL  = "POSSYNC_REDIS_URL"
	EnvRedisAddr = "POSSYNC_REDIS_ADDR"

	EnvSyncBatchSize   = "POSSYNC_SYNC_BATCH_SIZE"
	EnvFiscalSeriesIDs = "POSSYNC_FISCAL_SERIES_IDS"
	EnvServerBaseURL   = "POSSYNC_SERVER_BASE_URL"
	EnvServerToken     = "POSSYNC_SERVER_TOKEN"
	EnvStatusAddr      = "POSSYNC_STATUS_ADDR"
	EnvJobsInterval    = "POSSYNC_JOBS_INTERVAL"

	EnvConflictsDefaultStrategy = "POSSYNC_CONFLICTS_DEFAULT_STRATEGY"
)
