package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App       AppConfig
	Device    DeviceConfig
	DB        DBConfig
	Redis     RedisConfig
	Sync      SyncConfig
	Fiscal    FiscalConfig
	Conflicts ConflictsConfig
	Server    ServerConfig
	Status    StatusConfig
	Jobs      JobsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Device.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Conflicts.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MigrationConfig is the subset cmd/migrate needs; it does not require a
// device identity or server address.
type MigrationConfig struct {
	App AppConfig
	DB  DBConfig
}

func LoadMigration() (*MigrationConfig, error) {
	var cfg MigrationConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"POSSYNC_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"POSSYNC_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"POSSYNC_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"POSSYNC_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"POSSYNC_AUTO_MIGRATE" default:"true"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, AppEnvProduction)
}

// DeviceConfig identifies the terminal this process runs on.
type DeviceConfig struct {
	StoreID  string `envconfig:"POSSYNC_STORE_ID" required:"true"`
	DeviceID string `envconfig:"POSSYNC_DEVICE_ID" required:"true"`
}

// Identity parses the configured ids.
func (d DeviceConfig) Identity() (storeID, deviceID uuid.UUID, err error) {
	storeID, err = uuid.Parse(strings.TrimSpace(d.StoreID))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid %s: %w", EnvStoreID, err)
	}
	deviceID, err = uuid.Parse(strings.TrimSpace(d.DeviceID))
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid %s: %w", EnvDeviceID, err)
	}
	return storeID, deviceID, nil
}

func (d DeviceConfig) validate() error {
	_, _, err := d.Identity()
	return err
}

type DBConfig struct {
	Driver string `envconfig:"POSSYNC_DB_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"POSSYNC_DB_DSN" default:"file:possync.db?_busy_timeout=5000&_journal_mode=WAL"`

	MaxOpenConns    int           `envconfig:"POSSYNC_DB_MAX_OPEN_CONNS" default:"0"`
	MaxIdleConns    int           `envconfig:"POSSYNC_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"POSSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POSSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the local store runs on sqlite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

func (db *DBConfig) normalize() error {
	db.Driver = strings.ToLower(strings.TrimSpace(db.Driver))
	switch db.Driver {
	case DriverSQLite:
		// sqlite only tolerates one writer; a single connection keeps the
		// seq and lease updates serialized at the driver level too.
		if db.MaxOpenConns <= 0 {
			db.MaxOpenConns = 1
		}
	case DriverPostgres:
		if db.MaxOpenConns <= 0 {
			db.MaxOpenConns = 10
		}
	default:
		return fmt.Errorf("unsupported %s %q (expected %s or %s)", EnvDBDriver, db.Driver, DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(db.DSN) == "" {
		return fmt.Errorf("%s is required", EnvDBDSN)
	}
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"POSSYNC_REDIS_URL"`
	Address      string        `envconfig:"POSSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"POSSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"POSSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POSSYNC_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"POSSYNC_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"POSSYNC_REDIS_DIAL_TIMEOUT" default:"2s"`
	ReadTimeout  time.Duration `envconfig:"POSSYNC_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"POSSYNC_REDIS_WRITE_TIMEOUT" default:"2s"`
	CacheTTL     time.Duration `envconfig:"POSSYNC_REDIS_CACHE_TTL" default:"5m"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type SyncConfig struct {
	BatchSize          int           `envconfig:"POSSYNC_SYNC_BATCH_SIZE" default:"50"`
	PollInterval       time.Duration `envconfig:"POSSYNC_SYNC_POLL_INTERVAL" default:"5s"`
	MaxTransmitRetries int           `envconfig:"POSSYNC_SYNC_MAX_TRANSMIT_RETRIES" default:"3"`
	RetryBase          time.Duration `envconfig:"POSSYNC_SYNC_RETRY_BASE" default:"500ms"`
	MaxBackoff         time.Duration `envconfig:"POSSYNC_SYNC_MAX_BACKOFF" default:"1h"`
	ClientVersion      string        `envconfig:"POSSYNC_SYNC_CLIENT_VERSION" default:"1.0.0"`
}

type FiscalConfig struct {
	SeriesIDs       []string `envconfig:"POSSYNC_FISCAL_SERIES_IDS"`
	MinRemaining    int64    `envconfig:"POSSYNC_FISCAL_MIN_REMAINING" default:"5"`
	LowThreshold    int64    `envconfig:"POSSYNC_FISCAL_LOW_THRESHOLD" default:"5"`
	PrefetchRatio   float64  `envconfig:"POSSYNC_FISCAL_PREFETCH_RATIO" default:"0.2"`
	ConsumeAttempts int      `envconfig:"POSSYNC_FISCAL_CONSUME_ATTEMPTS" default:"5"`
}

type ConflictsConfig struct {
	DefaultStrategy string `envconfig:"POSSYNC_CONFLICTS_DEFAULT_STRATEGY" default:"take_theirs"`
	AutoResolve     bool   `envconfig:"POSSYNC_CONFLICTS_AUTO_RESOLVE" default:"true"`
}

func (c ConflictsConfig) validate() error {
	switch strings.TrimSpace(c.DefaultStrategy) {
	case "keep_mine", "take_theirs":
		return nil
	default:
		return fmt.Errorf("%s must be keep_mine or take_theirs, got %q", EnvConflictsDefaultStrategy, c.DefaultStrategy)
	}
}

type ServerConfig struct {
	BaseURL string        `envconfig:"POSSYNC_SERVER_BASE_URL" required:"true"`
	Token   string        `envconfig:"POSSYNC_SERVER_TOKEN"`
	Timeout time.Duration `envconfig:"POSSYNC_SERVER_TIMEOUT" default:"60s"`
}

type StatusConfig struct {
	Addr string `envconfig:"POSSYNC_STATUS_ADDR" default:"127.0.0.1:7420"`
}

type JobsConfig struct {
	Interval time.Duration `envconfig:"POSSYNC_JOBS_INTERVAL" default:"1m"`
	LockKey  string        `envconfig:"POSSYNC_JOBS_LOCK_KEY" default:"jobs"`
	LockTTL  time.Duration `envconfig:"POSSYNC_JOBS_LOCK_TTL" default:"5m"`
}
