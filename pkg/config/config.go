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
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Tasks        TasksConfig
	Cache        CacheConfig
	Checkout     CheckoutConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
		if cfg.DB.DSN == "" {
			cfg.DB.DSN = defaultSQLiteDSN
		}
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Tasks.validate(cfg.GCP, cfg.PubSub); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"STOREFRONT_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"STOREFRONT_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"STOREFRONT_DB_HOST"`
	Port     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	User     string `envconfig:"STOREFRONT_DB_USER"`
	Password string `envconfig:"STOREFRONT_DB_PASSWORD"`
	Name     string `envconfig:"STOREFRONT_DB_NAME"`
	SSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"STOREFRONT_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"STOREFRONT_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	TasksTopic        string `envconfig:"STOREFRONT_PUBSUB_TASKS_TOPIC" default:"storefront-tasks"`
	TasksSubscription string `envconfig:"STOREFRONT_PUBSUB_TASKS_SUBSCRIPTION" default:"storefront-tasks-worker"`
	AlertsTopic       string `envconfig:"STOREFRONT_PUBSUB_ALERTS_TOPIC"`
}

// TasksConfig selects the background task backend.
type TasksConfig struct {
	Backend        string        `envconfig:"STOREFRONT_TASKS_BACKEND" default:"local"`
	Workers        int           `envconfig:"STOREFRONT_TASKS_WORKERS" default:"4"`
	BufferSize     int           `envconfig:"STOREFRONT_TASKS_BUFFER_SIZE" default:"256"`
	IdempotencyTTL time.Duration `envconfig:"STOREFRONT_TASKS_IDEMPOTENCY_TTL" default:"24h"`
}

func (t TasksConfig) UsePubSub() bool {
	return strings.EqualFold(strings.TrimSpace(t.Backend), TasksBackendPubSub)
}

func (t TasksConfig) validate(gcp GCPConfig, ps PubSubConfig) error {
	switch strings.ToLower(strings.TrimSpace(t.Backend)) {
	case TasksBackendLocal:
		return nil
	case TasksBackendPubSub:
		if strings.TrimSpace(gcp.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProjectID, EnvTasksBackend, TasksBackendPubSub)
		}
		if strings.TrimSpace(ps.TasksTopic) == "" || strings.TrimSpace(ps.TasksSubscription) == "" {
			return fmt.Errorf("tasks topic and subscription are required for the pubsub backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown tasks backend %q", t.Backend)
	}
}

type CacheConfig struct {
	Backend  string        `envconfig:"STOREFRONT_CACHE_BACKEND" default:"redis"`
	CartTTL  time.Duration `envconfig:"STOREFRONT_CACHE_CART_TTL" default:"5m"`
	OrderTTL time.Duration `envconfig:"STOREFRONT_CACHE_ORDER_TTL" default:"30m"`
}

func (c CacheConfig) UseMemory() bool {
	return strings.EqualFold(strings.TrimSpace(c.Backend), CacheBackendMemory)
}

type CheckoutConfig struct {
	Window          time.Duration `envconfig:"STOREFRONT_CHECKOUT_WINDOW" default:"168h"`
	StrictAuditLog  bool          `envconfig:"STOREFRONT_CHECKOUT_STRICT_AUDIT_LOG" default:"false"`
	MaxItemQuantity int           `envconfig:"STOREFRONT_CHECKOUT_MAX_ITEM_QUANTITY" default:"100"`
}

type CronConfig struct {
	Interval  time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"15m"`
	LockTTL   time.Duration `envconfig:"STOREFRONT_CRON_LOCK_TTL" default:"10m"`
	BatchSize int           `envconfig:"STOREFRONT_CRON_BATCH_SIZE" default:"200"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `envconfig:"STOREFRONT_RATE_LIMIT_RPS" default:"10"`
	Burst             int     `envconfig:"STOREFRONT_RATE_LIMIT_BURST" default:"20"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if !strings.EqualFold(db.Driver, DriverPostgres) {
		return fmt.Errorf("%s is required for driver %q", EnvDBDSN, db.Driver)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
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
