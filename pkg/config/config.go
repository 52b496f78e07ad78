package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	Gateway GatewayConfig
	Voucher VoucherConfig
	ERP     ERPConfig
	Device  DeviceConfig
	Payment PaymentConfig
	PubSub  PubSubConfig
	Outbox  OutboxConfig
	Cron    CronConfig
	GCP     GCPConfig
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
	Env          string `envconfig:"WASHPAY_APP_ENV" required:"true"`
	Port         string `envconfig:"WASHPAY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WASHPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WASHPAY_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"WASHPAY_APP_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WASHPAY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WASHPAY_DB_DSN"`
	Driver string `envconfig:"WASHPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WASHPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"WASHPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WASHPAY_DB_USER"`
	LegacyPassword string `envconfig:"WASHPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"WASHPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"WASHPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WASHPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WASHPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WASHPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WASHPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WASHPAY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"WASHPAY_REDIS_ADDR"`
	Password     string        `envconfig:"WASHPAY_REDIS_PASSWORD"`
	DB           int           `envconfig:"WASHPAY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WASHPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WASHPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WASHPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WASHPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WASHPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// GatewayConfig drives the payment gateway client.
type GatewayConfig struct {
	BaseURL       string        `envconfig:"WASHPAY_GATEWAY_BASE_URL" required:"true"`
	ClientID      string        `envconfig:"WASHPAY_GATEWAY_CLIENT_ID" required:"true"`
	ClientSecret  string        `envconfig:"WASHPAY_GATEWAY_CLIENT_SECRET" required:"true"`
	SigningSecret string        `envconfig:"WASHPAY_GATEWAY_SIGNING_SECRET" required:"true"`
	SuccessCode   string        `envconfig:"WASHPAY_GATEWAY_SUCCESS_CODE" default:"00"`
	CallTimeout   time.Duration `envconfig:"WASHPAY_GATEWAY_CALL_TIMEOUT" default:"15s"`
	RetryAttempts uint64        `envconfig:"WASHPAY_GATEWAY_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"WASHPAY_GATEWAY_RETRY_DELAY" default:"500ms"`
	TokenSkew     time.Duration `envconfig:"WASHPAY_GATEWAY_TOKEN_SKEW" default:"30s"`
}

type VoucherConfig struct {
	BaseURL       string        `envconfig:"WASHPAY_VOUCHER_BASE_URL" required:"true"`
	SigningSecret string        `envconfig:"WASHPAY_VOUCHER_SIGNING_SECRET" required:"true"`
	CallTimeout   time.Duration `envconfig:"WASHPAY_VOUCHER_CALL_TIMEOUT" default:"10s"`
	RetryAttempts uint64        `envconfig:"WASHPAY_VOUCHER_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"WASHPAY_VOUCHER_RETRY_DELAY" default:"400ms"`
}

type ERPConfig struct {
	BaseURL       string        `envconfig:"WASHPAY_ERP_BASE_URL" required:"true"`
	APIKey        string        `envconfig:"WASHPAY_ERP_API_KEY" required:"true"`
	CallTimeout   time.Duration `envconfig:"WASHPAY_ERP_CALL_TIMEOUT" default:"20s"`
	RetryAttempts uint64        `envconfig:"WASHPAY_ERP_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"WASHPAY_ERP_RETRY_DELAY" default:"1s"`
	RateLimit     int64         `envconfig:"WASHPAY_ERP_RATE_LIMIT" default:"30"`
	RateWindow    time.Duration `envconfig:"WASHPAY_ERP_RATE_WINDOW" default:"1m"`
	GUIDCacheTTL  time.Duration `envconfig:"WASHPAY_ERP_GUID_CACHE_TTL" default:"24h"`
}

type DeviceConfig struct {
	BaseURL       string        `envconfig:"WASHPAY_DEVICE_BASE_URL" required:"true"`
	APIKey        string        `envconfig:"WASHPAY_DEVICE_API_KEY"`
	CallTimeout   time.Duration `envconfig:"WASHPAY_DEVICE_CALL_TIMEOUT" default:"10s"`
	RetryAttempts uint64        `envconfig:"WASHPAY_DEVICE_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"WASHPAY_DEVICE_RETRY_DELAY" default:"500ms"`
}

// PaymentConfig controls the static-QR payment window and expiry grace.
type PaymentConfig struct {
	QRWindow    time.Duration `envconfig:"WASHPAY_PAYMENT_QR_WINDOW" default:"5m"`
	ExpiryGrace time.Duration `envconfig:"WASHPAY_PAYMENT_EXPIRY_GRACE" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"WASHPAY_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"WASHPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"WASHPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic        string `envconfig:"WASHPAY_PUBSUB_ORDERS_TOPIC" required:"true"`
	OrdersSubscription string `envconfig:"WASHPAY_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	SyncTopic          string `envconfig:"WASHPAY_PUBSUB_SYNC_TOPIC" required:"true"`
	SyncSubscription   string `envconfig:"WASHPAY_PUBSUB_SYNC_SUBSCRIPTION" required:"true"`
	NotificationTopic  string `envconfig:"WASHPAY_PUBSUB_NOTIFICATION_TOPIC" default:"wp-notification-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"WASHPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"WASHPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"WASHPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"WASHPAY_CRON_INTERVAL" default:"1m"`
	LockTTL  time.Duration `envconfig:"WASHPAY_CRON_LOCK_TTL" default:"5m"`
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
