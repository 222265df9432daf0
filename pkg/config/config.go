package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable this service reads.
	EnvPrefix = "KEYHAVEN"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "KEYHAVEN_DB_DSN"
	EnvDBHost = "KEYHAVEN_DB_HOST"
	EnvDBUser = "KEYHAVEN_DB_USER"
	EnvDBName = "KEYHAVEN_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Escrow       EscrowConfig
	Gateway      GatewayConfig
	Sweep        SweepConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"KEYHAVEN_APP_ENV" required:"true"`
	Port         string `envconfig:"KEYHAVEN_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"KEYHAVEN_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"KEYHAVEN_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"KEYHAVEN_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"KEYHAVEN_DB_DSN"`
	Driver string `envconfig:"KEYHAVEN_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"KEYHAVEN_DB_HOST"`
	LegacyPort     int    `envconfig:"KEYHAVEN_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"KEYHAVEN_DB_USER"`
	LegacyPassword string `envconfig:"KEYHAVEN_DB_PASSWORD"`
	LegacyName     string `envconfig:"KEYHAVEN_DB_NAME"`
	LegacySSLMode  string `envconfig:"KEYHAVEN_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"KEYHAVEN_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"KEYHAVEN_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"KEYHAVEN_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"KEYHAVEN_REDIS_URL" required:"true"`
	Address      string        `envconfig:"KEYHAVEN_REDIS_ADDR"`
	Password     string        `envconfig:"KEYHAVEN_REDIS_PASSWORD"`
	DB           int           `envconfig:"KEYHAVEN_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"KEYHAVEN_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"KEYHAVEN_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"KEYHAVEN_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"KEYHAVEN_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"KEYHAVEN_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"KEYHAVEN_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"KEYHAVEN_JWT_EXPIRATION_MINUTES" default:"60"`
}

// EscrowConfig carries the settlement policy knobs. The grace period and the
// partial-refund fee policy are configuration on purpose, never constants in
// domain code.
type EscrowConfig struct {
	AutoConfirmGrace       time.Duration `envconfig:"KEYHAVEN_ESCROW_AUTO_CONFIRM_GRACE" default:"72h"`
	PlatformFeeBps         int           `envconfig:"KEYHAVEN_ESCROW_PLATFORM_FEE_BPS" default:"1000"`
	PartialRefundFeePolicy string        `envconfig:"KEYHAVEN_ESCROW_PARTIAL_REFUND_FEE_POLICY" default:"fixed"`
	ConflictRetryLimit     int           `envconfig:"KEYHAVEN_ESCROW_CONFLICT_RETRY_LIMIT" default:"3"`
}

const (
	// FeePolicyFixed keeps the platform fee unchanged on a partial refund.
	FeePolicyFixed = "fixed"
	// FeePolicyProportional recomputes the fee on the retained amount.
	FeePolicyProportional = "proportional"
)

// PartialRefundFeePolicyNormalized returns the validated fee policy value.
func (e EscrowConfig) PartialRefundFeePolicyNormalized() (string, error) {
	policy := strings.TrimSpace(strings.ToLower(e.PartialRefundFeePolicy))
	switch policy {
	case "", FeePolicyFixed:
		return FeePolicyFixed, nil
	case FeePolicyProportional:
		return FeePolicyProportional, nil
	default:
		return "", fmt.Errorf("partial refund fee policy must be %q or %q", FeePolicyFixed, FeePolicyProportional)
	}
}

type GatewayConfig struct {
	APIKey          string        `envconfig:"KEYHAVEN_GATEWAY_API_KEY"`
	Env             string        `envconfig:"KEYHAVEN_GATEWAY_ENV" default:"test"`
	WebhookSecret   string        `envconfig:"KEYHAVEN_GATEWAY_WEBHOOK_SECRET"`
	TransferTimeout time.Duration `envconfig:"KEYHAVEN_GATEWAY_TRANSFER_TIMEOUT" default:"30s"`
	RetryLimit      int           `envconfig:"KEYHAVEN_GATEWAY_RETRY_LIMIT" default:"3"`
}

// Environment returns the normalized gateway environment (test/live).
func (g GatewayConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(g.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SweepConfig struct {
	AutoConfirmInterval time.Duration `envconfig:"KEYHAVEN_SWEEP_AUTO_CONFIRM_INTERVAL" default:"5m"`
	PayoutInterval      time.Duration `envconfig:"KEYHAVEN_SWEEP_PAYOUT_INTERVAL" default:"15m"`
	BatchSize           int           `envconfig:"KEYHAVEN_SWEEP_BATCH_SIZE" default:"200"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"KEYHAVEN_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"KEYHAVEN_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"KEYHAVEN_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"KEYHAVEN_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"KEYHAVEN_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"KEYHAVEN_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic              string `envconfig:"KEYHAVEN_PUBSUB_ORDERS_TOPIC" default:"kh-order-events"`
	DisputesTopic            string `envconfig:"KEYHAVEN_PUBSUB_DISPUTES_TOPIC" default:"kh-dispute-events"`
	PayoutsTopic             string `envconfig:"KEYHAVEN_PUBSUB_PAYOUTS_TOPIC" default:"kh-payout-events"`
	NotificationTopic        string `envconfig:"KEYHAVEN_PUBSUB_NOTIFICATION_TOPIC" default:"kh-notification-events"`
	OrdersSubscription       string `envconfig:"KEYHAVEN_PUBSUB_ORDERS_SUBSCRIPTION"`
	NotificationSubscription string `envconfig:"KEYHAVEN_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"KEYHAVEN_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"KEYHAVEN_AUTO_MIGRATE" default:"false"`
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
