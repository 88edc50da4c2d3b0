package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Log          LogConfig          `mapstructure:"log"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Auction      AuctionConfig      `mapstructure:"auction"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	KYC          KYCConfig          `mapstructure:"kyc"`
	Notification NotificationConfig `mapstructure:"notification"`
	Enforcement  EnforcementConfig  `mapstructure:"enforcement"`
	Cache        CacheConfig        `mapstructure:"cache"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// Session limits applied to every pooled connection; zero leaves the server default.
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig validates bearer tokens minted by the external identity service.
type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type LedgerConfig struct {
	Currency string `mapstructure:"currency"`
}

// AuctionConfig holds bidding and closure policy.
// MaxTotalExtension bounds EndTime to OriginalEndTime+MaxTotalExtension; zero disables the cap.
type AuctionConfig struct {
	AntiSnipingWindow  time.Duration `mapstructure:"anti_sniping_window"`
	ExtensionIncrement time.Duration `mapstructure:"extension_increment"`
	MaxTotalExtension  time.Duration `mapstructure:"max_total_extension"`
	PaymentWindow      time.Duration `mapstructure:"payment_window"`
	RelistOnOverdue    bool          `mapstructure:"relist_on_overdue"`
	RelistDuration     time.Duration `mapstructure:"relist_duration"`
}

type GatewayConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	SecretKey            string        `mapstructure:"secret_key"`
	WebhookSecret        string        `mapstructure:"webhook_secret"`
	SignatureAlgorithm   string        `mapstructure:"signature_algorithm"` // sha512, sha256
	SignatureHeader      string        `mapstructure:"signature_header"`
	WebhookTimeout       time.Duration `mapstructure:"webhook_timeout"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	VerifyOnForceConfirm bool          `mapstructure:"verify_on_force_confirm"`
	InsurerRecipient     string        `mapstructure:"insurer_recipient"`
	CallbackURL          string        `mapstructure:"callback_url"`
}

type KYCConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DefaultTierLimit int64         `mapstructure:"default_tier_limit"` // minor units
}

type NotificationConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

type EnforcementConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	BatchSize               int           `mapstructure:"batch_size"`
	FraudThreshold          int           `mapstructure:"fraud_threshold"`
	MinJustificationLength  int           `mapstructure:"min_justification_length"`
	AuctionCloseInterval    time.Duration `mapstructure:"auction_close_interval"`
	PaymentDeadlineInterval time.Duration `mapstructure:"payment_deadline_interval"`
	SettlementInterval      time.Duration `mapstructure:"settlement_interval"`
	FraudInterval           time.Duration `mapstructure:"fraud_interval"`
	ReconcileInterval       time.Duration `mapstructure:"reconcile_interval"`
}

type CacheConfig struct {
	BalanceTTL time.Duration `mapstructure:"balance_ttl"`
	AuctionTTL time.Duration `mapstructure:"auction_ttl"`
	WebhookTTL time.Duration `mapstructure:"webhook_ttl"`
}

type RateLimitConfig struct {
	BidsPerMinute int `mapstructure:"bids_per_minute"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: SES_ (Salvage Escrow Settlement).
// Nested keys use underscore: SES_DATABASE_HOST, SES_GATEWAY_WEBHOOK_SECRET, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "salvage_settlement")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.lock_timeout", "5s")
	v.SetDefault("database.statement_timeout", "30s")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "salvage-identity")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("ledger.currency", "NGN")
	v.SetDefault("auction.anti_sniping_window", "5m")
	v.SetDefault("auction.extension_increment", "10m")
	v.SetDefault("auction.max_total_extension", "2h")
	v.SetDefault("auction.payment_window", "48h")
	v.SetDefault("auction.relist_on_overdue", false)
	v.SetDefault("auction.relist_duration", "72h")
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.secret_key", "")
	v.SetDefault("gateway.webhook_secret", "")
	v.SetDefault("gateway.signature_algorithm", "sha512")
	v.SetDefault("gateway.signature_header", "X-Gateway-Signature")
	v.SetDefault("gateway.webhook_timeout", "10s")
	v.SetDefault("gateway.request_timeout", "15s")
	v.SetDefault("gateway.verify_on_force_confirm", true)
	v.SetDefault("gateway.insurer_recipient", "")
	v.SetDefault("gateway.callback_url", "")
	v.SetDefault("kyc.base_url", "")
	v.SetDefault("kyc.api_key", "")
	v.SetDefault("kyc.timeout", "5s")
	v.SetDefault("kyc.default_tier_limit", 50000000)
	v.SetDefault("notification.url", "")
	v.SetDefault("notification.secret", "")
	v.SetDefault("enforcement.enabled", true)
	v.SetDefault("enforcement.batch_size", 100)
	v.SetDefault("enforcement.fraud_threshold", 3)
	v.SetDefault("enforcement.min_justification_length", 20)
	v.SetDefault("enforcement.auction_close_interval", "1m")
	v.SetDefault("enforcement.payment_deadline_interval", "5m")
	v.SetDefault("enforcement.settlement_interval", "5m")
	v.SetDefault("enforcement.fraud_interval", "10m")
	v.SetDefault("enforcement.reconcile_interval", "1h")
	v.SetDefault("cache.balance_ttl", "10s")
	v.SetDefault("cache.auction_ttl", "5s")
	v.SetDefault("cache.webhook_ttl", "24h")
	v.SetDefault("ratelimit.bids_per_minute", 30)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "salvage-settlement")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.insecure", true)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: SES_DATABASE_HOST -> database.host
	v.SetEnvPrefix("SES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Gateway.SignatureAlgorithm {
	case "sha512", "sha256":
	default:
		return fmt.Errorf("unsupported signature algorithm %q", c.Gateway.SignatureAlgorithm)
	}
	if c.Auction.AntiSnipingWindow < 0 || c.Auction.ExtensionIncrement < 0 || c.Auction.MaxTotalExtension < 0 {
		return fmt.Errorf("auction durations must not be negative")
	}
	if c.Auction.PaymentWindow <= 0 {
		return fmt.Errorf("auction.payment_window must be positive")
	}
	if c.Enforcement.FraudThreshold < 1 {
		return fmt.Errorf("enforcement.fraud_threshold must be at least 1")
	}
	if c.Enforcement.BatchSize < 1 {
		return fmt.Errorf("enforcement.batch_size must be at least 1")
	}
	return nil
}
