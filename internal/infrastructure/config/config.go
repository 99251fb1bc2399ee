package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeyReplacer maps nested keys to env names, e.g. jobs.lock_timeout to
// TXOPS_JOBS_LOCK_TIMEOUT.
var envKeyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Shop          ShopConfig          `mapstructure:"shop"`
	Jobs          JobsConfig          `mapstructure:"jobs"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CORS             CORSConfig    `mapstructure:"cors"`
	WebhookRateLimit int           `mapstructure:"webhook_rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// GatewayConfig configures the payment gateway REST client. Mock switches to
// the in-process simulator.
type GatewayConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	UserID                  int64         `mapstructure:"user_id"`
	APISecret               string        `mapstructure:"api_secret"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	ReadRetries             uint          `mapstructure:"read_retries"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	Mock                    bool          `mapstructure:"mock"`
}

// ShopConfig configures the commerce system client.
type ShopConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type JobsConfig struct {
	LockTimeout        time.Duration `mapstructure:"lock_timeout"`
	ApplyMaxRetries    int           `mapstructure:"apply_max_retries"`
	ReaperSafetyMargin time.Duration `mapstructure:"reaper_safety_margin"`
	RefundStrategy     string        `mapstructure:"refund_strategy"`
	PricePrecision     int32         `mapstructure:"price_precision"`
}

type WorkerConfig struct {
	BatchSize      int64         `mapstructure:"batch_size"`
	BlockDuration  time.Duration `mapstructure:"block_duration"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	WebhookStream  string        `mapstructure:"webhook_stream"`
	ClaimIdle      time.Duration `mapstructure:"claim_idle"`
	MaxDeliveries  int64         `mapstructure:"max_deliveries"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBudget    time.Duration `mapstructure:"sweep_budget"`
	SweepLockTTL   time.Duration `mapstructure:"sweep_lock_ttl"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TXOPS")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/txops")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if !c.Gateway.Mock {
		if c.Gateway.BaseURL == "" {
			errs = append(errs, fmt.Errorf("gateway.base_url is required"))
		}
		if c.Gateway.UserID <= 0 {
			errs = append(errs, fmt.Errorf("gateway.user_id must be positive"))
		}
		if c.Gateway.APISecret == "" {
			errs = append(errs, fmt.Errorf("gateway.api_secret is required"))
		}
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gateway.timeout must be positive"))
	}
	if c.Shop.BaseURL == "" {
		errs = append(errs, fmt.Errorf("shop.base_url is required"))
	}
	if c.Jobs.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("jobs.lock_timeout must be positive"))
	}
	if c.Jobs.ApplyMaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("jobs.apply_max_retries must be positive"))
	}
	if c.Jobs.ReaperSafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("jobs.reaper_safety_margin must not be negative"))
	}
	switch c.Jobs.RefundStrategy {
	case "", "default", "voucher":
	default:
		errs = append(errs, fmt.Errorf("jobs.refund_strategy must be default or voucher, got %q", c.Jobs.RefundStrategy))
	}
	if c.Jobs.PricePrecision < 0 || c.Jobs.PricePrecision > 8 {
		errs = append(errs, fmt.Errorf("jobs.price_precision must be between 0 and 8"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.MaxDeliveries <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_deliveries must be positive"))
	}
	if c.Worker.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.sweep_interval must be positive"))
	}
	if c.Worker.SweepBudget <= c.Jobs.ReaperSafetyMargin {
		errs = append(errs, fmt.Errorf("worker.sweep_budget must exceed jobs.reaper_safety_margin"))
	}
	if c.Worker.SweepLockTTL < c.Worker.SweepBudget {
		errs = append(errs, fmt.Errorf("worker.sweep_lock_ttl must be at least worker.sweep_budget"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Gateway.Mock {
			errs = append(errs, fmt.Errorf("gateway.mock not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.webhook_rate_limit", 100)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "txops")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "txops")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "https://gateway.vr-payment.de/api")
	v.SetDefault("gateway.user_id", 0)
	v.SetDefault("gateway.api_secret", "")
	v.SetDefault("gateway.timeout", "20s")
	v.SetDefault("gateway.read_retries", 3)
	v.SetDefault("gateway.retry_delay", "200ms")
	v.SetDefault("gateway.circuit_breaker_threshold", 10)
	v.SetDefault("gateway.circuit_breaker_timeout", "30s")
	v.SetDefault("gateway.mock", false)

	// Shop defaults
	v.SetDefault("shop.base_url", "http://localhost:8081")
	v.SetDefault("shop.api_key", "")
	v.SetDefault("shop.timeout", "10s")

	// Job defaults
	v.SetDefault("jobs.lock_timeout", "10s")
	v.SetDefault("jobs.apply_max_retries", 3)
	v.SetDefault("jobs.reaper_safety_margin", "15s")
	v.SetDefault("jobs.refund_strategy", "default")
	v.SetDefault("jobs.price_precision", 2)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "webhook-processors")
	v.SetDefault("worker.webhook_stream", "stream:webhooks")
	v.SetDefault("worker.claim_idle", "1m")
	v.SetDefault("worker.max_deliveries", 5)
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.sweep_budget", "60s")
	v.SetDefault("worker.sweep_lock_ttl", "90s")
	v.SetDefault("worker.idempotency_ttl", "24h")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("instance_id", "txops-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL is the URL form of the DSN, as golang-migrate expects it.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
