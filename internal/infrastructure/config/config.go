package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Stock backends selectable through reconcile.stock_backend
const (
	StockBackendRelational = "relational"
	StockBackendDocument   = "document"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Feed      FeedConfig
	Reconcile ReconcileConfig
	Fallback  FallbackConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings.
// When disabled, notification acknowledgments are kept in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// MongoConfig holds the document store settings used by the document stock backend
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string

	// Per-client limits for the public submission intake
	IntakeRateLimit float64
	IntakeBurst     int
	// How long an Idempotency-Key on the intake is remembered
	IntakeDedupTTL time.Duration
}

// FeedConfig holds the external order feed settings
type FeedConfig struct {
	Name      string        // origin label attached to every order read from the feed
	ReadURL   string        // GET endpoint returning {"values": [[...], ...]}
	WriteURL  string        // POST endpoint accepting status updates; defaults to ReadURL
	APIKey    string        // optional, sent as X-API-Key
	Timeout   time.Duration // per HTTP request
	RateLimit float64       // requests per second
	Burst     int
}

// ReconcileConfig holds reconciliation engine settings
type ReconcileConfig struct {
	Interval         time.Duration // auto-refresh period
	SourceTimeout    time.Duration // per-source fetch timeout
	FailureThreshold int           // consecutive failed cycles before degraded mode
	StockBackend     string        // relational or document
	AckKey           string        // session key for notification acknowledgments
}

// FallbackConfig holds the local snapshot cache settings
type FallbackConfig struct {
	Enabled bool
	Dir     string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// Bounds applied to reconcile settings after defaults
const (
	MinReconcileInterval = 5 * time.Second
	MaxReconcileInterval = 10 * time.Minute
	MinSourceTimeout     = time.Second
	MaxSourceTimeout     = 60 * time.Second
)

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g., STOREFRONT_DATABASE_PASSWORD)
// 2. .env file in the working directory
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Mongo: MongoConfig{
			URI:        v.GetString("mongo.uri"),
			Database:   v.GetString("mongo.database"),
			Collection: v.GetString("mongo.collection"),
			Timeout:    v.GetDuration("mongo.timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:  v.GetInt("http.max_header_bytes"),
			MaxBodySize:     v.GetInt64("http.max_body_size"),
			TrustedProxies:  v.GetStringSlice("http.trusted_proxies"),
			IntakeRateLimit: v.GetFloat64("http.intake_rate_limit"),
			IntakeBurst:     v.GetInt("http.intake_burst"),
			IntakeDedupTTL:  v.GetDuration("http.intake_dedup_ttl"),
		},
		Feed: FeedConfig{
			Name:      v.GetString("feed.name"),
			ReadURL:   v.GetString("feed.read_url"),
			WriteURL:  v.GetString("feed.write_url"),
			APIKey:    v.GetString("feed.api_key"),
			Timeout:   v.GetDuration("feed.timeout"),
			RateLimit: v.GetFloat64("feed.rate_limit"),
			Burst:     v.GetInt("feed.burst"),
		},
		Reconcile: ReconcileConfig{
			Interval:         v.GetDuration("reconcile.interval"),
			SourceTimeout:    v.GetDuration("reconcile.source_timeout"),
			FailureThreshold: v.GetInt("reconcile.failure_threshold"),
			StockBackend:     v.GetString("reconcile.stock_backend"),
			AckKey:           v.GetString("reconcile.ack_key"),
		},
		Fallback: FallbackConfig{
			Enabled: v.GetBool("fallback.enabled"),
			Dir:     v.GetString("fallback.dir"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "storefront"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = "mongodb://localhost:27017"
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "storefront"
	}
	if cfg.Mongo.Collection == "" {
		cfg.Mongo.Collection = "products"
	}
	if cfg.Mongo.Timeout == 0 {
		cfg.Mongo.Timeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.IntakeRateLimit == 0 {
		cfg.HTTP.IntakeRateLimit = 1
	}
	if cfg.HTTP.IntakeBurst == 0 {
		cfg.HTTP.IntakeBurst = 5
	}
	if cfg.HTTP.IntakeDedupTTL == 0 {
		cfg.HTTP.IntakeDedupTTL = 24 * time.Hour
	}
	if cfg.Feed.Name == "" {
		cfg.Feed.Name = "sheet"
	}
	if cfg.Feed.WriteURL == "" {
		cfg.Feed.WriteURL = cfg.Feed.ReadURL
	}
	if cfg.Feed.Timeout == 0 {
		cfg.Feed.Timeout = 10 * time.Second
	}
	if cfg.Feed.RateLimit == 0 {
		cfg.Feed.RateLimit = 2
	}
	if cfg.Feed.Burst == 0 {
		cfg.Feed.Burst = 4
	}
	if cfg.Reconcile.Interval == 0 {
		cfg.Reconcile.Interval = 30 * time.Second
	}
	cfg.Reconcile.Interval = clampDuration(cfg.Reconcile.Interval, MinReconcileInterval, MaxReconcileInterval)
	if cfg.Reconcile.SourceTimeout == 0 {
		cfg.Reconcile.SourceTimeout = 12 * time.Second
	}
	cfg.Reconcile.SourceTimeout = clampDuration(cfg.Reconcile.SourceTimeout, MinSourceTimeout, MaxSourceTimeout)
	if cfg.Reconcile.FailureThreshold == 0 {
		cfg.Reconcile.FailureThreshold = 3
	}
	if cfg.Reconcile.StockBackend == "" {
		cfg.Reconcile.StockBackend = StockBackendRelational
	}
	if cfg.Reconcile.AckKey == "" {
		cfg.Reconcile.AckKey = "admin"
	}
	if cfg.Fallback.Dir == "" {
		cfg.Fallback.Dir = "data/fallback"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "storefront-backend"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Reconcile.StockBackend {
	case StockBackendRelational, StockBackendDocument:
	default:
		return fmt.Errorf("reconcile.stock_backend must be %q or %q, got %q",
			StockBackendRelational, StockBackendDocument, c.Reconcile.StockBackend)
	}
	if c.Reconcile.FailureThreshold < 1 {
		return fmt.Errorf("reconcile.failure_threshold must be at least 1")
	}
	if c.HTTP.IntakeRateLimit < 0 {
		return fmt.Errorf("http.intake_rate_limit cannot be negative")
	}
	if c.Feed.RateLimit < 0 {
		return fmt.Errorf("feed.rate_limit cannot be negative")
	}
	if c.Feed.ReadURL != "" {
		if _, err := url.ParseRequestURI(c.Feed.ReadURL); err != nil {
			return fmt.Errorf("feed.read_url is not a valid URL: %w", err)
		}
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Feed.ReadURL == "" {
			return fmt.Errorf("feed.read_url is required in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis host:port address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
