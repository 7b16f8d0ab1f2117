package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTPClient  HTTPClientConfig
	Auth        AuthConfig
	Extraction  ExtractionConfig
	Destination DestinationConfig
	Scheduler   SchedulerConfig
	Storage     StorageConfig
	Telemetry   TelemetryConfig
	Swagger     SwaggerConfig
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
	ConnMaxLifetime time.Duration
	LogLevel        string // silent, error, warn, info
	SlowThreshold   time.Duration
	AutoMigrate     bool // apply embedded migrations at server start
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPClientConfig configures outbound calls to configured APIs and token endpoints.
type HTTPClientConfig struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	UserAgent        string
}

// AuthConfig configures token acquisition.
type AuthConfig struct {
	// TokenFailurePolicy is best_effort (send the request without the token
	// header) or abort (fail the run at the api_call stage).
	TokenFailurePolicy string
	DefaultExpiresIn   time.Duration
	TokenCache         string // memory, redis
}

// ExtractionConfig holds defaults for record extraction.
type ExtractionConfig struct {
	DefaultDateFormat string
	Timezone          string
}

// DestinationConfig controls destination table handling.
type DestinationConfig struct {
	AutoCreateTables bool
	RawPayloadColumn string
	IngestedAtColumn string
}

// SchedulerConfig controls the in-process due-schedule runner.
type SchedulerConfig struct {
	Enabled         bool
	CheckInterval   time.Duration
	MaxConcurrent   int
	DefaultTimezone string
}

// StorageConfig configures archiving of raw API responses to S3.
type StorageConfig struct {
	ArchiveResponses bool
	Bucket           string
	Region           string
	Endpoint         string
	AccessKeyID      string
	SecretAccessKey  string
	UsePathStyle     bool
}

// SwaggerConfig controls the API documentation endpoint.
type SwaggerConfig struct {
	Enabled    bool
	AllowedIPs []string // IPs or CIDRs; empty allows everyone
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
}

const (
	TokenFailureBestEffort = "best_effort"
	TokenFailureAbort      = "abort"
)

// Load reads configuration. Priority, highest first: APIFLOW_ environment
// variables, config.toml, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/apiflow")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("APIFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("swagger.enabled", true)

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
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTPClient: HTTPClientConfig{
			Timeout:          v.GetDuration("http_client.timeout"),
			MaxResponseBytes: v.GetInt64("http_client.max_response_bytes"),
			UserAgent:        v.GetString("http_client.user_agent"),
		},
		Auth: AuthConfig{
			TokenFailurePolicy: v.GetString("auth.token_failure_policy"),
			DefaultExpiresIn:   v.GetDuration("auth.default_expires_in"),
			TokenCache:         v.GetString("auth.token_cache"),
		},
		Extraction: ExtractionConfig{
			DefaultDateFormat: v.GetString("extraction.default_date_format"),
			Timezone:          v.GetString("extraction.timezone"),
		},
		Destination: DestinationConfig{
			AutoCreateTables: v.GetBool("destination.auto_create_tables"),
			RawPayloadColumn: v.GetString("destination.raw_payload_column"),
			IngestedAtColumn: v.GetString("destination.ingested_at_column"),
		},
		Scheduler: SchedulerConfig{
			Enabled:         v.GetBool("scheduler.enabled"),
			CheckInterval:   v.GetDuration("scheduler.check_interval"),
			MaxConcurrent:   v.GetInt("scheduler.max_concurrent"),
			DefaultTimezone: v.GetString("scheduler.default_timezone"),
		},
		Storage: StorageConfig{
			ArchiveResponses: v.GetBool("storage.archive_responses"),
			Bucket:           v.GetString("storage.bucket"),
			Region:           v.GetString("storage.region"),
			Endpoint:         v.GetString("storage.endpoint"),
			AccessKeyID:      v.GetString("storage.access_key_id"),
			SecretAccessKey:  v.GetString("storage.secret_access_key"),
			UsePathStyle:     v.GetBool("storage.use_path_style"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
		Swagger: SwaggerConfig{
			Enabled:    v.GetBool("swagger.enabled"),
			AllowedIPs: v.GetStringSlice("swagger.allowed_ips"),
		},
	}

	applyDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "apiflow"
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
		cfg.Database.DBName = "apiflow"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
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
	if cfg.HTTPClient.Timeout == 0 {
		cfg.HTTPClient.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient.MaxResponseBytes == 0 {
		cfg.HTTPClient.MaxResponseBytes = 32 << 20
	}
	if cfg.HTTPClient.UserAgent == "" {
		cfg.HTTPClient.UserAgent = "apiflow/1.0"
	}
	if cfg.Auth.TokenFailurePolicy == "" {
		cfg.Auth.TokenFailurePolicy = TokenFailureBestEffort
	}
	if cfg.Auth.DefaultExpiresIn == 0 {
		cfg.Auth.DefaultExpiresIn = time.Hour
	}
	if cfg.Auth.TokenCache == "" {
		cfg.Auth.TokenCache = "memory"
	}
	if cfg.Extraction.DefaultDateFormat == "" {
		cfg.Extraction.DefaultDateFormat = "YYYY-MM-DD HH:mm:ss"
	}
	if cfg.Extraction.Timezone == "" {
		cfg.Extraction.Timezone = "UTC"
	}
	if cfg.Destination.RawPayloadColumn == "" {
		cfg.Destination.RawPayloadColumn = "raw_payload"
	}
	if cfg.Destination.IngestedAtColumn == "" {
		cfg.Destination.IngestedAtColumn = "ingested_at"
	}
	if cfg.Scheduler.CheckInterval == 0 {
		cfg.Scheduler.CheckInterval = time.Minute
	}
	if cfg.Scheduler.MaxConcurrent == 0 {
		cfg.Scheduler.MaxConcurrent = 4
	}
	if cfg.Scheduler.DefaultTimezone == "" {
		cfg.Scheduler.DefaultTimezone = "UTC"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 15 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	switch c.Auth.TokenFailurePolicy {
	case TokenFailureBestEffort, TokenFailureAbort:
	default:
		return fmt.Errorf("auth.token_failure_policy must be %q or %q, got %q",
			TokenFailureBestEffort, TokenFailureAbort, c.Auth.TokenFailurePolicy)
	}
	switch c.Auth.TokenCache {
	case "memory", "redis":
	default:
		return fmt.Errorf("auth.token_cache must be memory or redis, got %q", c.Auth.TokenCache)
	}
	if c.HTTPClient.Timeout < 0 {
		return fmt.Errorf("http_client.timeout cannot be negative")
	}
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1")
	}
	for key, tz := range map[string]string{
		"scheduler.default_timezone": c.Scheduler.DefaultTimezone,
		"extraction.timezone":        c.Extraction.Timezone,
	} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%s: unknown timezone %q", key, tz)
		}
	}
	if c.Storage.ArchiveResponses && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.archive_responses is enabled")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Swagger.Enabled && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must be disabled or restricted by swagger.allowed_ips in production")
		}
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
