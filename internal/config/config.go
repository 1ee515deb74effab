// Package config provides configuration management for the harvester.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the harvester.
type Config struct {
	// App contains installation-wide identity settings.
	App AppConfig `mapstructure:"app"`
	// Server contains HTTP server settings for the operator API.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Redis contains settings for the document store and worker slot gate.
	Redis RedisConfig `mapstructure:"redis"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Worker contains batch claiming and execution settings.
	Worker WorkerConfig `mapstructure:"worker"`
	// Sources contains per-source adapter configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Metadata contains bibliographic lookup endpoints.
	Metadata MetadataConfig `mapstructure:"metadata"`
}

// AppConfig identifies this installation to the outside world.
type AppConfig struct {
	// ServerName is the public hostname of this installation.
	ServerName string `mapstructure:"server_name"`
	// AdminEmail is the contact address sent to upstream APIs that require one.
	AdminEmail string `mapstructure:"admin_email"`
	// UserAgent is the User-Agent header for outbound requests.
	UserAgent string `mapstructure:"user_agent"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 5).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// RedisConfig holds settings for the redis-backed document store and the
// per-source worker slot gate.
type RedisConfig struct {
	// Address is the redis server address.
	Address string `mapstructure:"address"`
	// Password is the redis password, if any.
	Password string `mapstructure:"password"`
	// DB is the redis database index.
	DB int `mapstructure:"db"`
	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// WorkerConfig holds batch claiming and execution settings.
type WorkerConfig struct {
	// ID identifies this worker instance; defaults to the hostname.
	ID string `mapstructure:"id"`
	// Concurrency is the number of batches processed in parallel.
	Concurrency int `mapstructure:"concurrency"`
	// PollInterval is how often the worker polls for claimable batches.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of retrieval statuses queued per batch.
	BatchSize int `mapstructure:"batch_size"`
	// LeaseDuration is how long a worker holds a lease on a claimed batch.
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// StaleAge is how long a retrieval result stays fresh before requeueing.
	StaleAge time.Duration `mapstructure:"stale_age"`
}

// SourcesConfig holds configuration for all metrics source adapters.
type SourcesConfig struct {
	// CrossRef contains CrossRef citation source settings.
	CrossRef SourceConfig `mapstructure:"crossref"`
	// EuropePMC contains Europe PMC citation source settings.
	EuropePMC SourceConfig `mapstructure:"europepmc"`
	// PMC contains PubMed Central usage stats source settings.
	PMC SourceConfig `mapstructure:"pmc"`
	// GitHub contains GitHub stargazer/fork source settings.
	GitHub SourceConfig `mapstructure:"github"`
	// Scopus contains Scopus citation source settings (requires API key).
	Scopus SourceConfig `mapstructure:"scopus"`
}

// SourceConfig holds configuration for a single metrics source adapter.
type SourceConfig struct {
	// Enabled controls whether this source is installed.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. HARVESTER_SOURCES_SCOPUS_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// StatsURL is the secondary endpoint for sources that need one.
	StatsURL string `mapstructure:"stats_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// JobInterval is the pause between consecutive works in a batch.
	JobInterval time.Duration `mapstructure:"job_interval"`
	// StaleAge overrides worker.stale_age for this source. Zero uses the
	// worker default.
	StaleAge time.Duration `mapstructure:"stale_age"`
	// Workers is the number of concurrent batches this source allows.
	Workers int `mapstructure:"workers"`
}

// MetadataConfig holds bibliographic lookup endpoints.
type MetadataConfig struct {
	// CrossRefURL is the CrossRef REST API base.
	CrossRefURL string `mapstructure:"crossref_url"`
	// DataCiteURL is the DataCite search API base.
	DataCiteURL string `mapstructure:"datacite_url"`
	// ORCIDURL is the ORCID public API base.
	ORCIDURL string `mapstructure:"orcid_url"`
	// GitHubURL is the GitHub REST API base.
	GitHubURL string `mapstructure:"github_url"`
	// EuropePMCURL is the Europe PMC REST API base.
	EuropePMCURL string `mapstructure:"europepmc_url"`
	// IDConverterURL is the PMC identifier converter endpoint.
	IDConverterURL string `mapstructure:"id_converter_url"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/harvester")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if cfg.Worker.ID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "harvester"
		}
		cfg.Worker.ID = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Sources.CrossRef.APIKey = os.Getenv("HARVESTER_SOURCES_CROSSREF_API_KEY")
	cfg.Sources.EuropePMC.APIKey = os.Getenv("HARVESTER_SOURCES_EUROPEPMC_API_KEY")
	cfg.Sources.PMC.APIKey = os.Getenv("HARVESTER_SOURCES_PMC_API_KEY")
	cfg.Sources.GitHub.APIKey = os.Getenv("HARVESTER_SOURCES_GITHUB_API_KEY")
	cfg.Sources.Scopus.APIKey = os.Getenv("HARVESTER_SOURCES_SCOPUS_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.server_name", "localhost")
	v.SetDefault("app.admin_email", "")
	v.SetDefault("app.user_agent", "scholarmetrics-harvester")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "harvester")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "harvester")
	// Default to "require" for production security. Use HARVESTER_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Worker defaults
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.batch_size", 200)
	v.SetDefault("worker.lease_duration", "10m")
	v.SetDefault("worker.stale_age", "24h")

	// Source defaults - CrossRef
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("sources.crossref.enabled", true)
	v.SetDefault("sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("sources.crossref.timeout", "30s")
	v.SetDefault("sources.crossref.rate_limit", 10.0)
	v.SetDefault("sources.crossref.job_interval", "1s")
	v.SetDefault("sources.crossref.workers", 1)

	// Source defaults - Europe PMC
	v.SetDefault("sources.europepmc.enabled", true)
	v.SetDefault("sources.europepmc.base_url", "http://www.ebi.ac.uk/europepmc/webservices/rest")
	v.SetDefault("sources.europepmc.timeout", "30s")
	v.SetDefault("sources.europepmc.rate_limit", 5.0)
	v.SetDefault("sources.europepmc.job_interval", "1s")
	v.SetDefault("sources.europepmc.workers", 1)

	// Source defaults - PMC usage stats (needs a publisher stats endpoint)
	v.SetDefault("sources.pmc.enabled", false)
	v.SetDefault("sources.pmc.base_url", "")
	v.SetDefault("sources.pmc.stats_url", "")
	v.SetDefault("sources.pmc.timeout", "30s")
	v.SetDefault("sources.pmc.rate_limit", 5.0)
	v.SetDefault("sources.pmc.job_interval", "1s")
	v.SetDefault("sources.pmc.workers", 1)

	// Source defaults - GitHub
	v.SetDefault("sources.github.enabled", true)
	v.SetDefault("sources.github.base_url", "https://api.github.com")
	v.SetDefault("sources.github.timeout", "30s")
	v.SetDefault("sources.github.rate_limit", 1.0)
	v.SetDefault("sources.github.job_interval", "1s")
	v.SetDefault("sources.github.workers", 1)

	// Source defaults - Scopus (disabled by default, requires API key)
	v.SetDefault("sources.scopus.enabled", false)
	v.SetDefault("sources.scopus.base_url", "https://api.elsevier.com/content")
	v.SetDefault("sources.scopus.timeout", "30s")
	v.SetDefault("sources.scopus.rate_limit", 5.0)
	v.SetDefault("sources.scopus.job_interval", "1s")
	v.SetDefault("sources.scopus.workers", 1)

	// Metadata lookup defaults
	v.SetDefault("metadata.crossref_url", "http://api.crossref.org")
	v.SetDefault("metadata.datacite_url", "http://search.datacite.org/api")
	v.SetDefault("metadata.orcid_url", "http://pub.orcid.org/v1.2")
	v.SetDefault("metadata.github_url", "https://api.github.com")
	v.SetDefault("metadata.europepmc_url", "http://www.ebi.ac.uk/europepmc/webservices/rest")
	v.SetDefault("metadata.id_converter_url", "http://www.pubmedcentral.nih.gov/utils/idconv/v1.0/")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch_size must be positive")
	}
	if c.Worker.LeaseDuration <= 0 {
		return fmt.Errorf("worker lease_duration must be positive")
	}
	if c.Worker.StaleAge <= 0 {
		return fmt.Errorf("worker stale_age must be positive")
	}

	if c.Sources.Scopus.Enabled && c.Sources.Scopus.APIKey == "" {
		return fmt.Errorf("scopus source requires HARVESTER_SOURCES_SCOPUS_API_KEY to be set")
	}
	if c.Sources.PMC.Enabled && c.Sources.PMC.StatsURL == "" {
		return fmt.Errorf("pmc source requires a stats_url")
	}

	return nil
}
