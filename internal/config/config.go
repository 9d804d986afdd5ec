// Package config handles configuration loading for edgarsync.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrConfig marks configuration problems the pipeline must refuse to start with.
var ErrConfig = errors.New("configuration error")

// Config represents the complete application configuration.
type Config struct {
	Registry  RegistryConfig  `mapstructure:"registry"  yaml:"registry"`
	Ingest    IngestConfig    `mapstructure:"ingest"    yaml:"ingest"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"     yaml:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// RegistryConfig holds SEC EDGAR client settings.
type RegistryConfig struct {
	UserAgent      string  `mapstructure:"user_agent"       yaml:"user_agent"` // "Name contact@example.com"
	WWWURL         string  `mapstructure:"www_url"          yaml:"www_url"`
	DataURL        string  `mapstructure:"data_url"         yaml:"data_url"`
	CallsPerSecond float64 `mapstructure:"calls_per_second" yaml:"calls_per_second"`
	TimeoutSec     int     `mapstructure:"timeout_sec"      yaml:"timeout_sec"`
	SharedLimiter  bool    `mapstructure:"shared_limiter"   yaml:"shared_limiter"` // keep the call interval in Redis
}

// IngestConfig holds per-run ingestion settings.
type IngestConfig struct {
	Forms                 []string `mapstructure:"forms"                    yaml:"forms"`
	StartDate             string   `mapstructure:"start_date"               yaml:"start_date"` // YYYY-MM-DD, optional
	MaxFilingsPerCompany  int      `mapstructure:"max_filings_per_company"  yaml:"max_filings_per_company"`
	FetchConcurrency      int      `mapstructure:"fetch_concurrency"        yaml:"fetch_concurrency"`
	Workers               int      `mapstructure:"workers"                  yaml:"workers"`
	FetchRetries          int      `mapstructure:"fetch_retries"            yaml:"fetch_retries"`
	FetchRetryDelaySec    int      `mapstructure:"fetch_retry_delay_sec"    yaml:"fetch_retry_delay_sec"`
	DownloadRetries       int      `mapstructure:"download_retries"         yaml:"download_retries"`
	DownloadRetryDelaySec int      `mapstructure:"download_retry_delay_sec" yaml:"download_retry_delay_sec"`
	FlowRetries           int      `mapstructure:"flow_retries"             yaml:"flow_retries"`
	FlowRetryDelaySec     int      `mapstructure:"flow_retry_delay_sec"     yaml:"flow_retry_delay_sec"`
	CompaniesFile         string   `mapstructure:"companies_file"           yaml:"companies_file"`
}

// StorageConfig holds relational store settings.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"` // SQLite file, or ":memory:"
}

// RedisConfig holds shared key-value store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
}

// RateLimitConfig holds the inbound token bucket settings.
type RateLimitConfig struct {
	Capacity     float64 `mapstructure:"capacity"       yaml:"capacity"`
	RefillPerSec float64 `mapstructure:"refill_per_sec" yaml:"refill_per_sec"`
	TTLSec       int     `mapstructure:"ttl_sec"        yaml:"ttl_sec"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is
	// believed when keying the inbound rate limit. Empty means none.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.edgarsync/config.yaml (home directory)
//  3. /etc/edgarsync/config.yaml (system)
//
// Environment variables override config file values.
// Format: EDGARSYNC_<SECTION>_<KEY>, e.g., EDGARSYNC_REGISTRY_USER_AGENT
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".edgarsync"))
	v.AddConfigPath("/etc/edgarsync")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("EDGARSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Registry defaults. SEC allows 10 req/s per user agent; stay under it.
	v.SetDefault("registry.www_url", "https://www.sec.gov")
	v.SetDefault("registry.data_url", "https://data.sec.gov")
	v.SetDefault("registry.calls_per_second", 8.0)
	v.SetDefault("registry.timeout_sec", 30)
	v.SetDefault("registry.shared_limiter", false)

	// Ingest defaults
	v.SetDefault("ingest.forms", []string{"10-K", "10-Q", "8-K"})
	v.SetDefault("ingest.max_filings_per_company", 10)
	v.SetDefault("ingest.fetch_concurrency", 4)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.fetch_retries", 3)
	v.SetDefault("ingest.fetch_retry_delay_sec", 5)
	v.SetDefault("ingest.download_retries", 2)
	v.SetDefault("ingest.download_retry_delay_sec", 15)
	v.SetDefault("ingest.flow_retries", 2)
	v.SetDefault("ingest.flow_retry_delay_sec", 180)
	v.SetDefault("ingest.companies_file", "./config/companies.yaml")

	// Storage defaults
	v.SetDefault("storage.path", "./data/edgarsync.db")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Inbound rate limit defaults
	v.SetDefault("ratelimit.capacity", 60.0)
	v.SetDefault("ratelimit.refill_per_sec", 1.0)
	v.SetDefault("ratelimit.ttl_sec", 3600)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("api.trusted_proxies", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if ua := os.Getenv("EDGARSYNC_REGISTRY_USER_AGENT"); ua != "" {
		cfg.Registry.UserAgent = ua
	}
	if pw := os.Getenv("EDGARSYNC_REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	// viper leaves comma-separated env lists as a single element.
	if forms := os.Getenv("EDGARSYNC_INGEST_FORMS"); forms != "" {
		cfg.Ingest.Forms = splitList(forms)
	}
}

// placeholderAgents are values copied from examples that identify nobody.
var placeholderAgents = []string{
	"example.com", "your-email", "your_email", "youremail", "changeme", "placeholder", "sample company",
	"<your", "<name", "<email", "<company",
}

// Validate rejects settings the pipeline cannot safely start with.
func (c *Config) Validate() error {
	ua := strings.TrimSpace(c.Registry.UserAgent)
	if ua == "" {
		return fmt.Errorf("%w: registry.user_agent is required (name and contact email)", ErrConfig)
	}
	lower := strings.ToLower(ua)
	for _, p := range placeholderAgents {
		if strings.Contains(lower, p) {
			return fmt.Errorf("%w: registry.user_agent %q looks like a placeholder", ErrConfig, ua)
		}
	}
	if !strings.Contains(ua, "@") {
		return fmt.Errorf("%w: registry.user_agent must include a contact email", ErrConfig)
	}
	if c.Registry.CallsPerSecond <= 0 {
		return fmt.Errorf("%w: registry.calls_per_second must be positive", ErrConfig)
	}
	if c.Ingest.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.Ingest.StartDate); err != nil {
			return fmt.Errorf("%w: ingest.start_date %q is not YYYY-MM-DD", ErrConfig, c.Ingest.StartDate)
		}
	}
	if c.Ingest.MaxFilingsPerCompany <= 0 {
		return fmt.Errorf("%w: ingest.max_filings_per_company must be positive", ErrConfig)
	}
	return nil
}

// Timeout returns the registry HTTP timeout.
func (r RegistryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
