// Package config loads docbrowse configuration from a YAML file, a .env file,
// and DOCBROWSE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/portalworks/docbrowse/internal/constants"
)

// EnvPrefix is the prefix for environment overrides (DOCBROWSE_REST_BASE_URL, ...)
const EnvPrefix = "DOCBROWSE"

// Backends
const (
	BackendREST  = "rest"
	BackendS3    = "s3"
	BackendAzure = "azure"
)

// ErrNotConfigured is returned by Validate when the selected backend lacks the
// settings an administrator must provide. Callers surface it as a setup state.
var ErrNotConfigured = errors.New("document store is not configured")

// Config holds all docbrowse configuration.
type Config struct {
	Backend string        `mapstructure:"backend"`
	REST    RESTConfig    `mapstructure:"rest"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Cache   CacheConfig   `mapstructure:"cache"`
	S3      S3Config      `mapstructure:"s3"`
	Azure   AzureConfig   `mapstructure:"azure"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RESTConfig configures the SharePoint-compatible REST gateway.
type RESTConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	SiteURL   string        `mapstructure:"site_url"`
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"token_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RetryMax  int           `mapstructure:"retry_max"`
}

// ProxyConfig holds outbound proxy settings.
type ProxyConfig struct {
	Mode     string `mapstructure:"mode"` // "no-proxy", "system", "ntlm", "basic"
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	NoProxy  string `mapstructure:"no_proxy"` // Comma-separated hosts/CIDRs to bypass
	Warmup   bool   `mapstructure:"warmup"`
}

// CacheConfig holds persistent cache settings.
type CacheConfig struct {
	Path          string        `mapstructure:"path"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
	Disabled      bool          `mapstructure:"disabled"`
}

// S3Config configures the S3 gateway.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// AzureConfig configures the Azure Blob gateway.
type AzureConfig struct {
	AccountURL string `mapstructure:"account_url"`
	Container  string `mapstructure:"container"`
	SASToken   string `mapstructure:"sas_token"`
	Prefix     string `mapstructure:"prefix"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
}

// MetricsConfig holds the optional Prometheus listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load reads configuration from an optional .env file, a config file and the environment.
// Priority: environment variables > .env > config file > defaults
func Load(configPath, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("docbrowse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "docbrowse"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// loadDotEnv loads KEY=VALUE pairs without overriding variables already set.
// An explicit file must exist; the implicit ./.env is optional.
func loadDotEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return nil
}

// setDefaults sets default values in viper. Every key is registered so that
// AutomaticEnv overrides are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", BackendREST)

	v.SetDefault("rest.base_url", "")
	v.SetDefault("rest.site_url", "")
	v.SetDefault("rest.token", "")
	v.SetDefault("rest.token_file", "")
	v.SetDefault("rest.timeout", constants.HTTPRequestTimeout)
	v.SetDefault("rest.retry_max", constants.MaxRetries)

	v.SetDefault("proxy.mode", "no-proxy")
	v.SetDefault("proxy.host", "")
	v.SetDefault("proxy.port", 0)
	v.SetDefault("proxy.user", "")
	v.SetDefault("proxy.password", "")
	v.SetDefault("proxy.no_proxy", "")
	v.SetDefault("proxy.warmup", false)

	v.SetDefault("cache.path", DefaultCachePath())
	v.SetDefault("cache.purge_interval", constants.CachePurgeInterval)
	v.SetDefault("cache.disabled", false)

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.session_token", "")
	v.SetDefault("s3.path_style", false)

	v.SetDefault("azure.account_url", "")
	v.SetDefault("azure.container", "")
	v.SetDefault("azure.sas_token", "")
	v.SetDefault("azure.prefix", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)

	v.SetDefault("metrics.listen", "")
}

// normalize applies scheme defaults and the HTTPS_PROXY fallback.
func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Proxy.Mode = strings.ToLower(strings.TrimSpace(c.Proxy.Mode))

	c.REST.BaseURL = ensureScheme(strings.TrimRight(c.REST.BaseURL, "/"))
	c.REST.SiteURL = ensureScheme(c.REST.SiteURL)
	c.Azure.AccountURL = ensureScheme(c.Azure.AccountURL)

	if envProxy := os.Getenv("HTTPS_PROXY"); envProxy != "" && c.Proxy.Host == "" {
		c.parseProxyURL(envProxy)
	}
}

func ensureScheme(u string) string {
	if u != "" && !strings.HasPrefix(u, "http") {
		return "https://" + u
	}
	return u
}

// parseProxyURL parses a proxy URL of the form http://host:port
func (c *Config) parseProxyURL(proxyURL string) {
	proxyURL = strings.TrimPrefix(proxyURL, "http://")
	proxyURL = strings.TrimPrefix(proxyURL, "https://")
	proxyURL = strings.TrimRight(proxyURL, "/")

	parts := strings.Split(proxyURL, ":")
	if len(parts) >= 1 {
		c.Proxy.Host = parts[0]
	}
	if len(parts) >= 2 {
		if port, err := strconv.Atoi(parts[1]); err == nil {
			c.Proxy.Port = port
		}
	}
	if c.Proxy.Host != "" && (c.Proxy.Mode == "no-proxy" || c.Proxy.Mode == "") {
		c.Proxy.Mode = "system"
	}
}

// Validate checks that the selected backend has what it needs. Missing
// administrator settings wrap ErrNotConfigured; malformed values do not.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendREST:
		if c.REST.BaseURL == "" {
			return fmt.Errorf("%w: rest.base_url is required", ErrNotConfigured)
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3.bucket is required", ErrNotConfigured)
		}
	case BackendAzure:
		if c.Azure.AccountURL == "" || c.Azure.Container == "" {
			return fmt.Errorf("%w: azure.account_url and azure.container are required", ErrNotConfigured)
		}
	default:
		return fmt.Errorf("unsupported backend: %q", c.Backend)
	}

	switch c.Proxy.Mode {
	case "", "no-proxy", "system", "ntlm", "basic":
	default:
		return fmt.Errorf("unsupported proxy mode: %s", c.Proxy.Mode)
	}
	if c.REST.RetryMax < 0 {
		return fmt.Errorf("rest.retry_max must not be negative")
	}
	return nil
}

// DefaultConfigPath returns the config file location under the user config dir.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "docbrowse.yaml"
	}
	return filepath.Join(dir, "docbrowse", "docbrowse.yaml")
}

// DefaultCachePath returns the cache database location under the user cache dir.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "docbrowse", constants.CacheFileName)
	}
	return filepath.Join(dir, "docbrowse", constants.CacheFileName)
}

// ReadTokenFile reads an upstream session token from a file, warning on loose permissions.
func ReadTokenFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat token file: %w", err)
	}

	// Token files should be readable only by owner (0600 or stricter)
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		fmt.Fprintf(os.Stderr, "Warning: Token file %s has insecure permissions %04o. Consider using 'chmod 600 %s'\n", path, mode, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file is empty")
	}
	return token, nil
}
