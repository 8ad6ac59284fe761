package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketflow MarketflowConfig `yaml:"marketflow"`
	Source     SourceConfig     `yaml:"source"`
	Cache      CacheConfig      `yaml:"cache"`
	Retry      RetryConfig      `yaml:"retry"`
	Stream     StreamConfig     `yaml:"stream"`
	Unified    UnifiedConfig    `yaml:"unified"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type MarketflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type SourceConfig struct {
	Okx     OkxSourceConfig     `yaml:"okx"`
	Binance BinanceSourceConfig `yaml:"binance"`
}

type OkxSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Websocket      bool                 `yaml:"websocket"`
	RestURL        string               `yaml:"rest_url"`
	APIKey         string               `yaml:"api_key"`
	SecretKey      string               `yaml:"secret_key"`
	Passphrase     string               `yaml:"passphrase"`
	Simulated      bool                 `yaml:"simulated"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	LocalIP        string               `yaml:"local_ip"`
	ProxyURL       string               `yaml:"proxy_url"`
}

type BinanceSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Websocket      bool                 `yaml:"websocket"`
	RestURL        string               `yaml:"rest_url"`
	APIKey         string               `yaml:"api_key"`
	SecretKey      string               `yaml:"secret_key"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	LocalIP        string               `yaml:"local_ip"`
	ProxyURL       string               `yaml:"proxy_url"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type CacheConfig struct {
	Dir           string        `yaml:"dir"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	MemoryBudget  int64         `yaml:"memory_budget"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Compress      bool          `yaml:"compress"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type StreamConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
}

type UnifiedConfig struct {
	Priority         []string      `yaml:"priority"`
	WatchSymbols     []string      `yaml:"watch_symbols"`
	WatchTimeframes  []string      `yaml:"watch_timeframes"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	HotTTL           time.Duration `yaml:"hot_ttl"`
	BatchConcurrency int           `yaml:"batch_concurrency"`
	FreshnessTicker  time.Duration `yaml:"freshness_ticker"`
	FreshnessFunding time.Duration `yaml:"freshness_funding"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	ResourceHistory int           `yaml:"resource_history"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

// ResolveConfigPath maps the default config path to the environment
// specific file (config/config.<env>.yml) for the current APP_ENV. An
// explicitly chosen path is left alone.
func ResolveConfigPath(path string) string {
	const defaultPath = "config/config.yml"
	return resolveEnvSpecificPath(path, defaultPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})
}

func LoadConfig(path string) (*Config, error) {
	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Unified: UnifiedConfig{
			Priority: []string{"okx", "binance"},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Credentials come from the environment when set; the yaml values are
	// a development fallback.
	if v := os.Getenv("OKX_API_KEY"); v != "" {
		config.Source.Okx.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_SECRET_KEY"); v != "" {
		config.Source.Okx.SecretKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("OKX_PASSPHRASE"); v != "" {
		config.Source.Okx.Passphrase = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		config.Source.Binance.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("BINANCE_SECRET_KEY"); v != "" {
		config.Source.Binance.SecretKey = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Marketflow.Name == "" {
		return fmt.Errorf("marketflow.name is required")
	}

	if cfg.Marketflow.Version == "" {
		return fmt.Errorf("marketflow.version is required")
	}

	if !cfg.Source.Okx.Enabled && !cfg.Source.Binance.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}

	if cfg.Source.Okx.Enabled && cfg.Source.Okx.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("source.okx.rate_limit.requests_per_second must not be negative")
	}
	if cfg.Source.Binance.Enabled && cfg.Source.Binance.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("source.binance.rate_limit.requests_per_second must not be negative")
	}

	for _, ex := range cfg.Unified.Priority {
		if ex != "okx" && ex != "binance" {
			return fmt.Errorf("unified.priority contains unknown exchange %q", ex)
		}
	}

	for _, sym := range cfg.Unified.WatchSymbols {
		if !strings.Contains(sym, "-") {
			return fmt.Errorf("unified.watch_symbols entries must be canonical (BASE-QUOTE-SWAP), got %q", sym)
		}
	}

	if cfg.Cache.MemoryBudget < 0 {
		return fmt.Errorf("cache.memory_budget must not be negative")
	}

	return nil
}
