package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Tracking      TrackingConfig      `mapstructure:"tracking"`
	Blocking      BlockingConfig      `mapstructure:"blocking"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`

	// AllowedOrigins lists origins allowed to call the HTTP API from a
	// browser, e.g. the extension's chrome-extension:// origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "redis" or "memory"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines the per-second accounting loop
type TrackingConfig struct {
	TickInterval string `mapstructure:"tick_interval"`
	Timezone     string `mapstructure:"timezone"` // empty means system local time
	EventBuffer  int    `mapstructure:"event_buffer"`
}

// BlockingConfig defines enforcement behavior
type BlockingConfig struct {
	BlockedPageURL    string `mapstructure:"blocked_page_url"`
	StrictEnforcement bool   `mapstructure:"strict_enforcement"`
	MatchCacheSize    int    `mapstructure:"match_cache_size"`
}

// NotificationsConfig defines schedule start/end notifications
type NotificationsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	LeadTime string `mapstructure:"lead_time"`
	Cron     string `mapstructure:"cron"`
}

// TickDuration returns the parsed tick interval.
func (c TrackingConfig) TickDuration() time.Duration {
	d, err := time.ParseDuration(c.TickInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// Location resolves the configured timezone.
func (c TrackingConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LeadDuration returns the parsed notification lead time.
func (c NotificationsConfig) LeadDuration() time.Duration {
	d, err := time.ParseDuration(c.LeadTime)
	if err != nil || d < 0 {
		return 5 * time.Minute
	}
	return d
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("FOCUSGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no file or environment is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults always unmarshal cleanly
	_ = v.Unmarshal(&config)
	return &config
}

// ValidKeys returns every recognised configuration key.
func ValidKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_port", 8001)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.tick_interval", "1s")
	v.SetDefault("tracking.timezone", "")
	v.SetDefault("tracking.event_buffer", 256)

	// Blocking defaults
	v.SetDefault("blocking.blocked_page_url", "chrome-extension://focusguard/blocked.html")
	v.SetDefault("blocking.strict_enforcement", false)
	v.SetDefault("blocking.match_cache_size", 4096)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.lead_time", "5m")
	v.SetDefault("notifications.cron", "* * * * *")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "redis"
	case "redis", "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Type == "redis" && cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	if d, err := time.ParseDuration(cfg.Tracking.TickInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid tick_interval: %q", cfg.Tracking.TickInterval)
	}
	if _, err := cfg.Tracking.Location(); err != nil {
		return err
	}
	if cfg.Tracking.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}

	if cfg.Blocking.BlockedPageURL == "" {
		return fmt.Errorf("blocked_page_url is required")
	}
	if cfg.Blocking.MatchCacheSize <= 0 {
		return fmt.Errorf("match_cache_size must be positive")
	}

	if cfg.Notifications.Enabled {
		if d, err := time.ParseDuration(cfg.Notifications.LeadTime); err != nil || d < 0 {
			return fmt.Errorf("invalid notifications lead_time: %q", cfg.Notifications.LeadTime)
		}
		if _, err := cron.ParseStandard(cfg.Notifications.Cron); err != nil {
			return fmt.Errorf("invalid notifications cron %q: %w", cfg.Notifications.Cron, err)
		}
	}

	return nil
}
