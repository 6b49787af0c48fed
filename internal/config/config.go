package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Conversion ConversionConfig `mapstructure:"conversion"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        LogConfig        `mapstructure:"log"`
	Platforms  []PlatformConfig `mapstructure:"platforms"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	ReadOnly bool   `mapstructure:"read_only"`
	// hex or base64, fixed per deployment
	SignatureEncoding  string `mapstructure:"signature_encoding"`
	AllowedSkewSeconds int    `mapstructure:"allowed_skew_seconds"`
	AuditLogDir        string `mapstructure:"audit_log_dir"`
}

type AuthConfig struct {
	AdminKey       string  `mapstructure:"admin_key"`
	AdminSecretKey string  `mapstructure:"admin_secret_key"`
	AdminRPS       float64 `mapstructure:"admin_rps"`
	AdminBurst     int     `mapstructure:"admin_burst"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	NonceRetentionMinutes  int    `mapstructure:"nonce_retention_minutes"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	NonceTTLSeconds int    `mapstructure:"nonce_ttl_seconds"`
	AuditListKey    string `mapstructure:"audit_list_key"`
	AuditListMax    int    `mapstructure:"audit_list_max"`
	DepositQueueKey string `mapstructure:"deposit_queue_key"`
	// registry cache invalidation counters
	PlatformVersionPrefix string `mapstructure:"platform_version_prefix"`
}

// ConversionConfig is supplied by the token/mint side and may be changed by an
// admin at runtime; see WatchConversion.
type ConversionConfig struct {
	CreditsPerToken string `mapstructure:"credits_per_token"`
	BurnRate        string `mapstructure:"burn_rate"`     // e.g. "0.015" (1.5%)
	MaxBurnRate     string `mapstructure:"max_burn_rate"` // e.g. "0.02"
}

type RateLimitConfig struct {
	WindowSeconds        int    `mapstructure:"window_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
	Store                string `mapstructure:"store"` // memory | redis
	KeyPrefix            string `mapstructure:"key_prefix"`
}

type RegistryConfig struct {
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
}

type WebhookConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	MaxRetries     int  `mapstructure:"max_retries"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// PlatformConfig seeds the registry when no database is configured.
type PlatformConfig struct {
	ID         string `mapstructure:"id"`
	Name       string `mapstructure:"name"`
	Secret     string `mapstructure:"secret"`
	Active     bool   `mapstructure:"active"`
	Public     bool   `mapstructure:"public"`
	RateBudget int    `mapstructure:"rate_budget"`
	WebhookURL string `mapstructure:"webhook_url"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. SETTLEGATE_CONVERSION_BURN_RATE
	viper.SetEnvPrefix("settlegate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_only", false)
	v.SetDefault("server.signature_encoding", "hex")
	v.SetDefault("server.allowed_skew_seconds", 300)
	v.SetDefault("server.audit_log_dir", "./logs")
	v.SetDefault("auth.admin_rps", 5)
	v.SetDefault("auth.admin_burst", 10)
	v.SetDefault("database.audit_retention_days", 30)
	v.SetDefault("database.nonce_retention_minutes", 10)
	v.SetDefault("database.cleanup_interval_minutes", 60)
	v.SetDefault("redis.nonce_ttl_seconds", 600)
	v.SetDefault("redis.audit_list_key", "audit_logs")
	v.SetDefault("redis.audit_list_max", 10000)
	v.SetDefault("redis.deposit_queue_key", "chain_deposits")
	v.SetDefault("redis.platform_version_prefix", "platform_version")
	v.SetDefault("conversion.credits_per_token", "1")
	v.SetDefault("conversion.burn_rate", "0")
	v.SetDefault("conversion.max_burn_rate", "0.02")
	v.SetDefault("ratelimit.window_seconds", 3600)
	v.SetDefault("ratelimit.sweep_interval_seconds", 60)
	v.SetDefault("ratelimit.store", "memory")
	v.SetDefault("ratelimit.key_prefix", "rl")
	v.SetDefault("registry.cache_ttl_seconds", 30)
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.timeout_seconds", 5)
	v.SetDefault("webhook.max_retries", 3)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
}

// WatchConversion re-reads the conversion section whenever the config file
// changes and hands it to fn. Other sections need a restart.
func WatchConversion(fn func(ConversionConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		var cc ConversionConfig
		if err := viper.UnmarshalKey("conversion", &cc); err != nil {
			log.Printf("Failed to reload conversion config from %s: %v", e.Name, err)
			return
		}
		fn(cc)
	})
	viper.WatchConfig()
}
