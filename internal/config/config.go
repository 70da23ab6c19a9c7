package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Platform PlatformConfig `mapstructure:"platform"`
	Rate     RateConfig     `mapstructure:"rate"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	// ReadOnly rejects every write route, e.g. during maintenance.
	ReadOnly bool `mapstructure:"read_only"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	// RequireSignature=false trusts the X-Identity header as-is. Development only.
	RequireSignature    bool   `mapstructure:"require_signature"`
	MaxClockSkewSeconds int    `mapstructure:"max_clock_skew_seconds"`
	AdminKey            string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type PlatformConfig struct {
	// Admin pins the identity allowed to initialize the platform. Empty means first caller wins.
	Admin        string `mapstructure:"admin"`
	FollowFee    string `mapstructure:"follow_fee"` // whole units, e.g. "0.001"
	UnitDecimals int32  `mapstructure:"unit_decimals"`
	MaxFollowers int    `mapstructure:"max_followers"`
	MaxClaimed   int    `mapstructure:"max_claimed"`
	// FailureFeeRefund is "followers" or "admin".
	FailureFeeRefund string `mapstructure:"failure_fee_refund"`
}

type RateConfig struct {
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// FollowFeeBaseUnits converts the configured whole-unit fee into base units.
func (p PlatformConfig) FollowFeeBaseUnits() (uint64, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(p.FollowFee))
	if err != nil {
		return 0, fmt.Errorf("invalid platform.follow_fee %q: %w", p.FollowFee, err)
	}
	if fee.IsNegative() {
		return 0, fmt.Errorf("platform.follow_fee must not be negative")
	}
	base := fee.Shift(p.UnitDecimals)
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("platform.follow_fee %s has more than %d decimals", p.FollowFee, p.UnitDecimals)
	}
	bi := base.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("platform.follow_fee %s overflows base units", p.FollowFee)
	}
	return bi.Uint64(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_only", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.require_signature", true)
	v.SetDefault("auth.max_clock_skew_seconds", 300)
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.idempotency_ttl_seconds", 86400)
	v.SetDefault("nats.subject_prefix", "credcalls.events")
	v.SetDefault("platform.follow_fee", "0.001")
	v.SetDefault("platform.unit_decimals", 9)
	v.SetDefault("platform.max_followers", 50)
	v.SetDefault("platform.max_claimed", 50)
	v.SetDefault("platform.failure_fee_refund", "followers")
	v.SetDefault("rate.qps", 10)
	v.SetDefault("rate.burst", 20)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. CREDCALLS_PLATFORM_FOLLOW_FEE
	v.SetEnvPrefix("credcalls")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config populated only from defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	if _, err := c.Platform.FollowFeeBaseUnits(); err != nil {
		return err
	}
	if c.Platform.MaxFollowers <= 0 {
		return fmt.Errorf("platform.max_followers must be positive")
	}
	if c.Platform.MaxClaimed <= 0 {
		return fmt.Errorf("platform.max_claimed must be positive")
	}
	// every follower of a call must be able to claim its share
	if c.Platform.MaxClaimed < c.Platform.MaxFollowers {
		return fmt.Errorf("platform.max_claimed (%d) must be at least platform.max_followers (%d)",
			c.Platform.MaxClaimed, c.Platform.MaxFollowers)
	}
	switch c.Platform.FailureFeeRefund {
	case "followers", "admin":
	default:
		return fmt.Errorf("platform.failure_fee_refund must be \"followers\" or \"admin\", got %q", c.Platform.FailureFeeRefund)
	}
	return nil
}
