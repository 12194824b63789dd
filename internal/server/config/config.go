package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LABDROP_SERVER_PORT or LABDROP_ADMIN_BOOTSTRAP_PASSWORD.
const EnvPrefix = "LABDROP"

// Config is the process configuration. Settings that admins edit at runtime
// live in settings.json instead.
type Config struct {
	DataDir         string `mapstructure:"data_dir"         yaml:"data_dir"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Server    ServerConfig    `mapstructure:"server"    yaml:"server"`
	Session   SessionConfig   `mapstructure:"session"   yaml:"session"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Admin     AdminConfig     `mapstructure:"admin"     yaml:"admin"`
	Log       LogConfig       `mapstructure:"log"       yaml:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host"             yaml:"host"`
	Port           int      `mapstructure:"port"             yaml:"port"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"   yaml:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	AllowOrigins   []string `mapstructure:"allow_origins"    yaml:"allow_origins"`
}

type SessionConfig struct {
	TTL          string `mapstructure:"ttl"           yaml:"ttl"`
	CookieSecure bool   `mapstructure:"cookie_secure" yaml:"cookie_secure"`
}

type RetentionConfig struct {
	Interval string `mapstructure:"interval" yaml:"interval"`
}

type AdminConfig struct {
	BootstrapUsername string `mapstructure:"bootstrap_username" yaml:"bootstrap_username"`
	BootstrapPassword string `mapstructure:"bootstrap_password" yaml:"bootstrap_password"`
}

type LogConfig struct {
	Level      string            `mapstructure:"level"       yaml:"level"`
	File       string            `mapstructure:"file"        yaml:"file"`
	JSON       bool              `mapstructure:"json"        yaml:"json"`
	NoTerminal bool              `mapstructure:"no_terminal" yaml:"no_terminal"`
	Rotation   LogRotationConfig `mapstructure:"rotation"    yaml:"rotation"`
}

type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"    yaml:"max_size"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"     yaml:"max_age"`
	Compress   bool `mapstructure:"compress"    yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:         "./data",
		ShutdownTimeout: "30s",
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			RateLimitRPS:   2,
			RateLimitBurst: 10,
			AllowOrigins:   []string{"*"},
		},
		Session: SessionConfig{
			TTL: "12h",
		},
		Retention: RetentionConfig{
			Interval: "24h",
		},
		Admin: AdminConfig{
			BootstrapUsername: "Admin",
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
			},
		},
	}
}

// SetDefaults registers every key with v so that environment variables can
// override keys missing from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.rate_limit_rps", d.Server.RateLimitRPS)
	v.SetDefault("server.rate_limit_burst", d.Server.RateLimitBurst)
	v.SetDefault("server.allow_origins", d.Server.AllowOrigins)

	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.cookie_secure", d.Session.CookieSecure)

	v.SetDefault("retention.interval", d.Retention.Interval)

	v.SetDefault("admin.bootstrap_username", d.Admin.BootstrapUsername)
	v.SetDefault("admin.bootstrap_password", d.Admin.BootstrapPassword)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.json", d.Log.JSON)
	v.SetDefault("log.no_terminal", d.Log.NoTerminal)
	v.SetDefault("log.rotation.max_size", d.Log.Rotation.MaxSize)
	v.SetDefault("log.rotation.max_backups", d.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age", d.Log.Rotation.MaxAge)
	v.SetDefault("log.rotation.compress", d.Log.Rotation.Compress)
}

// BindEnv makes v read LABDROP_* environment variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("server.rate_limit_rps and server.rate_limit_burst must be positive")
	}
	for key, value := range map[string]string{
		"shutdown_timeout":   c.ShutdownTimeout,
		"session.ttl":        c.Session.TTL,
		"retention.interval": c.Retention.Interval,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, value)
		}
	}
	return nil
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return mustDuration(c.Session.TTL)
}

// RetentionInterval returns how often the retention sweep runs.
func (c *Config) RetentionInterval() time.Duration {
	return mustDuration(c.Retention.Interval)
}

// Shutdown returns the graceful shutdown timeout.
func (c *Config) Shutdown() time.Duration {
	return mustDuration(c.ShutdownTimeout)
}

// Addr returns the listen address, letting a port from settings.json win
// over the configured one.
func (c *Config) Addr(portOverride *int) string {
	port := c.Server.Port
	if portOverride != nil && *portOverride > 0 {
		port = *portOverride
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, port)
}

// mustDuration parses a duration that Validate has already checked.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
