// Package config loads the server configuration from an optional YAML
// file, environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Binance      BinanceConfig      `mapstructure:"binance"`
	Data         DataConfig         `mapstructure:"data"`
	Optimization OptimizationConfig `mapstructure:"optimization"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BinanceConfig controls the futures REST client.
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StreamURL      string        `mapstructure:"stream_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
}

// DataConfig controls on-disk storage locations.
type DataConfig struct {
	CacheDir   string `mapstructure:"cache_dir"`
	SettingsDB string `mapstructure:"settings_db"`
	SummaryDir string `mapstructure:"summary_dir"`
	ParamsDir  string `mapstructure:"params_dir"`
}

// OptimizationConfig holds the runtime knobs of the optimizer.
type OptimizationConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// ScannerConfig controls the live signal scanner.
type ScannerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     string        `mapstructure:"interval"`
	ScanEvery    time.Duration `mapstructure:"scan_every"`
	LookbackBars int           `mapstructure:"lookback_bars"`
	Symbols      []string      `mapstructure:"symbols"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the configuration. A missing config file is not an
// error: defaults plus environment variables apply. Environment
// variables use the BOT_ prefix with underscores, e.g.
// BOT_SERVER_PORT=9000.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("binance.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.stream_url", "wss://fstream.binance.com/ws")
	v.SetDefault("binance.timeout", 15*time.Second)
	v.SetDefault("binance.requests_per_sec", 5.0)

	v.SetDefault("data.cache_dir", "./data/cache")
	v.SetDefault("data.settings_db", "./data/settings.db")
	v.SetDefault("data.summary_dir", "./data/summaries")
	v.SetDefault("data.params_dir", "./data")

	v.SetDefault("optimization.max_workers", 4)

	v.SetDefault("scanner.enabled", false)
	v.SetDefault("scanner.interval", "1h")
	v.SetDefault("scanner.scan_every", 5*time.Minute)
	v.SetDefault("scanner.lookback_bars", 500)
	v.SetDefault("scanner.cooldown", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
