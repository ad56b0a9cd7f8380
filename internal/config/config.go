// Package config loads the proxy's configuration from flags, environment
// variables, and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full configuration surface for rangeproxyd.
type Config struct {
	ListenAddr    string        `mapstructure:"listenAddr"`
	MetricsAddr   string        `mapstructure:"metricsAddr"`
	CacheRoot     string        `mapstructure:"cacheRoot"`
	MaxTotalBytes int64         `mapstructure:"maxTotalBytes"`
	ChunkSize     int64         `mapstructure:"chunkSize"`
	LogLevel      string        `mapstructure:"logLevel"`
	LogFilePath   string        `mapstructure:"logFilePath"`
	OriginTimeout time.Duration `mapstructure:"originTimeout"`
	IdleTimeout   time.Duration `mapstructure:"idleTimeout"`
}

const (
	defaultListenAddr    = ":8080"
	defaultMaxTotalBytes = 1 << 30 // 1 GiB
	defaultChunkSize     = 5 * 1024 * 1024
	defaultOriginTimeout = 30 * time.Second
	defaultIdleTimeout   = 60 * time.Second
)

// Load builds a Config from flags, the RANGEPROXY_-prefixed environment,
// and an optional config file, in that precedence order, following the
// defaults-then-override pattern of rogeecn-any-hub/internal/config.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANGEPROXY")
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.CacheRoot == "" {
		return nil, fmt.Errorf("config: cacheRoot is required")
	}
	abs, err := filepath.Abs(cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve cacheRoot: %w", err)
	}
	cfg.CacheRoot = abs

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listenAddr", defaultListenAddr)
	v.SetDefault("metricsAddr", "")
	v.SetDefault("maxTotalBytes", defaultMaxTotalBytes)
	v.SetDefault("chunkSize", defaultChunkSize)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFilePath", "")
	v.SetDefault("originTimeout", defaultOriginTimeout)
	v.SetDefault("idleTimeout", defaultIdleTimeout)
}
