// Package config loads the daemon's configuration: built-in defaults, then
// an optional YAML file, then SEMANTICA_* environment variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Store struct {
		Path        string        `yaml:"path"`
		PoolSize    int           `yaml:"pool_size"`
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"store"`

	RPC struct {
		Host             string `yaml:"host"`
		Port             int    `yaml:"port"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		RateLimitPerSec  int    `yaml:"rate_limit_rate"`
	} `yaml:"rpc"`

	Worker struct {
		Count              int           `yaml:"count"`
		RecoveryWindow     time.Duration `yaml:"recovery_window"`
	} `yaml:"worker"`

	JobLog struct {
		Dir string `yaml:"dir"`
	} `yaml:"joblog"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Maintenance struct {
		IntervalCron string `yaml:"interval_cron"`
	} `yaml:"maintenance"`

	Log struct {
		Format string `yaml:"format"` // "pretty" or "json"
		Level  string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns the built-in defaults, used when no config file is given
// and as the base before environment overrides are applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Store.Path = "./data/task-engine.db"
	cfg.Store.PoolSize = 20
	cfg.Store.BusyTimeout = 5 * time.Second
	cfg.RPC.Host = "127.0.0.1"
	cfg.RPC.Port = 9527
	cfg.RPC.RateLimitBurst = 200
	cfg.RPC.RateLimitPerSec = 100
	cfg.Worker.Count = 4
	cfg.Worker.RecoveryWindow = 5 * time.Minute
	cfg.JobLog.Dir = "./data/logs"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	cfg.Maintenance.IntervalCron = "0 0 * * *" // daily at midnight
	cfg.Log.Format = "pretty"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path (if non-empty and present) over the defaults, then applies
// SEMANTICA_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEMANTICA_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := envInt("SEMANTICA_POOL_SIZE"); v != nil {
		cfg.Store.PoolSize = *v
	}
	if v := envDuration("SEMANTICA_POOL_TIMEOUT"); v != nil {
		cfg.Store.BusyTimeout = *v
	}
	if v := os.Getenv("SEMANTICA_RPC_HOST"); v != "" {
		cfg.RPC.Host = v
	}
	if v := envInt("SEMANTICA_RPC_PORT"); v != nil {
		cfg.RPC.Port = *v
	}
	if v := envInt("SEMANTICA_RATE_LIMIT_BURST"); v != nil {
		cfg.RPC.RateLimitBurst = *v
	}
	if v := envInt("SEMANTICA_RATE_LIMIT_RATE"); v != nil {
		cfg.RPC.RateLimitPerSec = *v
	}
	if v := envInt("SEMANTICA_WORKER_COUNT"); v != nil {
		cfg.Worker.Count = *v
	}
	if v := os.Getenv("SEMANTICA_JOBLOG_DIR"); v != "" {
		cfg.JobLog.Dir = v
	}
	if v := envInt("SEMANTICA_METRICS_PORT"); v != nil {
		cfg.Metrics.Port = *v
	}
	if v := os.Getenv("SEMANTICA_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SEMANTICA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func envInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envDuration(key string) *time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil
	}
	return &d
}
