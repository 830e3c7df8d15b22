package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.yaml.in/yaml/v4"
)

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Config struct {
	ListenAddr     string        `yaml:"listen_addr"`
	Redis          Redis         `yaml:"redis"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	CheckTimeout   time.Duration `yaml:"check_timeout"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
	HistoryLimit   int           `yaml:"history_limit"`
	RestartBackoff time.Duration `yaml:"restart_backoff"`
}

func Default() Config {
	return Config{
		ListenAddr: ":8090",
		Redis: Redis{
			Addr: "redis:6379",
		},
		CheckInterval:  30 * time.Second,
		CheckTimeout:   5 * time.Second,
		FlushInterval:  3 * time.Second,
		HistoryLimit:   100,
		RestartBackoff: 2 * time.Second,
	}
}

// Load builds the hub configuration from defaults, an optional yaml file and
// environment overrides, in that order. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()

	if cfg.CheckInterval <= 0 || cfg.CheckTimeout <= 0 || cfg.FlushInterval <= 0 {
		return Config{}, fmt.Errorf("config: intervals must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = Default().HistoryLimit
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HUB_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CheckInterval = d
		}
	}
	if v := os.Getenv("CHECK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CheckTimeout = d
		}
	}
	if v := os.Getenv("FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FlushInterval = d
		}
	}
}
