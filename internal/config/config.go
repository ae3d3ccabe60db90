// Package config содержит логику чтения конфигурации клиента умной тележки.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Хранилища сохранённого состояния клиента.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config содержит параметры конфигурации клиента умной тележки.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	APIHost             string        `env:"API_HOST"`
	StateStore          string        `env:"STATE_STORE"`
	StateDir            string        `env:"STATE_DIR"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	RedisPassword       string        `env:"REDIS_PASSWORD"`
	RedisDB             int           `env:"REDIS_DB"`
	PollInterval        time.Duration `env:"POLL_INTERVAL"`
	ConnectPollInterval time.Duration `env:"CONNECT_POLL_INTERVAL"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT"`
	LogLevel            string        `env:"LOG_LEVEL"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS"`
}

// Origins возвращает список разрешённых CORS-источников.
func (c *Config) Origins() []string {
	var res []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			res = append(res, o)
		}
	}
	return res
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for the kiosk API")
	flag.StringVar(&cfg.APIHost, "api", "http://localhost:8000/api", "backend API base URL")
	flag.StringVar(&cfg.StateStore, "store", StoreFile, "persisted state store: file, memory, redis or postgres")
	flag.StringVar(&cfg.StateDir, "state", ".smartcart", "directory of the file state store")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "redis", "", "redis address")
	flag.DurationVar(&cfg.PollInterval, "poll", 10*time.Second, "cart display refresh interval")
	flag.DurationVar(&cfg.ConnectPollInterval, "connect-poll", 3*time.Second, "active session poll interval")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 5*time.Second, "backend request timeout")
	flag.StringVar(&cfg.LogLevel, "log", "info", "log level")
	flag.StringVar(&cfg.AllowedOrigins, "origins", "*", "comma separated CORS origins")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.APIHost != "" {
		cfg.APIHost = fromEnv.APIHost
	}
	if fromEnv.StateStore != "" {
		cfg.StateStore = fromEnv.StateStore
	}
	if fromEnv.StateDir != "" {
		cfg.StateDir = fromEnv.StateDir
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.RedisAddress != "" {
		cfg.RedisAddress = fromEnv.RedisAddress
	}
	if fromEnv.PollInterval > 0 {
		cfg.PollInterval = fromEnv.PollInterval
	}
	if fromEnv.ConnectPollInterval > 0 {
		cfg.ConnectPollInterval = fromEnv.ConnectPollInterval
	}
	if fromEnv.RequestTimeout > 0 {
		cfg.RequestTimeout = fromEnv.RequestTimeout
	}
	if fromEnv.LogLevel != "" {
		cfg.LogLevel = fromEnv.LogLevel
	}
	if fromEnv.AllowedOrigins != "" {
		cfg.AllowedOrigins = fromEnv.AllowedOrigins
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StateStore {
	case StoreFile, StoreMemory:
	case StoreRedis:
		if c.RedisAddress == "" {
			return errors.New("redis state store requires REDIS_ADDRESS")
		}
	case StorePostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres state store requires DATABASE_URI")
		}
	default:
		return fmt.Errorf("unknown state store %q", c.StateStore)
	}

	if c.APIHost == "" {
		return errors.New("API_HOST is required")
	}
	if c.PollInterval <= 0 || c.ConnectPollInterval <= 0 || c.RequestTimeout <= 0 {
		return errors.New("intervals and timeout must be positive")
	}
	return nil
}
