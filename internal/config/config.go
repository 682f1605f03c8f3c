// Package config загружает настройки из YAML-файла и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendRemote   = "remote"

	SessionStoreLocal = "local"
	SessionStoreRedis = "redis"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Postgres struct {
		DSN string `yaml:"dsn"`
	} `yaml:"postgres"`
	Redis struct {
		Addr string `yaml:"addr"`
		Hash string `yaml:"hash"`
	} `yaml:"redis"`
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Storage struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"storage"`
	Session struct {
		Store string `yaml:"store"`
	} `yaml:"session"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		CodeTTL   time.Duration `yaml:"code_ttl"`
	} `yaml:"auth"`
	Upload struct {
		PollAttempts int           `yaml:"poll_attempts"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"upload"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Redis.Hash = "community:session"
	cfg.API.BaseURL = "https://api.allesgut.com/v1"
	cfg.API.Timeout = 10 * time.Second
	cfg.Storage.Backend = BackendLocal
	cfg.Storage.Path = "community.db"
	cfg.Session.Store = SessionStoreLocal
	cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	cfg.Auth.CodeTTL = 5 * time.Minute
	cfg.Upload.PollAttempts = 60
	cfg.Upload.PollInterval = 2 * time.Second
	cfg.Log.Level = "info"
	return cfg
}

// Load читает файл поверх значений по умолчанию. Отсутствующий файл не ошибка.
// Переменные окружения API_BASE_URL, DATABASE_URL, REDIS_ADDR, JWT_SECRET, LOG_LEVEL
// имеют приоритет над файлом.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.WithField("path", path).Info("Файл конфигурации не найден, используются значения по умолчанию")
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	for env, dst := range map[string]*string{
		"API_BASE_URL": &c.API.BaseURL,
		"DATABASE_URL": &c.Postgres.DSN,
		"REDIS_ADDR":   &c.Redis.Addr,
		"JWT_SECRET":   &c.Auth.JWTSecret,
		"LOG_LEVEL":    &c.Log.Level,
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory, BackendRemote:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return apperr.Validation("postgres backend requires postgres.dsn or DATABASE_URL")
		}
	default:
		return apperr.Validation("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Session.Store {
	case SessionStoreLocal:
	case SessionStoreRedis:
		if c.Redis.Addr == "" {
			return apperr.Validation("redis session store requires redis.addr or REDIS_ADDR")
		}
	default:
		return apperr.Validation("unknown session store %q", c.Session.Store)
	}
	if c.Storage.Path == "" && (c.Storage.Backend == BackendLocal || c.Session.Store == SessionStoreLocal) {
		return apperr.Validation("storage.path is required")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return apperr.Validation("api.base_url must be an http(s) URL")
	}
	if c.Upload.PollAttempts < 1 || c.Upload.PollInterval <= 0 {
		return apperr.Validation("upload poll settings must be positive")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return apperr.Validation("invalid log level %q", c.Log.Level)
	}
	return nil
}

// SetupLogging настраивает logrus по конфигурации
func (c *Config) SetupLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
