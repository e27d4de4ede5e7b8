// Package config loads service configuration from an optional YAML file and
// SUBS_-prefixed environment variables, env taking precedence. Nested keys
// use a double underscore in env names: SUBS_TELEGRAM__BOT_TOKEN maps to
// telegram.bot_token.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SUBS_"

// listKeys are config keys whose env values are comma-separated lists.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
	"subscriptions.topics": true,
}

// Config is the root configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Telegram      TelegramConfig      `koanf:"telegram"`
	Storage       StorageConfig       `koanf:"storage"`
	Subscriptions SubscriptionsConfig `koanf:"subscriptions"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig holds CORS settings for the browser-facing endpoints.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// TelegramConfig holds the bot credentials and outbound call settings.
type TelegramConfig struct {
	BotToken      string        `koanf:"bot_token"`
	BotUsername   string        `koanf:"bot_username"`
	WebhookSecret string        `koanf:"webhook_secret"`
	APIURL        string        `koanf:"api_url"`
	SendTimeout   time.Duration `koanf:"send_timeout"`
	RateLimit     float64       `koanf:"rate_limit"`
}

// Storage backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend string             `koanf:"backend"`
	File    FileStorageConfig  `koanf:"file"`
	Redis   RedisStorageConfig `koanf:"redis"`
}

// FileStorageConfig holds local file backend settings.
type FileStorageConfig struct {
	Path string `koanf:"path"`
}

// RedisStorageConfig holds remote KV backend settings.
type RedisStorageConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// SubscriptionsConfig holds the topic allow-list and link lifecycle knobs.
type SubscriptionsConfig struct {
	Topics            []string      `koanf:"topics"`
	LinkTTL           time.Duration `koanf:"link_ttl"`
	LinkRetention     time.Duration `koanf:"link_retention"`
	NotifyConcurrency int           `koanf:"notify_concurrency"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Telegram: TelegramConfig{
			SendTimeout: 10 * time.Second,
			RateLimit:   20,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			File:    FileStorageConfig{Path: "data/subscriptions"},
			Redis:   RedisStorageConfig{Addr: "localhost:6379", KeyPrefix: "subs:"},
		},
		Subscriptions: SubscriptionsConfig{
			Topics:            []string{"data-engineering", "machine-learning", "cloud-architecture", "ai-tools"},
			LinkTTL:           15 * time.Minute,
			LinkRetention:     24 * time.Hour,
			NotifyConcurrency: 4,
		},
	}
}

// Load reads configuration. path is an optional YAML file; an empty path
// skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(s, v string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
		if listKeys[key] {
			parts := strings.Split(v, ",")
			for i, p := range parts {
				parts[i] = strings.TrimSpace(p)
			}
			return key, parts
		}
		return key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.WebhookSecret == "" {
		return fmt.Errorf("telegram.webhook_secret is required")
	}
	if len(c.Subscriptions.Topics) == 0 {
		return fmt.Errorf("subscriptions.topics must list at least one topic")
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.File.Path == "" {
			return fmt.Errorf("storage.file.path is required for the file backend")
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want %q or %q)", c.Storage.Backend, BackendFile, BackendRedis)
	}

	return nil
}
