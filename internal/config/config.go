package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Chat         ChatConfig         `yaml:"chat"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	SecretKey string `yaml:"secret_key"`
}

type NotificationConfig struct {
	ServiceURL string        `yaml:"service_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
}

// UnmarshalYAML parses timeout values written as Go duration strings.
func (c *NotificationConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ServiceURL string `yaml:"service_url"`
		APIKey     string `yaml:"api_key"`
		Timeout    string `yaml:"timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ServiceURL != "" {
		c.ServiceURL = raw.ServiceURL
	}
	if raw.APIKey != "" {
		c.APIKey = raw.APIKey
	}
	return decodeDuration(&c.Timeout, raw.Timeout)
}

// ChatConfig carries the realtime policy knobs
type ChatConfig struct {
	IdleThreshold     time.Duration `yaml:"idle_threshold"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	EditWindow        time.Duration `yaml:"edit_window"`
	NegotiationExpiry time.Duration `yaml:"negotiation_expiry"`
	AutoCloseDefault  time.Duration `yaml:"auto_close_default"`
}

// UnmarshalYAML parses the policy knobs written as Go duration strings.
func (c *ChatConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		IdleThreshold     string `yaml:"idle_threshold"`
		SweepInterval     string `yaml:"sweep_interval"`
		EditWindow        string `yaml:"edit_window"`
		NegotiationExpiry string `yaml:"negotiation_expiry"`
		AutoCloseDefault  string `yaml:"auto_close_default"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for _, pair := range []struct {
		dst *time.Duration
		raw string
	}{
		{&c.IdleThreshold, raw.IdleThreshold},
		{&c.SweepInterval, raw.SweepInterval},
		{&c.EditWindow, raw.EditWindow},
		{&c.NegotiationExpiry, raw.NegotiationExpiry},
		{&c.AutoCloseDefault, raw.AutoCloseDefault},
	} {
		if err := decodeDuration(pair.dst, pair.raw); err != nil {
			return err
		}
	}
	return nil
}

func decodeDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     8002,
			BasePath: "/api/chats",
			Env:      "dev",
			LogLevel: "debug",
		},
		Notification: NotificationConfig{
			Timeout: 5 * time.Second,
		},
		Chat: ChatConfig{
			IdleThreshold:     5 * time.Minute,
			SweepInterval:     5 * time.Minute,
			EditWindow:        24 * time.Hour,
			NegotiationExpiry: 7 * 24 * time.Hour,
			AutoCloseDefault:  24 * time.Hour,
		},
	}

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override with environment variables
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if secretKey := os.Getenv("SECRET_KEY"); secretKey != "" {
		cfg.Auth.SecretKey = secretKey
	}
	if notiURL := os.Getenv("NOTI_SERVICE_URL"); notiURL != "" {
		cfg.Notification.ServiceURL = notiURL
	}
	if apiKey := os.Getenv("INTERNAL_API_KEY"); apiKey != "" {
		cfg.Notification.APIKey = apiKey
	}
	if v := os.Getenv("IDLE_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chat.IdleThreshold = d
		}
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Chat.SweepInterval = d
		}
	}

	return cfg, nil
}
