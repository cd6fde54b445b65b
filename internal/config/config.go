// Package config loads the trigger service's configuration from a YAML
// file (if present) with environment-variable overrides, following the
// layered convention used across the rest of this codebase's ambient
// stack.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aixtrade/LLMTrigger/internal/logging"
)

// RedisConfig points at the state store.
type RedisConfig struct {
	URL string `json:"url" yaml:"url" env:"REDIS_URL"`
}

// BrokerConfig points at the event ingress queue.
type BrokerConfig struct {
	RabbitMQURL   string `json:"rabbitmq_url" yaml:"rabbitmq_url" env:"RABBITMQ_URL"`
	RabbitMQQueue string `json:"rabbitmq_queue" yaml:"rabbitmq_queue" env:"RABBITMQ_QUEUE"`
	// Queue is the Redis-list key used by the shipped broker adapter;
	// it defaults to RabbitMQQueue (or "trigger_events") so operators
	// who only set RABBITMQ_QUEUE still get a consistent ingress name.
	Queue string `json:"queue" yaml:"queue"`
}

// OpenAIConfig points at the LLM service.
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model   string        `json:"model" yaml:"model" env:"OPENAI_MODEL"`
	Timeout time.Duration `json:"-" yaml:"-"`
	// TimeoutSeconds is read directly from the env as an integer
	// (OPENAI_TIMEOUT, default 30s).
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" env:"OPENAI_TIMEOUT"`
}

// ContextConfig bounds the rolling context window.
type ContextConfig struct {
	WindowSeconds int `json:"window_seconds" yaml:"window_seconds" env:"CONTEXT_WINDOW_SECONDS"`
	MaxEvents     int `json:"max_events" yaml:"max_events" env:"CONTEXT_MAX_EVENTS"`
}

// NotificationConfig bounds the notification pipeline's retry policy.
type NotificationConfig struct {
	MaxRetry        int `json:"max_retry" yaml:"max_retry" env:"NOTIFICATION_MAX_RETRY"`
	DefaultCooldown int `json:"default_cooldown" yaml:"default_cooldown" env:"NOTIFICATION_DEFAULT_COOLDOWN"`
}

// TelegramConfig carries the bot credential used by the telegram channel.
type TelegramConfig struct {
	BotToken string `json:"bot_token" yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
}

// WeComConfig points at the WeCom group-robot webhook base.
type WeComConfig struct {
	WebhookBaseURL string `json:"webhook_base_url" yaml:"webhook_base_url" env:"WECOM_WEBHOOK_BASE_URL"`
}

// SMTPConfig carries plain SMTP credentials used by the email channel.
type SMTPConfig struct {
	Host     string `json:"host" yaml:"host" env:"SMTP_HOST"`
	Port     int    `json:"port" yaml:"port" env:"SMTP_PORT"`
	Username string `json:"username" yaml:"username" env:"SMTP_USERNAME"`
	Password string `json:"password" yaml:"password" env:"SMTP_PASSWORD"`
	From     string `json:"from" yaml:"from" env:"SMTP_FROM"`
}

// ChannelConfig groups the concrete notification channel settings.
type ChannelConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	WeCom    WeComConfig    `json:"wecom" yaml:"wecom"`
	SMTP     SMTPConfig     `json:"smtp" yaml:"smtp"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

// Config is the top-level configuration for the trigger core.
type Config struct {
	Logging      logging.Config     `json:"logging" yaml:"logging"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	Broker       BrokerConfig       `json:"broker" yaml:"broker"`
	OpenAI       OpenAIConfig       `json:"openai" yaml:"openai"`
	Context      ContextConfig      `json:"context" yaml:"context"`
	Notification NotificationConfig `json:"notification" yaml:"notification"`
	Channels     ChannelConfig      `json:"channels" yaml:"channels"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// New returns a Config populated with the service's documented defaults.
func New() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Redis: RedisConfig{URL: "redis://127.0.0.1:6379/0"},
		Broker: BrokerConfig{
			RabbitMQQueue: "trigger_events",
			Queue:         "trigger_events",
		},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Context: ContextConfig{
			WindowSeconds: 300,
			MaxEvents:     100,
		},
		Notification: NotificationConfig{
			MaxRetry:        3,
			DefaultCooldown: 60,
		},
		Channels: ChannelConfig{
			SMTP: SMTPConfig{Port: 587},
		},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
	}
}

// Load reads configuration from CONFIG_FILE (or ./configs/config.yaml if
// present), then applies environment-variable overrides, then applies
// derived defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// normalize fills derived fields and clamps values that must be positive.
func (c *Config) normalize() {
	if c.Broker.Queue == "" {
		c.Broker.Queue = c.Broker.RabbitMQQueue
	}
	if c.Broker.Queue == "" {
		c.Broker.Queue = "trigger_events"
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = 30
	}
	c.OpenAI.Timeout = time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
	if c.Context.WindowSeconds <= 0 {
		c.Context.WindowSeconds = 300
	}
	if c.Context.MaxEvents <= 0 {
		c.Context.MaxEvents = 100
	}
	if c.Notification.MaxRetry <= 0 {
		c.Notification.MaxRetry = 3
	}
	if c.Notification.DefaultCooldown <= 0 {
		c.Notification.DefaultCooldown = 60
	}
	if c.Channels.SMTP.Port <= 0 {
		c.Channels.SMTP.Port = 587
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}
