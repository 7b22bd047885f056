package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"signal_bot/internal/notify"
	"signal_bot/pkg/tracing"
)

const (
	configFilePathENV = "CONFIG_FILE"
	configDir         = "configs"
	defaultConfigFile = "values_local.yaml"

	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	pushoverAppENV    = "PUSHOVER_APP_TOKEN"
	pushoverUserENV   = "PUSHOVER_USER_KEY"
	databaseDSN       = "DATABASE_DSN"
	logLevelENV       = "LOG_LEVEL"
	healthAddrENV     = "HEALTH_ADDR"
	strategiesFileENV = "STRATEGIES_FILE"
)

// Config ...
type Config struct {
	Log struct {
		Level string `yaml:"level"`
		Dev   bool   `yaml:"dev"`
	} `yaml:"log"`

	Health struct {
		Addr string `yaml:"addr"`
	} `yaml:"health"`

	Tracing tracing.Config `yaml:"tracing"`

	History struct {
		Backend string `yaml:"backend" validate:"oneof=memory postgres"`
		DSN     string `yaml:"db_dsn" validate:"required_if=Backend postgres"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"history"`

	// Файл стратегий (yaml/json/toml), путь относительно рабочей директории.
	StrategiesFile string `yaml:"strategies_file" validate:"required"`

	Feed     FeedConfig      `yaml:"feed"`
	Dispatch DispatchConfig  `yaml:"dispatch"`
	Runner   RunnerConfig    `yaml:"runner"`
	Channels []ChannelConfig `yaml:"channels" validate:"required,min=1,dive"`

	// Control — команды бота в чате telegram-канала (/status, /history ...).
	Control ControlConfig `yaml:"control"`
}

type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel" validate:"required_if=Enabled true"`
}

type FeedConfig struct {
	Source         string        `yaml:"source" validate:"oneof=okx replay"`
	WSURL          string        `yaml:"ws_url"`
	RESTURL        string        `yaml:"rest_url"`
	WarmupBars     int           `yaml:"warmup_bars" validate:"gte=0,lte=300"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	ReplayFile     string        `yaml:"replay_file" validate:"required_if=Source replay"`
}

type DispatchConfig struct {
	IntakeBuffer    int           `yaml:"intake_buffer"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RunnerConfig struct {
	ErrorChannel      string        `yaml:"error_channel"`
	MarketUpdateEvery time.Duration `yaml:"market_update_every"`
}

// ChannelConfig — канал доставки и его политика.
type ChannelConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Type    string `yaml:"type" validate:"required,oneof=console telegram pushover webhook"`
	Enabled *bool  `yaml:"enabled"`

	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=0"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	RatePerMinute  int           `yaml:"rate_per_minute" validate:"gte=0"`
	QueueDepth     int           `yaml:"queue_depth" validate:"gte=0"`
	Workers        int           `yaml:"workers" validate:"gte=0,lte=64"`
	Kinds          []string      `yaml:"kinds"`

	Telegram notify.TelegramConfig `yaml:"telegram"`
	Pushover notify.PushoverConfig `yaml:"pushover"`
	Webhook  notify.WebhookConfig  `yaml:"webhook"`
}

func (c ChannelConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig читает configs/$CONFIG_FILE (по умолчанию values_local.yaml).
func NewConfig() (*Config, error) {
	name := getenvDefault(configFilePathENV, defaultConfigFile)
	return Load(filepath.Join(configDir, name))
}

// Load — дефолты, затем файл, затем переменные окружения.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}
	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func defaults() *Config {
	c := &Config{StrategiesFile: "configs/strategies.yaml"}
	c.Log.Level = "info"
	c.Health.Addr = ":8080"
	c.History.Backend = "memory"
	c.Feed = FeedConfig{
		Source:         "okx",
		WarmupBars:     intFromEnv("FEED_WARMUP_BARS", 100),
		ReconnectDelay: durationFromEnv("FEED_RECONNECT_DELAY", "2s"),
		PingInterval:   durationFromEnv("FEED_PING_INTERVAL", "20s"),
		RetryDelay:     durationFromEnv("FEED_RETRY_DELAY", "1s"),
	}
	c.Dispatch = DispatchConfig{
		IntakeBuffer:    intFromEnv("DISPATCH_INTAKE_BUFFER", notify.DefaultIntakeBuffer),
		ShutdownTimeout: durationFromEnv("DISPATCH_SHUTDOWN_TIMEOUT", "15s"),
	}
	c.Runner.MarketUpdateEvery = durationFromEnv("MARKET_UPDATE_EVERY", "0s")
	return c
}

// applyEnv — секреты и адреса из окружения перекрывают файл.
func applyEnv(c *Config) {
	c.Log.Level = getenvDefault(logLevelENV, c.Log.Level)
	c.Log.Dev = boolFromEnv("LOG_DEV", c.Log.Dev)
	c.Health.Addr = getenvDefault(healthAddrENV, c.Health.Addr)
	c.StrategiesFile = getenvDefault(strategiesFileENV, c.StrategiesFile)
	c.Tracing.Enabled = boolFromEnv("TRACING_ENABLED", c.Tracing.Enabled)

	if dsn := os.Getenv(databaseDSN); dsn != "" {
		c.History.DSN = dsn
		c.History.Backend = "postgres"
	}

	token := os.Getenv(tokenTelegramENV)
	chatID := int64(intFromEnv(chatTelegramENV, 0))
	app, user := os.Getenv(pushoverAppENV), os.Getenv(pushoverUserENV)
	for i := range c.Channels {
		ch := &c.Channels[i]
		switch ch.Type {
		case "telegram":
			if token != "" {
				ch.Telegram.Token = token
			}
			if chatID != 0 {
				ch.Telegram.ChatID = chatID
			}
		case "pushover":
			if app != "" {
				ch.Pushover.AppToken = app
			}
			if user != "" {
				ch.Pushover.UserKey = user
			}
		}
	}
}

// Validate — теги validator плюс связи между секциями.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		if seen[ch.ID] {
			return fmt.Errorf("config: channel %q declared twice", ch.ID)
		}
		seen[ch.ID] = true
		if ch.Type == "webhook" && ch.Webhook.URL == "" {
			return fmt.Errorf("config: channel %q: webhook.url is required", ch.ID)
		}
	}
	if e := c.Runner.ErrorChannel; e != "" && !seen[e] {
		return fmt.Errorf("config: runner.error_channel %q is not a declared channel", e)
	}
	if c.Control.Enabled {
		if _, ok := c.TelegramChannel(c.Control.Channel); !ok {
			return fmt.Errorf("config: control.channel %q is not a declared telegram channel", c.Control.Channel)
		}
	}
	return nil
}

// TelegramChannel ищет включённый telegram-канал по id.
func (c *Config) TelegramChannel(id string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id && ch.Type == "telegram" && ch.IsEnabled() {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
