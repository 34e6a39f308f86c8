package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level relay configuration. It is not modified after
// Load or LoadFromEnv returns.
type Config struct {
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Store    StoreConfig    `json:"store" yaml:"store"`
	Relay    RelayConfig    `json:"relay" yaml:"relay"`
	API      APIConfig      `json:"api" yaml:"api"`
	Digest   DigestConfig   `json:"digest" yaml:"digest"`
	Notify   NotifyConfig   `json:"notify" yaml:"notify"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token           string        `json:"token" yaml:"token"`
	ResponderChatID int64         `json:"responder_chat_id" yaml:"responder_chat_id"`
	AdminUserID     int64         `json:"admin_user_id" yaml:"admin_user_id"`
	SendRate        float64       `json:"send_rate,omitempty" yaml:"send_rate,omitempty"` // messages/s, default 25
	Webhook         WebhookConfig `json:"webhook" yaml:"webhook"`
}

// WebhookConfig enables webhook mode when PublicURL is set.
type WebhookConfig struct {
	PublicURL string `json:"public_url,omitempty" yaml:"public_url,omitempty"`
	Secret    string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// StoreConfig selects the ticket store backend.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// RelayConfig bounds inbound event processing.
type RelayConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	QueueSize     int `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Key  string `json:"api_key" yaml:"api_key"`
}

// DigestConfig schedules the open-ticket digest. An empty Schedule disables it.
type DigestConfig struct {
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Limit    int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// NotifyConfig configures the lifecycle audit feed.
type NotifyConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url,omitempty" yaml:"slack_webhook_url,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"` // debug, info, warn, error
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Error is a configuration problem. The process must not start when Load
// or LoadFromEnv returns one.
type Error struct {
	Problems []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "config: " + e.Err.Error()
	}
	return "config validation failed:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads configuration from a JSON or YAML file. The format follows
// the extension; anything other than .yaml/.yml is parsed as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("read %s: %w", path, err)}
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("parse %s: %w", path, err)}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with RELAY_ prefix.
func LoadFromEnv() (*Config, error) {
	var problems []string
	intVar := func(key string) int64 {
		v := os.Getenv(key)
		if v == "" {
			return 0
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: invalid integer %q", key, v))
		}
		return n
	}

	cfg := &Config{
		DataDir: os.Getenv("RELAY_DATA_DIR"),
		Telegram: TelegramConfig{
			Token:           os.Getenv("RELAY_TELEGRAM_TOKEN"),
			ResponderChatID: intVar("RELAY_RESPONDER_CHAT_ID"),
			AdminUserID:     intVar("RELAY_ADMIN_USER_ID"),
			SendRate:        getenvFloat("RELAY_TELEGRAM_SEND_RATE", 0),
			Webhook: WebhookConfig{
				PublicURL: os.Getenv("RELAY_WEBHOOK_URL"),
				Secret:    os.Getenv("RELAY_WEBHOOK_SECRET"),
			},
		},
		Store: StoreConfig{
			Driver: os.Getenv("RELAY_STORE_DRIVER"),
			Path:   os.Getenv("RELAY_STORE_PATH"),
			DSN:    os.Getenv("RELAY_STORE_DSN"),
		},
		Relay: RelayConfig{
			MaxConcurrent: getenvInt("RELAY_MAX_CONCURRENT", 0),
			QueueSize:     getenvInt("RELAY_QUEUE_SIZE", 0),
		},
		API: APIConfig{
			Host: os.Getenv("RELAY_API_HOST"),
			Port: getenvInt("RELAY_API_PORT", 0),
			Key:  os.Getenv("RELAY_API_KEY"),
		},
		Digest: DigestConfig{
			Schedule: os.Getenv("RELAY_DIGEST_SCHEDULE"),
			Limit:    getenvInt("RELAY_DIGEST_LIMIT", 0),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: os.Getenv("RELAY_SLACK_WEBHOOK_URL"),
		},
		Log: LogConfig{
			Level: os.Getenv("RELAY_LOG_LEVEL"),
		},
	}

	cfg.applyDefaults()
	if problems = append(problems, cfg.problems()...); len(problems) > 0 {
		return nil, &Error{Problems: problems}
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	if c.Telegram.SendRate == 0 {
		c.Telegram.SendRate = 25
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "tickets.db")
	}
	if c.Relay.MaxConcurrent == 0 {
		c.Relay.MaxConcurrent = 16
	}
	if c.Relay.QueueSize == 0 {
		c.Relay.QueueSize = 16
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Digest.Limit == 0 {
		c.Digest.Limit = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// isLoopback reports whether host only accepts local connections. An empty
// host means the default, 127.0.0.1.
func isLoopback(host string) bool {
	if host == "" || strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	if errs := c.problems(); len(errs) > 0 {
		return &Error{Problems: errs}
	}
	return nil
}

func (c *Config) problems() []string {
	var errs []string

	if c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	if c.Telegram.ResponderChatID == 0 {
		errs = append(errs, "telegram.responder_chat_id is required")
	}
	if c.Telegram.AdminUserID == 0 {
		errs = append(errs, "telegram.admin_user_id is required")
	}
	if c.Telegram.SendRate < 0 {
		errs = append(errs, "telegram.send_rate must be positive")
	}

	if wh := c.Telegram.Webhook; wh.PublicURL != "" {
		if u, err := url.Parse(wh.PublicURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, "telegram.webhook.public_url must be an https URL")
		}
		if wh.Secret == "" {
			errs = append(errs, "telegram.webhook.secret is required in webhook mode")
		} else if strings.ContainsAny(wh.Secret, "/?#") {
			errs = append(errs, "telegram.webhook.secret must be a single path segment")
		}
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres", c.Store.Driver))
	}

	if c.Relay.MaxConcurrent < 0 {
		errs = append(errs, "relay.max_concurrent must be positive")
	}
	if c.Relay.QueueSize < 0 {
		errs = append(errs, "relay.queue_size must be positive")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}
	if c.API.Key == "" && !isLoopback(c.API.Host) {
		errs = append(errs, fmt.Sprintf("api.api_key is required when api.host %q is not loopback", c.API.Host))
	}

	if c.Digest.Schedule != "" {
		if _, err := cron.ParseStandard(c.Digest.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("digest.schedule: %v", err))
		}
	}
	if c.Digest.Limit < 0 {
		errs = append(errs, "digest.limit must be positive")
	}

	if u := c.Notify.SlackWebhookURL; u != "" {
		if parsed, err := url.Parse(u); err != nil || parsed.Host == "" {
			errs = append(errs, "notify.slack_webhook_url is not a valid URL")
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, fmt.Sprintf("log.level: %v", err))
	}

	return errs
}

// SlogLevel parses Log.Level. An empty level is info.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// WebhookMode reports whether updates arrive by webhook instead of polling.
func (c *Config) WebhookMode() bool {
	return c.Telegram.Webhook.PublicURL != ""
}

// WebhookURL is the URL registered with Telegram: the public base URL
// followed by the secret path.
func (c *Config) WebhookURL() string {
	base := strings.TrimSuffix(c.Telegram.Webhook.PublicURL, "/")
	return base + "/telegram/webhook/" + c.Telegram.Webhook.Secret
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
