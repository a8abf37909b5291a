package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Email           string `envconfig:"MYJD_USER" required:"true"`
	Password        string `envconfig:"MYJD_PASSWORD" required:"true"`
	PreferredDevice string `envconfig:"MYJD_DEVICE" default:"NAS"`

	UpstreamBackend string        `envconfig:"UPSTREAM_BACKEND" default:"myjd"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`

	MyJDAPIURL string `envconfig:"MYJD_API_URL" default:"https://api.jdownloader.org"`
	MyJDAppKey string `envconfig:"MYJD_APP_KEY" default:"jdownloader_remote"`

	PutioToken string `envconfig:"PUTIO_TOKEN"`

	RenewInterval   time.Duration `envconfig:"RENEW_INTERVAL" default:"30m"`
	MonitorInterval time.Duration `envconfig:"MONITOR_INTERVAL" default:"60s"`

	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"submissions.db"`
	KeepHistoryFor    time.Duration `envconfig:"KEEP_HISTORY_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	AssetVersion      string        `envconfig:"ASSET_VERSION" default:"v1"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"jdownloader_remote"`
	}
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:4000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig loads an optional .env file, then reads environment variables
// and populates the Config struct. Variables already set in the environment
// win over the ones in the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return errors.New("MYJD_USER and MYJD_PASSWORD must be set")
	}

	switch c.UpstreamBackend {
	case "myjd":
	case "putio":
		if c.PutioToken == "" {
			return errors.New("PUTIO_TOKEN is required when UPSTREAM_BACKEND is putio")
		}
	default:
		return fmt.Errorf("invalid upstream backend: %s", c.UpstreamBackend)
	}

	if c.MonitorInterval <= 0 || c.RenewInterval <= 0 {
		return errors.New("MONITOR_INTERVAL and RENEW_INTERVAL must be positive")
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
