package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "IRISETT_CONFIG"
	envDatabaseURL    = "DATABASE_URL"
	DefaultConfigPath = "/etc/irisett/irisett.yaml"
)

type Config struct {
	Debug          bool                `yaml:"debug"`
	Log            LogConfig           `yaml:"log"`
	Database       DatabaseConfig      `yaml:"database"`
	ActiveMonitors ActiveMonitorConfig `yaml:"active_monitors"`
	Scheduler      SchedulerConfig     `yaml:"scheduler"`
	ShutdownGrace  time.Duration       `yaml:"shutdown_grace"`
	WebAPI         WebAPIConfig        `yaml:"webapi"`
	MetricsAddr    string              `yaml:"metrics_addr"`
	Notifications  NotificationConfig  `yaml:"notifications"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	DSN      string `yaml:"dsn"`
	Filename string `yaml:"filename"`
}

// Ephemeral reports whether the configured store keeps nothing across restarts.
func (d DatabaseConfig) Ephemeral() bool { return strings.EqualFold(d.Type, "memory") }

type ActiveMonitorConfig struct {
	MaxConcurrentJobs      int           `yaml:"max_concurrent_jobs"`
	MaxQueuedJobs          int           `yaml:"max_queued_jobs"`
	DefaultMonitorInterval time.Duration `yaml:"default_monitor_interval"`
	DefaultDownThreshold   int           `yaml:"default_down_threshold"`
	ResultRetention        Retention     `yaml:"result_retention"`
	PruneSchedule          string        `yaml:"prune_schedule"`
}

type SchedulerConfig struct {
	TickResolution time.Duration `yaml:"tick_resolution"`
}

type WebAPIConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type NotificationConfig struct {
	MaxAttempts    int            `yaml:"max_attempts"`
	InitialBackoff time.Duration  `yaml:"initial_backoff"`
	MaxBackoff     time.Duration  `yaml:"max_backoff"`
	RatePerSecond  float64        `yaml:"rate_per_second"`
	SMTP           SMTPConfig     `yaml:"smtp"`
	Telegram       TelegramConfig `yaml:"telegram"`
	Webhook        WebhookConfig  `yaml:"webhook"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Sender   string `yaml:"sender"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

type WebhookConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// Retention is the result_retention setting. In YAML it is a duration string
// for an age bound, an integer for a per-monitor count bound, or 0 for no bound.
type Retention struct {
	MaxAge   time.Duration
	MaxCount int
}

func (r *Retention) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("result_retention: expected a duration or a count at line %d", node.Line)
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" || raw == "0" {
		*r = Retention{}
		return nil
	}
	var count int
	if err := node.Decode(&count); err == nil {
		if count < 0 {
			return fmt.Errorf("result_retention: negative count %d", count)
		}
		*r = Retention{MaxCount: count}
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("result_retention: %q is neither a duration nor a count", raw)
	}
	if d < 0 {
		return fmt.Errorf("result_retention: negative duration %s", d)
	}
	*r = Retention{MaxAge: d}
	return nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Type == "" {
		c.Database.Type = "memory"
	}
	if c.Database.Filename == "" {
		c.Database.Filename = "irisett.db"
	}
	am := &c.ActiveMonitors
	if am.MaxConcurrentJobs == 0 {
		am.MaxConcurrentJobs = 200
	}
	if am.MaxQueuedJobs == 0 {
		am.MaxQueuedJobs = 100000
	}
	if am.DefaultMonitorInterval == 0 {
		am.DefaultMonitorInterval = 180 * time.Second
	}
	if am.DefaultDownThreshold == 0 {
		am.DefaultDownThreshold = 3
	}
	if am.PruneSchedule == "" {
		am.PruneSchedule = "@every 1h"
	}
	if c.Scheduler.TickResolution == 0 {
		c.Scheduler.TickResolution = time.Second
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	if c.WebAPI.Addr == "" {
		c.WebAPI.Addr = ":10000"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9310"
	}
	n := &c.Notifications
	if n.MaxAttempts == 0 {
		n.MaxAttempts = 5
	}
	if n.InitialBackoff == 0 {
		n.InitialBackoff = time.Second
	}
	if n.MaxBackoff == 0 {
		n.MaxBackoff = time.Minute
	}
	if n.RatePerSecond == 0 {
		n.RatePerSecond = 10
	}
	if n.SMTP.Port == 0 {
		n.SMTP.Port = 25
	}
	if n.Webhook.Timeout == 0 {
		n.Webhook.Timeout = 10 * time.Second
	}
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Database.Type) {
	case "memory", "sqlite":
	case "postgres", "postgresql", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn: required for %s", c.Database.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("database.type: unknown type %q", c.Database.Type))
	}
	am := c.ActiveMonitors
	if am.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("active_monitors.max_concurrent_jobs: must be positive, got %d", am.MaxConcurrentJobs))
	}
	if am.MaxQueuedJobs < 1 {
		errs = append(errs, fmt.Errorf("active_monitors.max_queued_jobs: must be positive, got %d", am.MaxQueuedJobs))
	}
	if am.DefaultMonitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("active_monitors.default_monitor_interval: must be positive"))
	}
	if am.DefaultDownThreshold < 1 {
		errs = append(errs, fmt.Errorf("active_monitors.default_down_threshold: must be at least 1, got %d", am.DefaultDownThreshold))
	}
	if _, err := cron.ParseStandard(am.PruneSchedule); err != nil {
		errs = append(errs, fmt.Errorf("active_monitors.prune_schedule: %w", err))
	}
	if c.Scheduler.TickResolution <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_resolution: must be positive"))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace: must not be negative"))
	}
	if (c.WebAPI.Username == "") != (c.WebAPI.Password == "") {
		errs = append(errs, fmt.Errorf("webapi: username and password must be set together"))
	}
	if c.Notifications.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("notifications.max_attempts: must be at least 1"))
	}
	if c.Notifications.SMTP.Host != "" && c.Notifications.SMTP.Sender == "" {
		errs = append(errs, fmt.Errorf("notifications.smtp.sender: required when smtp.host is set"))
	}
	return errors.Join(errs...)
}

// Load reads path, applies defaults and environment overrides, and validates.
func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		cfg.Database.DSN = dsn
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	return Load(ctx, PathFromEnv())
}

// PathFromEnv returns the config path named by IRISETT_CONFIG or the default.
func PathFromEnv() string {
	if path := os.Getenv(envConfigPath); path != "" {
		return path
	}
	return DefaultConfigPath
}
