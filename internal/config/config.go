// ABOUTME: Configuration loading and parsing for unigate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"unigate/internal/message"
)

// Config represents the complete unigate configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Outbound   OutboundConfig   `yaml:"outbound"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Channels   ChannelsConfig   `yaml:"channels"`
}

// ServerConfig holds the HTTP query API address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PipelineConfig holds ingestion pipeline and classifier configuration.
// The urgency thresholds and keyword set are policy supplied by the operator,
// never hardcoded in the pipeline itself.
type PipelineConfig struct {
	QueueSize           int      `yaml:"queue_size"`
	Workers             int      `yaml:"workers"`
	UrgentKeywords      []string `yaml:"urgent_keywords"`
	NotifyRatePerMinute int      `yaml:"notify_rate_per_minute"`

	MentionStaleMedium time.Duration `yaml:"-"`
	MentionStaleHigh   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MentionStaleMediumRaw string `yaml:"mention_stale_medium"`
	MentionStaleHighRaw   string `yaml:"mention_stale_high"`
}

// OutboundConfig holds outbound controller configuration
type OutboundConfig struct {
	DraftsDir         string `yaml:"drafts_dir"`
	MaxSendRetries    int    `yaml:"max_send_retries"`
	SendRatePerMinute int    `yaml:"send_rate_per_minute"`
}

// SupervisorConfig holds adapter restart backoff bounds
type SupervisorConfig struct {
	BackoffInitial time.Duration `yaml:"-"`
	BackoffMax     time.Duration `yaml:"-"`

	BackoffInitialRaw string `yaml:"backoff_initial"`
	BackoffMaxRaw     string `yaml:"backoff_max"`
}

// ChannelsConfig holds configuration for all channel adapters
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig holds Telegram adapter configuration
type TelegramConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CredentialsFile string   `yaml:"credentials_file"`
	AllowedUsers    []string `yaml:"allowed_users"`
}

// DiscordConfig holds Discord adapter configuration
type DiscordConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CredentialsFile string   `yaml:"credentials_file"`
	AllowedGuilds   []string `yaml:"allowed_guilds"`
	AllowedChannels []string `yaml:"allowed_channels"`
}

// Defaults applied by Load when fields are absent.
const (
	DefaultQueueSize           = 256
	DefaultWorkers             = 4
	DefaultNotifyRatePerMinute = 10
	DefaultMaxSendRetries      = 3
	DefaultSendRatePerMinute   = 10
	DefaultMentionStaleMedium  = 48 * time.Hour
	DefaultMentionStaleHigh    = 72 * time.Hour
	DefaultBackoffInitial      = time.Second
	DefaultBackoffMax          = time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills zero-valued fields with defaults.
func (c *Config) applyDefaults() {
	if c.Pipeline.QueueSize <= 0 {
		c.Pipeline.QueueSize = DefaultQueueSize
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = DefaultWorkers
	}
	if c.Pipeline.NotifyRatePerMinute <= 0 {
		c.Pipeline.NotifyRatePerMinute = DefaultNotifyRatePerMinute
	}
	if c.Pipeline.MentionStaleMedium == 0 {
		c.Pipeline.MentionStaleMedium = DefaultMentionStaleMedium
	}
	if c.Pipeline.MentionStaleHigh == 0 {
		c.Pipeline.MentionStaleHigh = DefaultMentionStaleHigh
	}
	if c.Outbound.MaxSendRetries <= 0 {
		c.Outbound.MaxSendRetries = DefaultMaxSendRetries
	}
	if c.Outbound.SendRatePerMinute <= 0 {
		c.Outbound.SendRatePerMinute = DefaultSendRatePerMinute
	}
	if c.Supervisor.BackoffInitial == 0 {
		c.Supervisor.BackoffInitial = DefaultBackoffInitial
	}
	if c.Supervisor.BackoffMax == 0 {
		c.Supervisor.BackoffMax = DefaultBackoffMax
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Outbound.DraftsDir == "" {
		return fmt.Errorf("outbound.drafts_dir is required")
	}
	if c.Pipeline.MentionStaleMedium > c.Pipeline.MentionStaleHigh {
		return fmt.Errorf("pipeline.mention_stale_medium must not exceed mention_stale_high")
	}
	if c.Supervisor.BackoffInitial > c.Supervisor.BackoffMax {
		return fmt.Errorf("supervisor.backoff_initial must not exceed backoff_max")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.CredentialsFile == "" {
		return fmt.Errorf("channels.telegram.credentials_file is required when telegram is enabled")
	}
	if c.Channels.Discord.Enabled && c.Channels.Discord.CredentialsFile == "" {
		return fmt.Errorf("channels.discord.credentials_file is required when discord is enabled")
	}
	return nil
}

// EnabledChannels returns the channels with an enabled adapter section.
func (c *Config) EnabledChannels() []message.Channel {
	var out []message.Channel
	if c.Channels.Telegram.Enabled {
		out = append(out, message.ChannelTelegram)
	}
	if c.Channels.Discord.Enabled {
		out = append(out, message.ChannelDiscord)
	}
	return out
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Pipeline.MentionStaleMediumRaw, &cfg.Pipeline.MentionStaleMedium, "mention_stale_medium"},
		{cfg.Pipeline.MentionStaleHighRaw, &cfg.Pipeline.MentionStaleHigh, "mention_stale_high"},
		{cfg.Supervisor.BackoffInitialRaw, &cfg.Supervisor.BackoffInitial, "backoff_initial"},
		{cfg.Supervisor.BackoffMaxRaw, &cfg.Supervisor.BackoffMax, "backoff_max"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
