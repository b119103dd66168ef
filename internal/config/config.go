package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines bot configuration.
type Config struct {
	Discord DiscordConfig `yaml:"discord"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Events  EventsConfig  `yaml:"events"`
	Journal JournalConfig `yaml:"journal"`
	Health  HealthConfig  `yaml:"health"`
	Log     LogConfig     `yaml:"log"`
}

type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
	// ChannelID is the public attendance channel spawn threads open under.
	ChannelID string `yaml:"channel_id"`
	// ConfirmChannelID is the admin channel for confirmation threads.
	ConfirmChannelID string `yaml:"confirm_channel_id"`
	// AnnounceChannelID receives spawn reminders and false-alarm notices.
	AnnounceChannelID string `yaml:"announce_channel_id"`
	// TimerFeedChannelID is the channel the external spawn notifier posts
	// to; leave empty to disable feed parsing.
	TimerFeedChannelID string `yaml:"timer_feed_channel_id"`
	// AdminRoleIDs are the roles whose members may verify and close.
	AdminRoleIDs       []string      `yaml:"admin_role_ids"`
	AutoArchiveMinutes int           `yaml:"auto_archive_minutes"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

type LedgerConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	MinSpacing time.Duration `yaml:"min_spacing"`
	Timeout    time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	Path string `yaml:"path"`
}

type JournalConfig struct {
	Path string `yaml:"path"`
}

type HealthConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Discord: DiscordConfig{
			AutoArchiveMinutes: 1440,
			PollInterval:       3 * time.Second,
		},
		Ledger: LedgerConfig{
			MinSpacing: 2 * time.Second,
			Timeout:    30 * time.Second,
		},
		Events: EventsConfig{
			Path: "events.yaml",
		},
		Journal: JournalConfig{
			Path: "spawnkeeper.db",
		},
		Health: HealthConfig{
			Addr: "0.0.0.0:8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if path := os.Getenv("SPAWNKEEPER_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if token := os.Getenv("SPAWNKEEPER_DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if guild := os.Getenv("SPAWNKEEPER_GUILD_ID"); guild != "" {
		cfg.Discord.GuildID = guild
	}
	if ch := os.Getenv("SPAWNKEEPER_CHANNEL_ID"); ch != "" {
		cfg.Discord.ChannelID = ch
	}
	if ch := os.Getenv("SPAWNKEEPER_CONFIRM_CHANNEL_ID"); ch != "" {
		cfg.Discord.ConfirmChannelID = ch
	}
	if ch := os.Getenv("SPAWNKEEPER_ANNOUNCE_CHANNEL_ID"); ch != "" {
		cfg.Discord.AnnounceChannelID = ch
	}
	if ch := os.Getenv("SPAWNKEEPER_TIMER_FEED_CHANNEL_ID"); ch != "" {
		cfg.Discord.TimerFeedChannelID = ch
	}
	if roles := os.Getenv("SPAWNKEEPER_ADMIN_ROLE_IDS"); roles != "" {
		cfg.Discord.AdminRoleIDs = splitList(roles)
	}
	if mins := os.Getenv("SPAWNKEEPER_AUTO_ARCHIVE_MINUTES"); mins != "" {
		n, err := strconv.Atoi(mins)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SPAWNKEEPER_AUTO_ARCHIVE_MINUTES: %w", err)
		}
		cfg.Discord.AutoArchiveMinutes = n
	}
	if url := os.Getenv("SPAWNKEEPER_WEBHOOK_URL"); url != "" {
		cfg.Ledger.WebhookURL = url
	}
	if path := os.Getenv("SPAWNKEEPER_EVENTS_PATH"); path != "" {
		cfg.Events.Path = path
	}
	if path := os.Getenv("SPAWNKEEPER_JOURNAL_PATH"); path != "" {
		cfg.Journal.Path = path
	}
	if addr := os.Getenv("SPAWNKEEPER_HEALTH_ADDR"); addr != "" {
		cfg.Health.Addr = addr
	}
	if level := os.Getenv("SPAWNKEEPER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token is required")
	}
	if c.Discord.GuildID == "" || c.Discord.ChannelID == "" {
		return fmt.Errorf("discord guild_id and channel_id are required")
	}
	if c.Ledger.WebhookURL == "" {
		return fmt.Errorf("ledger webhook_url is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
