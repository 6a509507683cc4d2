// Package config provides configuration types and loading for tallyclaw.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration struct.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Storage   StorageConfig   `json:"storage"`
	Log       LogConfig       `json:"log"`
	Bot       BotConfig       `json:"bot"`
	Channels  ChannelsConfig  `json:"channels"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Publish   PublishConfig   `json:"publish"`
}

// ---------------------------------------------------------------------------
// Paths & storage
// ---------------------------------------------------------------------------

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" split_words:"true"`
}

// StorageConfig selects the event database.
type StorageConfig struct {
	Driver string `json:"driver" split_words:"true"` // sqlite (pure Go) or sqlite3 (cgo)
	Path   string `json:"path" split_words:"true"`   // empty: <dataDir>/tally.db
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `json:"level" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Bot – texts and delivery defaults
// ---------------------------------------------------------------------------

// BotConfig groups bot behaviour settings.
type BotConfig struct {
	Title          string `json:"title" split_words:"true"`
	StreakTarget   int    `json:"streakTarget" split_words:"true"`
	DefaultChannel string `json:"defaultChannel" split_words:"true"`
	DefaultChatID  string `json:"defaultChatId" split_words:"true"`
	ReminderText   string `json:"reminderText" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled     bool     `json:"enabled" split_words:"true"`
	Token       string   `json:"token" split_words:"true"`
	PollTimeout int      `json:"pollTimeout" split_words:"true"` // seconds
	AllowChats  []string `json:"allowChats" split_words:"true"`
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	Enabled       bool     `json:"enabled" split_words:"true"`
	BotToken      string   `json:"botToken" split_words:"true"`
	SigningSecret string   `json:"signingSecret" split_words:"true"`
	ListenAddr    string   `json:"listenAddr" split_words:"true"`
	AllowChats    []string `json:"allowChats" split_words:"true"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled     bool     `json:"enabled" split_words:"true"`
	SessionPath string   `json:"sessionPath" split_words:"true"` // empty: <dataDir>/whatsapp.db
	QRPath      string   `json:"qrPath" split_words:"true"`      // empty: <dataDir>/whatsapp-qr.png
	AllowChats  []string `json:"allowChats" split_words:"true"`
}

// ---------------------------------------------------------------------------
// Scheduler – reminders and summaries
// ---------------------------------------------------------------------------

// SchedulerConfig contains settings for the cron scheduler.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" split_words:"true"`
	Timezone       string        `json:"timezone" split_words:"true"`
	TickInterval   time.Duration `json:"tickInterval" split_words:"true"`
	ReminderCrons  []string      `json:"reminderCrons" split_words:"true"`
	SummaryCron    string        `json:"summaryCron" split_words:"true"`
	MaxConcNotify  int           `json:"maxConcNotify" split_words:"true"`
	MaxConcSummary int           `json:"maxConcSummary" split_words:"true"`
	LockPath       string        `json:"lockPath" split_words:"true"` // empty: <dataDir>/scheduler.lock
}

// UnmarshalJSON accepts tickInterval as a duration string ("30s") or as
// integer nanoseconds.
func (s *SchedulerConfig) UnmarshalJSON(data []byte) error {
	type plain SchedulerConfig
	aux := struct {
		*plain
		TickInterval json.RawMessage `json:"tickInterval"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	raw := bytes.TrimSpace(aux.TickInterval)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("scheduler.tickInterval: %w", err)
		}
		s.TickInterval = d
		return nil
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return fmt.Errorf("scheduler.tickInterval: %w", err)
	}
	s.TickInterval = time.Duration(ns)
	return nil
}

// MarshalJSON writes tickInterval as a duration string.
func (s SchedulerConfig) MarshalJSON() ([]byte, error) {
	type plain SchedulerConfig
	return json.Marshal(struct {
		plain
		TickInterval string `json:"tickInterval"`
	}{plain: plain(s), TickInterval: s.TickInterval.String()})
}

// ---------------------------------------------------------------------------
// Publish – event mirroring
// ---------------------------------------------------------------------------

// PublishConfig selects an optional broker that receives recorded events.
type PublishConfig struct {
	Driver      string   `json:"driver" split_words:"true"` // none, kafka, nats
	Brokers     []string `json:"brokers" split_words:"true"`
	TopicPrefix string   `json:"topicPrefix" split_words:"true"`
	NatsURL     string   `json:"natsUrl" split_words:"true"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	dataDir := "~/" + ConfigDir
	if home, err := resolveHomeDir(); err == nil {
		dataDir = filepath.Join(home, ConfigDir)
	}
	return &Config{
		Paths:   PathsConfig{DataDir: dataDir},
		Storage: StorageConfig{Driver: "sqlite"},
		Log:     LogConfig{Level: "info"},
		Bot: BotConfig{
			Title:          "Check-in board",
			StreakTarget:   7,
			DefaultChannel: "telegram",
			ReminderText:   "Don't forget to check in today! 💪",
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{PollTimeout: 60},
			Slack:    SlackConfig{ListenAddr: "127.0.0.1:18791"},
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			Timezone:       "UTC",
			TickInterval:   30 * time.Second,
			ReminderCrons:  []string{"0 8 * * *", "0 16 * * *", "0 23 * * *"},
			SummaryCron:    "0 10 1 * *",
			MaxConcNotify:  2,
			MaxConcSummary: 1,
		},
		Publish: PublishConfig{Driver: "none"},
	}
}

// StoragePath returns the event database path.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	return filepath.Join(c.Paths.DataDir, "tally.db")
}

// SchedulerLockPath returns the scheduler lock file path.
func (c *Config) SchedulerLockPath() string {
	if c.Scheduler.LockPath != "" {
		return c.Scheduler.LockPath
	}
	return filepath.Join(c.Paths.DataDir, "scheduler.lock")
}

// WhatsAppSessionPath returns the whatsmeow device store path.
func (c *Config) WhatsAppSessionPath() string {
	if c.Channels.WhatsApp.SessionPath != "" {
		return c.Channels.WhatsApp.SessionPath
	}
	return filepath.Join(c.Paths.DataDir, "whatsapp.db")
}

// WhatsAppQRPath returns where the pairing QR image is written.
func (c *Config) WhatsAppQRPath() string {
	if c.Channels.WhatsApp.QRPath != "" {
		return c.Channels.WhatsApp.QRPath
	}
	return filepath.Join(c.Paths.DataDir, "whatsapp-qr.png")
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}

// EnabledChannels lists the names of enabled channels.
func (c *Config) EnabledChannels() []string {
	var out []string
	if c.Channels.Telegram.Enabled {
		out = append(out, "telegram")
	}
	if c.Channels.Slack.Enabled {
		out = append(out, "slack")
	}
	if c.Channels.WhatsApp.Enabled {
		out = append(out, "whatsapp")
	}
	return out
}

// Validate checks settings that would otherwise fail late at runtime.
// Cron expressions are checked by the scheduler when jobs are built.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Publish.Driver) {
	case "", "none", "kafka", "nats":
	default:
		return fmt.Errorf("publish.driver: unknown driver %q", c.Publish.Driver)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Scheduler.TickInterval > time.Minute {
		return fmt.Errorf("scheduler.tickInterval must be at most 1m, got %s", c.Scheduler.TickInterval)
	}
	if c.Bot.StreakTarget < 1 {
		return fmt.Errorf("bot.streakTarget must be at least 1")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("channels.telegram.token is required when telegram is enabled")
	}
	if c.Channels.Slack.Enabled && (c.Channels.Slack.BotToken == "" || c.Channels.Slack.SigningSecret == "") {
		return fmt.Errorf("channels.slack.botToken and signingSecret are required when slack is enabled")
	}
	return nil
}
