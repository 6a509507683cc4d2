package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolateHome points every config lookup at a fresh temp dir.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TALLYCLAW_HOME", home)
	t.Setenv("TALLYCLAW_CONFIG", "")
	t.Setenv("TALLYCLAW_ENV_FILE", "")
	return home
}

func TestDefaultConfig(t *testing.T) {
	home := isolateHome(t)
	cfg := DefaultConfig()

	if cfg.Paths.DataDir != filepath.Join(home, ConfigDir) {
		t.Errorf("unexpected data dir %s", cfg.Paths.DataDir)
	}
	if cfg.StoragePath() != filepath.Join(home, ConfigDir, "tally.db") {
		t.Errorf("unexpected storage path %s", cfg.StoragePath())
	}
	if cfg.Bot.StreakTarget != 7 {
		t.Errorf("expected streak target 7, got %d", cfg.Bot.StreakTarget)
	}
	if len(cfg.Scheduler.ReminderCrons) != 3 || cfg.Scheduler.SummaryCron != "0 10 1 * *" {
		t.Errorf("unexpected default schedule %+v", cfg.Scheduler)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolateHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Storage.Driver)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TG_TOKEN_FOR_TEST", "123:abc")
	configJSON := `{
		"bot": {"title": "Gym board", "defaultChatId": "-100200"},
		"channels": {"telegram": {"enabled": true, "token": "${TG_TOKEN_FOR_TEST}"}},
		"scheduler": {"timezone": "Europe/Berlin"}
	}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(configJSON), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TALLYCLAW_BOT_TITLE", "Env board")
	t.Setenv("TALLYCLAW_SCHEDULER_TICK_INTERVAL", "15s")
	t.Setenv("TALLYCLAW_SCHEDULER_REMINDER_CRONS", "0 9 * * *,0 21 * * *")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Bot.Title != "Env board" {
		t.Errorf("env should win over file, got %q", cfg.Bot.Title)
	}
	if cfg.Bot.DefaultChatID != "-100200" {
		t.Errorf("expected chat id from file, got %q", cfg.Bot.DefaultChatID)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("expected ${VAR} substitution, got %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Scheduler.TickInterval != 15*time.Second {
		t.Errorf("expected tick 15s, got %v", cfg.Scheduler.TickInterval)
	}
	if strings.Join(cfg.Scheduler.ReminderCrons, "|") != "0 9 * * *|0 21 * * *" {
		t.Errorf("unexpected reminder crons %q", cfg.Scheduler.ReminderCrons)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("unexpected location %v (%v)", loc, err)
	}
	if got := cfg.EnabledChannels(); len(got) != 1 || got[0] != "telegram" {
		t.Errorf("unexpected enabled channels %v", got)
	}
}

func TestLoadIgnoresUnprefixedEnv(t *testing.T) {
	isolateHome(t)
	t.Setenv("PATH", "/usr/bin:/bin")
	t.Setenv("LEVEL", "error")
	t.Setenv("DRIVER", "sqlite3")
	t.Setenv("TOKEN", "stray")
	t.Setenv("ENABLED", "true")
	t.Setenv("TITLE", "Stray board")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Path != "" {
		t.Errorf("storage path picked up $PATH: %q", cfg.Storage.Path)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %q", cfg.Log.Level)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Publish.Driver != "none" {
		t.Errorf("drivers picked up $DRIVER: %q %q", cfg.Storage.Driver, cfg.Publish.Driver)
	}
	if cfg.Bot.Title != "Check-in board" {
		t.Errorf("title picked up $TITLE: %q", cfg.Bot.Title)
	}
	if cfg.Channels.Telegram.Token != "" || len(cfg.EnabledChannels()) != 0 {
		t.Errorf("channels picked up stray env: %+v", cfg.Channels)
	}
	if cfg.StoragePath() != filepath.Join(cfg.Paths.DataDir, "tally.db") {
		t.Errorf("unexpected storage path %s", cfg.StoragePath())
	}
}

func TestLoadPrefixedEnvKeys(t *testing.T) {
	isolateHome(t)
	t.Setenv("TALLYCLAW_STORAGE_PATH", "/srv/tally/events.db")
	t.Setenv("TALLYCLAW_BOT_DEFAULT_CHAT_ID", "-100300")
	t.Setenv("TALLYCLAW_CHANNELS_WHATSAPP_QR_PATH", "/srv/tally/qr.png")
	t.Setenv("TALLYCLAW_PUBLISH_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StoragePath() != "/srv/tally/events.db" {
		t.Errorf("unexpected storage path %s", cfg.StoragePath())
	}
	if cfg.Bot.DefaultChatID != "-100300" {
		t.Errorf("unexpected chat id %q", cfg.Bot.DefaultChatID)
	}
	if cfg.WhatsAppQRPath() != "/srv/tally/qr.png" {
		t.Errorf("unexpected qr path %s", cfg.WhatsAppQRPath())
	}
	if cfg.Publish.NatsURL != "nats://127.0.0.1:4222" {
		t.Errorf("unexpected nats url %q", cfg.Publish.NatsURL)
	}
}

func TestLoadTickIntervalFormats(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{`"45s"`, 45 * time.Second},
		{`1000000000`, time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			home := isolateHome(t)
			path := filepath.Join(home, "config.json")
			body := `{"scheduler": {"tickInterval": ` + tc.raw + `, "timezone": "UTC"}}`
			if err := os.WriteFile(path, []byte(body), 0600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("TALLYCLAW_CONFIG", path)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			if cfg.Scheduler.TickInterval != tc.want {
				t.Errorf("expected %v, got %v", tc.want, cfg.Scheduler.TickInterval)
			}
			if !cfg.Scheduler.Enabled || cfg.Scheduler.SummaryCron != "0 10 1 * *" {
				t.Errorf("defaults lost while decoding scheduler: %+v", cfg.Scheduler)
			}
		})
	}
}

func TestLoadRejectsBadTickInterval(t *testing.T) {
	home := isolateHome(t)
	path := filepath.Join(home, "config.json")
	os.WriteFile(path, []byte(`{"scheduler": {"tickInterval": "soon"}}`), 0600)
	t.Setenv("TALLYCLAW_CONFIG", path)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "tickInterval") {
		t.Fatalf("expected tickInterval error, got %v", err)
	}
}

func TestLoadIncludes(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, "conf")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "secrets.json"), []byte(`{"channels":{"slack":{"botToken":"xoxb-1","signingSecret":"s"}}}`), 0600)
	os.WriteFile(filepath.Join(dir, "main.json"), []byte(`{"$include":"secrets.json","channels":{"slack":{"enabled":true}}}`), 0600)
	t.Setenv("TALLYCLAW_CONFIG", filepath.Join(dir, "main.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Channels.Slack.Enabled || cfg.Channels.Slack.BotToken != "xoxb-1" {
		t.Fatalf("include not merged: %+v", cfg.Channels.Slack)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	home := isolateHome(t)
	a := filepath.Join(home, "a.json")
	b := filepath.Join(home, "b.json")
	os.WriteFile(a, []byte(`{"$include":"b.json"}`), 0600)
	os.WriteFile(b, []byte(`{"$include":"a.json"}`), 0600)
	t.Setenv("TALLYCLAW_CONFIG", a)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolateHome(t)
	cfg := DefaultConfig()
	cfg.Bot.DefaultChatID = "42"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	path, _ := ConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600, got %v", info.Mode().Perm())
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Bot.DefaultChatID != "42" {
		t.Errorf("expected chat id 42, got %q", loaded.Bot.DefaultChatID)
	}
	if loaded.Scheduler.TickInterval != 30*time.Second {
		t.Errorf("expected tick 30s after round trip, got %v", loaded.Scheduler.TickInterval)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"tickInterval": "30s"`) {
		t.Errorf("expected tickInterval written as a duration string:\n%s", data)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"cgo driver", func(c *Config) { c.Storage.Driver = "sqlite3" }, true},
		{"bad driver", func(c *Config) { c.Storage.Driver = "mysql" }, false},
		{"bad publish driver", func(c *Config) { c.Publish.Driver = "redis" }, false},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, false},
		{"telegram without token", func(c *Config) { c.Channels.Telegram.Enabled = true }, false},
		{"slack without secret", func(c *Config) {
			c.Channels.Slack.Enabled = true
			c.Channels.Slack.BotToken = "xoxb"
		}, false},
		{"zero streak", func(c *Config) { c.Bot.StreakTarget = 0 }, false},
		{"one minute tick", func(c *Config) { c.Scheduler.TickInterval = time.Minute }, true},
		{"tick slower than a minute", func(c *Config) { c.Scheduler.TickInterval = 90 * time.Second }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
