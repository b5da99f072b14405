package config

import (
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Compose   ComposeConfig   `yaml:"compose"`
	Publish   PublishConfig   `yaml:"publish"`
	Database  DatabaseConfig  `yaml:"database"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Watch     WatchConfig     `yaml:"watch"`
	Enrich    EnrichConfig    `yaml:"enrich"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type TimeoutsConfig struct {
	Sheet    time.Duration `yaml:"sheet"`
	News     time.Duration `yaml:"news"`
	Generate time.Duration `yaml:"generate"`
	Publish  time.Duration `yaml:"publish"`
}

// EndpointsConfig holds every remote base URL. Overriding them points the
// tool at self-hosted paste services or local fakes.
type EndpointsConfig struct {
	SheetExport string `yaml:"sheet_export"` // %s is replaced by the document id
	News        string `yaml:"news"`
	Generate    string `yaml:"generate"`
	Nekobin     string `yaml:"nekobin"`
	Hastebin    string `yaml:"hastebin"`
	PasteRS     string `yaml:"paste_rs"`
	ZeroXZero   string `yaml:"0x0"`
	IxIO        string `yaml:"ix_io"`
	PasteEE     string `yaml:"paste_ee"`
	Telegram    string `yaml:"telegram"`
	Releases    string `yaml:"releases"`
}

type ComposeConfig struct {
	Language string `yaml:"language"`
	Footer   string `yaml:"footer"` // %s is replaced by the control value
}

type PublishConfig struct {
	Targets []string `yaml:"targets"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type DedupeConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold float64 `yaml:"threshold"`
	NGramSize int     `yaml:"ngram_size"`
	Lookback  int     `yaml:"lookback"`
}

// EnrichConfig controls filling a missing news description from the
// article page.
type EnrichConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

type WatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultTargets is the fallback order: anonymous paste services first, then
// credentialed targets with the chat webhook ahead of the bot API and the
// federated social API.
var DefaultTargets = []string{
	"nekobin", "hastebin", "pasters", "0x0st", "ixio",
	"pasteee", "discord", "telegram", "mastodon",
}

func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   8 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Sheet:    15 * time.Second,
			News:     10 * time.Second,
			Generate: 25 * time.Second,
			Publish:  10 * time.Second,
		},
		Endpoints: EndpointsConfig{
			SheetExport: "https://docs.google.com/spreadsheets/d/%s/export?format=csv",
			News:        "https://newsapi.org/v2/top-headlines",
			Generate:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent",
			Nekobin:     "https://nekobin.com",
			Hastebin:    "https://hastebin.com",
			PasteRS:     "https://paste.rs",
			ZeroXZero:   "https://0x0.st",
			IxIO:        "http://ix.io",
			PasteEE:     "https://api.paste.ee",
			Telegram:    "https://api.telegram.org",
			Releases:    "https://api.github.com/repos/thinkscotty/dispatch/releases/latest",
		},
		Compose: ComposeConfig{
			Language: "Thai",
			Footer:   "Chat room link: %s\n(This chat room supports translation into every language)",
		},
		Publish: PublishConfig{
			Targets: append([]string(nil), DefaultTargets...),
		},
		Database: DatabaseConfig{
			Path: "./dispatch.db",
		},
		Dedupe: DedupeConfig{
			Enabled:   false,
			Threshold: 0.6,
			NGramSize: 3,
			Lookback:  20,
		},
		Watch: WatchConfig{
			Interval: 6 * time.Hour,
		},
		Enrich: EnrichConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads a YAML config file and merges it over defaults.
// If the file does not exist, defaults are returned without error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No config file found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LogLevel maps the configured level name to a slog level.
func (c LoggingConfig) LogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
