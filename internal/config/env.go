package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvGeminiKey       = "GEMINI_API_KEY"
	EnvNewsKey         = "NEWS_API_KEY"
	EnvSheetID         = "GOOGLE_SHEET_ID"
	EnvPasteEEToken    = "PASTE_EE_TOKEN"
	EnvDiscordWebhook  = "DISCORD_WEBHOOK_URL"
	EnvTelegramToken   = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID  = "TELEGRAM_CHAT_ID"
	EnvMastodonBaseURL = "MASTODON_BASE_URL"
	EnvMastodonToken   = "MASTODON_TOKEN"
)

// RequiredEnv lists the variables a run cannot start without.
var RequiredEnv = []string{EnvGeminiKey, EnvNewsKey, EnvSheetID}

// OptionalEnv lists posting-target credentials.
var OptionalEnv = []string{
	EnvPasteEEToken,
	EnvDiscordWebhook,
	EnvTelegramToken,
	EnvTelegramChatID,
	EnvMastodonBaseURL,
	EnvMastodonToken,
}

// ConfigurationError names every required variable that was absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Missing, ", ")
}

// Lookup reads one variable. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// RunConfig holds the secrets of a single run.
type RunConfig struct {
	GeminiKey   string
	NewsKey     string
	SheetID     string
	Credentials map[string]string
}

// RequireEnv returns the trimmed value of every name, or a ConfigurationError
// listing all names whose value is absent or blank.
func RequireEnv(names []string, lookup Lookup) (map[string]string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{Missing: missing}
	}
	return values, nil
}

// LoadRunConfig reads the required secrets and whichever optional posting
// credentials are set.
func LoadRunConfig(lookup Lookup) (RunConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	required, err := RequireEnv(RequiredEnv, lookup)
	if err != nil {
		return RunConfig{}, err
	}

	creds := make(map[string]string)
	for _, name := range OptionalEnv {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			creds[name] = strings.TrimSpace(v)
		}
	}

	return RunConfig{
		GeminiKey:   required[EnvGeminiKey],
		NewsKey:     required[EnvNewsKey],
		SheetID:     required[EnvSheetID],
		Credentials: creds,
	}, nil
}

// LoadEnvFiles overloads the process environment from the given files,
// skipping any that do not exist. It returns the files that were loaded.
func LoadEnvFiles(files ...string) []string {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			slog.Warn("Failed to load env file", "file", file, "error", err)
			continue
		}
		loaded = append(loaded, file)
	}
	if len(loaded) > 0 {
		slog.Debug("Loaded env files", "files", strings.Join(loaded, ", "))
	}
	return loaded
}
