package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the relay process.
type Config struct {
	Commander       string
	TelegramToken   string
	TelegramAPIBase string
	Timeout         int
	SleepSeconds    int
	DropPending     bool

	ModelProvider     string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiBaseURL     string
	OpenAIAPIKey      string
	OpenAIChatCompURL string
	OpenAIModel       string

	HistoryLimit           int
	GenerateTimeoutSeconds int
	SearchEnabled          bool
	SearchBackend          string
	SearchURL              string
	SearchTimeoutSeconds   int
	SearchMaxResults       int

	ConfigDir    string
	PersonasFile string
	DBPath       string
	MetricsAddr  string
	LogLevel     string
	LogDev       bool

	DummyProviderScript  string
	DummyCommanderScript string
	DummySendScript      string
	DummySearchScript    string
}

// GenerateTimeout is the per-call generation deadline.
func (c Config) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSeconds) * time.Second
}

// SearchTimeout is the per-call search deadline.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.SearchTimeoutSeconds) * time.Second
}

// Load reads relay configuration from environment variables.
func Load() (Config, error) {
	modelProvider := envOrDefault("RELAY_MODEL_PROVIDER", "gemini")
	commander := envOrDefault("RELAY_COMMANDER", "telegram")

	switch commander {
	case "telegram", "dummy":
	default:
		return Config{}, fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", commander)
	}
	switch modelProvider {
	case "gemini", "openai", "dummy":
	default:
		return Config{}, fmt.Errorf("RELAY_MODEL_PROVIDER must be gemini, openai or dummy, got %q", modelProvider)
	}

	if backend := envOrDefault("RELAY_SEARCH_BACKEND", "duckduckgo"); backend != "duckduckgo" && backend != "dummy" {
		return Config{}, fmt.Errorf("RELAY_SEARCH_BACKEND must be duckduckgo or dummy, got %q", backend)
	}

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_COMMANDER=telegram")
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if modelProvider == "gemini" && geminiKey == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY is required in environment when RELAY_MODEL_PROVIDER=gemini")
	}
	openaiKey := os.Getenv("OPENAI_API_KEY")
	if modelProvider == "openai" && openaiKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required in environment when RELAY_MODEL_PROVIDER=openai")
	}

	cfg := Config{
		Commander:       commander,
		TelegramToken:   telegramToken,
		TelegramAPIBase: envOrDefault("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s"),
		Timeout:         envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:    envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:     envBoolOrDefault("TG_DROP_PENDING", true),

		ModelProvider:     modelProvider,
		GeminiAPIKey:      geminiKey,
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:     os.Getenv("GEMINI_BASE_URL"),
		OpenAIAPIKey:      openaiKey,
		OpenAIChatCompURL: envOrDefault("OPENAI_CHAT_COMPLETIONS_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),

		HistoryLimit:           envIntOrDefault("RELAY_HISTORY_LIMIT", 10),
		GenerateTimeoutSeconds: envIntOrDefault("RELAY_GENERATE_TIMEOUT_SECONDS", 60),
		SearchEnabled:          envBoolOrDefault("RELAY_SEARCH_ENABLED", true),
		SearchBackend:          envOrDefault("RELAY_SEARCH_BACKEND", "duckduckgo"),
		SearchURL:              envOrDefault("RELAY_SEARCH_URL", "https://html.duckduckgo.com/html/"),
		SearchTimeoutSeconds:   envIntOrDefault("RELAY_SEARCH_TIMEOUT_SECONDS", 10),
		SearchMaxResults:       envIntOrDefault("RELAY_SEARCH_MAX_RESULTS", 4),

		DBPath:      os.Getenv("RELAY_DB_PATH"),
		MetricsAddr: os.Getenv("RELAY_METRICS_ADDR"),
		LogLevel:    envOrDefault("RELAY_LOG_LEVEL", "info"),
		LogDev:      envBoolOrDefault("RELAY_LOG_DEV", false),

		DummyProviderScript:  envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript: envOrDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:      envOrDefault("RELAY_DUMMY_SEND_SCRIPT", "ok"),
		DummySearchScript:    envOrDefault("RELAY_DUMMY_SEARCH_SCRIPT", "ok"),
	}

	if err := validatePositive(map[string]int{
		"RELAY_HISTORY_LIMIT":            cfg.HistoryLimit,
		"RELAY_GENERATE_TIMEOUT_SECONDS": cfg.GenerateTimeoutSeconds,
		"RELAY_SEARCH_TIMEOUT_SECONDS":   cfg.SearchTimeoutSeconds,
		"RELAY_SEARCH_MAX_RESULTS":       cfg.SearchMaxResults,
	}); err != nil {
		return Config{}, err
	}
	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", cfg.Timeout)
	}

	dir, explicit, err := resolveConfigDir()
	if err != nil {
		return Config{}, err
	}
	if explicit {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Config{}, fmt.Errorf("create RELAY_CONFIG_DIR %s: %w", dir, err)
		}
	}
	cfg.ConfigDir = dir
	cfg.PersonasFile = os.Getenv("RELAY_PERSONAS_FILE")
	if cfg.PersonasFile == "" {
		candidate := filepath.Join(dir, "personas.yaml")
		if _, err := os.Stat(candidate); err == nil {
			cfg.PersonasFile = candidate
		}
	}

	return cfg, nil
}

func validatePositive(values map[string]int) error {
	for key, v := range values {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", key, v)
		}
	}
	return nil
}

// resolveConfigDir returns RELAY_CONFIG_DIR when set, otherwise the
// chatrelay directory under XDG_CONFIG_HOME or ~/.config.
func resolveConfigDir() (string, bool, error) {
	if dir := strings.TrimSpace(os.Getenv("RELAY_CONFIG_DIR")); dir != "" {
		return dir, true, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "chatrelay"), false, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(home, ".config", "chatrelay"), false, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
