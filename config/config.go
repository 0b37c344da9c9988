package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the full process configuration. It is built once at startup
// from the environment and treated as immutable afterwards.
type Config struct {
	Bybit        BybitConfig
	Universe     UniverseConfig
	Signals      SignalConfig
	Dispatch     DispatchConfig
	Notification NotificationConfig
	Redis        RedisConfig
	Postgres     PostgresConfig
	Server       ServerConfig
	Logging      LoggingConfig
}

// BybitConfig selects the exchange environment.
type BybitConfig struct {
	Testnet bool
}

// UniverseConfig holds the symbol-selection thresholds.
type UniverseConfig struct {
	MinVolume24hUSDT    float64
	MinOpenInterestUSDT float64
	MinPriceUSDT        float64
	MaxPriceUSDT        float64
	Blacklist           []string
}

// SignalConfig holds evaluation and scoring settings.
type SignalConfig struct {
	MinScoreThreshold float64
	EnableBTCContext  bool
}

// DispatchConfig holds the alert throttling settings.
type DispatchConfig struct {
	CooldownSeconds  int
	MaxAlertsPerHour int
}

// NotificationConfig holds outbound sink settings.
type NotificationConfig struct {
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
}

// RedisConfig holds the optional governor-store settings.
type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

// PostgresConfig holds the optional persistence settings.
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Enabled bool
	Port    int
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string
	JSONFormat bool
}

// ConfigError reports missing or invalid required configuration. It is fatal
// at startup.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Load builds the configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{
		Bybit: BybitConfig{
			Testnet: getEnvBool("BYBIT_TESTNET", false),
		},
		Universe: UniverseConfig{
			MinVolume24hUSDT:    getEnvFloat("MIN_VOLUME_24H_USDT", 1_000_000),
			MinOpenInterestUSDT: getEnvFloat("MIN_OPEN_INTEREST_USDT", 500_000),
			MinPriceUSDT:        getEnvFloat("MIN_PRICE_USDT", 0.0001),
			MaxPriceUSDT:        getEnvFloat("MAX_PRICE_USDT", 100_000),
			Blacklist:           getEnvList("BLACKLIST_SYMBOLS"),
		},
		Signals: SignalConfig{
			MinScoreThreshold: getEnvFloat("MIN_SCORE_THRESHOLD", 75),
			EnableBTCContext:  getEnvBool("ENABLE_BTC_CONTEXT", true),
		},
		Dispatch: DispatchConfig{
			CooldownSeconds:  getEnvInt("COOLDOWN_SECONDS", 300),
			MaxAlertsPerHour: getEnvInt("MAX_ALERTS_PER_HOUR", 20),
		},
		Notification: NotificationConfig{
			DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
			TelegramBotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
		},
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "funding_bot"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "funding_bot"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Server: ServerConfig{
			Enabled: getEnvBool("API_ENABLED", true),
			Port:    getEnvInt("API_PORT", 8090),
		},
		Logging: LoggingConfig{
			Level:      getEnv("LOG_LEVEL", "INFO"),
			JSONFormat: getEnvBool("LOG_JSON", true),
		},
	}

	cfg.Redis.Enabled = cfg.Redis.Address != ""
	cfg.Postgres.Enabled = cfg.Postgres.Host != ""

	if cfg.Notification.DiscordWebhookURL == "" &&
		(cfg.Notification.TelegramBotToken == "" || cfg.Notification.TelegramChatID == "") {
		return nil, &ConfigError{Key: "DISCORD_WEBHOOK_URL", Reason: "no notification sink configured"}
	}
	if cfg.Universe.MinPriceUSDT >= cfg.Universe.MaxPriceUSDT {
		return nil, &ConfigError{Key: "MIN_PRICE_USDT", Reason: "must be below MAX_PRICE_USDT"}
	}
	if cfg.Dispatch.MaxAlertsPerHour <= 0 {
		return nil, &ConfigError{Key: "MAX_ALERTS_PER_HOUR", Reason: "must be positive"}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
