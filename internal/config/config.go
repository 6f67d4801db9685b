package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	// Server
	Port            int
	APIKey          string
	CORSAllowOrigin string
	LogLevel        string
	LogPretty       bool

	// Database
	DBDriver   string // postgres or sqlite
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	SQLitePath string

	// Upstream providers
	BrapiToken           string
	BrapiBaseURL         string
	PolygonAPIKey        string
	PolygonBaseURL       string
	AlphaVantageAPIKey   string
	AlphaVantageBaseURL  string
	NewsAPIKey           string
	NewsBaseURL          string
	AggregatorWebhookURL string
	FallbackQuotesFile   string

	// Outbound webhooks
	ChatWebhookURL     string
	WhatsAppWebhookURL string
	AppName            string

	// Cache
	CacheTTL time.Duration

	// Scheduling
	SyncSchedule  string
	SyncSymbols   []string
	AlertSchedule string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envInt("PORT", 8080),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		LogPretty:       envBool("LOG_PRETTY", false),

		DBDriver:   strings.ToLower(envStr("DB_DRIVER", "postgres")),
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "marketdash"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),
		SQLitePath: envStr("SQLITE_PATH", "marketdash.db"),

		BrapiToken:           envStr("BRAPI_TOKEN", ""),
		BrapiBaseURL:         envStr("BRAPI_BASE_URL", "https://brapi.dev/api"),
		PolygonAPIKey:        envStr("POLYGON_API_KEY", ""),
		PolygonBaseURL:       envStr("POLYGON_BASE_URL", "https://api.polygon.io"),
		AlphaVantageAPIKey:   envStr("ALPHAVANTAGE_API_KEY", ""),
		AlphaVantageBaseURL:  envStr("ALPHAVANTAGE_BASE_URL", "https://www.alphavantage.co"),
		NewsAPIKey:           envStr("NEWS_API_KEY", ""),
		NewsBaseURL:          envStr("NEWS_BASE_URL", "https://newsapi.org/v2"),
		AggregatorWebhookURL: envStr("AGGREGATOR_WEBHOOK_URL", ""),
		FallbackQuotesFile:   envStr("FALLBACK_QUOTES_FILE", ""),

		ChatWebhookURL:     envStr("CHAT_WEBHOOK_URL", ""),
		WhatsAppWebhookURL: envStr("WHATSAPP_WEBHOOK_URL", ""),
		AppName:            envStr("APP_NAME", "MarketDash"),

		CacheTTL: envDuration("CACHE_TTL", 5*time.Minute),

		SyncSchedule:  envStr("SYNC_SCHEDULE", ""),
		SyncSymbols:   envList("SYNC_SYMBOLS"),
		AlertSchedule: envStr("ALERT_SCHEDULE", "0 */5 * * * *"),
	}

	return cfg, nil
}

// Validate returns hard errors only. Missing provider credentials degrade the
// affected provider and are reported as warnings.
func (c *Config) Validate(log zerolog.Logger) error {
	var errs []string

	switch c.DBDriver {
	case "postgres":
		if c.DBUser == "" {
			errs = append(errs, "DB_USER is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT out of range: %d", c.Port))
	}
	if c.SyncSchedule != "" && len(c.SyncSymbols) == 0 {
		errs = append(errs, "SYNC_SYMBOLS is required when SYNC_SCHEDULE is set")
	}

	warn := func(key, effect string) {
		log.Warn().Str("key", key).Msg(effect)
	}
	if c.BrapiToken == "" {
		warn("BRAPI_TOKEN", "not set, BR quotes will be empty")
	}
	if c.PolygonAPIKey == "" {
		warn("POLYGON_API_KEY", "not set, US quotes served from static fallback table")
	}
	if c.AlphaVantageAPIKey == "" {
		warn("ALPHAVANTAGE_API_KEY", "not set, global basket has no backup provider")
	}
	if c.NewsAPIKey == "" {
		warn("NEWS_API_KEY", "not set, news endpoint serves mock articles")
	}
	if c.AggregatorWebhookURL == "" {
		warn("AGGREGATOR_WEBHOOK_URL", "not set, global basket uses backup provider only")
	}
	if c.ChatWebhookURL == "" {
		warn("CHAT_WEBHOOK_URL", "not set, chat relay answers with fallback message")
	}
	if c.WhatsAppWebhookURL == "" {
		warn("WHATSAPP_WEBHOOK_URL", "not set, triggered alerts are logged only")
	}
	if c.APIKey == "" {
		warn("API_KEY", "not set, REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print(log zerolog.Logger) {
	log.Info().
		Int("port", c.Port).
		Str("db_driver", c.DBDriver).
		Str("db", c.dbLabel()).
		Dur("cache_ttl", c.CacheTTL).
		Str("brapi", configured(c.BrapiToken)).
		Str("polygon", configured(c.PolygonAPIKey)).
		Str("alphavantage", configured(c.AlphaVantageAPIKey)).
		Str("news", configured(c.NewsAPIKey)).
		Str("aggregator_webhook", configured(c.AggregatorWebhookURL)).
		Str("chat_webhook", configured(c.ChatWebhookURL)).
		Str("whatsapp_webhook", configured(c.WhatsAppWebhookURL)).
		Str("sync_schedule", orDisabled(c.SyncSchedule)).
		Strs("sync_symbols", c.SyncSymbols).
		Str("alert_schedule", orDisabled(c.AlertSchedule)).
		Msg("configuration loaded")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func (c *Config) dbLabel() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return fmt.Sprintf("%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// envList splits a comma-separated value, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func configured(v string) string {
	if v != "" {
		return "configured"
	}
	return "not set"
}

func orDisabled(v string) string {
	if v == "" {
		return "disabled"
	}
	return v
}
