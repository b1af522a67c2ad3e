// Package config loads process-wide configuration for inboxd.
//
// Configuration is environment-driven. It is constructed once at startup
// and passed down to components explicitly; nothing reads the environment
// after Load returns.
package config

import (
	"os"
	"time"

	"github.com/openinbox/inboxd/internal/util"
)

// Default values for the delivery and alerting knobs.
const (
	DefaultMaxAttempts        = 5
	DefaultBaseBackoff        = 1000 * time.Millisecond
	DefaultMaxBackoff         = 60000 * time.Millisecond
	DefaultBatchSize          = 10
	DefaultConcurrency        = 5
	DefaultPollInterval       = 2000 * time.Millisecond
	DefaultFailAlertThreshold = 10
	DefaultFailAlertWindow    = 300 * time.Second
	DefaultFailAlertCooldown  = 3600 * time.Second
	DefaultEPCacheTTL         = 600 * time.Second
	DefaultAPIAddr            = ":8080"
)

// Config holds all runtime configuration for the inboxd process.
type Config struct {
	// Outbox worker
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	BatchSize    int
	Concurrency  int
	PollInterval time.Duration

	// Failure alerting
	FailAlertThreshold int
	FailAlertWindow    time.Duration
	FailAlertCooldown  time.Duration
	AlertWebhookURL    string

	// Permission cache
	EPCacheTTL time.Duration

	// Stores
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	// API / gateway
	APIAddr   string
	JWTSecret string

	// Internal status-notify callback target (defaults to the local API)
	// and the shared secret authenticating those callbacks.
	StatusNotifyURL   string
	StatusNotifyToken string

	// Delivery adapters. An adapter is registered only when its
	// credentials are configured.
	TelegramBotToken string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	WhatsAppDBDSN    string
	WhatsAppQRPath   string
}

// Load builds a Config from environment variables, applying defaults for
// anything unset.
func Load() Config {
	return Config{
		MaxAttempts:  util.ParseIntEnv("MAX_ATTEMPTS", DefaultMaxAttempts),
		BaseBackoff:  util.ParseDurationEnv("BASE_BACKOFF_MS", time.Millisecond, DefaultBaseBackoff),
		MaxBackoff:   util.ParseDurationEnv("MAX_BACKOFF_MS", time.Millisecond, DefaultMaxBackoff),
		BatchSize:    util.ParseIntEnv("BATCH_SIZE", DefaultBatchSize),
		Concurrency:  util.ParseIntEnv("CONCURRENCY", DefaultConcurrency),
		PollInterval: util.ParseDurationEnv("POLL_INTERVAL_MS", time.Millisecond, DefaultPollInterval),

		FailAlertThreshold: util.ParseIntEnv("FAIL_ALERT_THRESHOLD", DefaultFailAlertThreshold),
		FailAlertWindow:    util.ParseDurationEnv("FAIL_ALERT_WINDOW_SEC", time.Second, DefaultFailAlertWindow),
		FailAlertCooldown:  util.ParseDurationEnv("FAIL_ALERT_COOLDOWN_SEC", time.Second, DefaultFailAlertCooldown),
		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),

		EPCacheTTL: util.ParseDurationEnv("EP_CACHE_TTL_SEC", time.Second, DefaultEPCacheTTL),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisDB:     util.ParseIntEnv("REDIS_DB", 0),

		APIAddr:   envOrDefault("API_ADDR", DefaultAPIAddr),
		JWTSecret: os.Getenv("JWT_SECRET"),

		StatusNotifyURL:   os.Getenv("STATUS_NOTIFY_URL"),
		StatusNotifyToken: os.Getenv("STATUS_NOTIFY_TOKEN"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppQRPath:   os.Getenv("WHATSAPP_QR_PATH"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
