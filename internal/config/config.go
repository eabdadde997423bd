package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort              string
	HMACSecret           string
	SigMaxAgeSeconds     int64
	SQLiteDSN            string
	CardServiceURL       string
	AMQPURL              string
	WebhookTimeoutSecs   int64
	WebhookMaxConcurrent int64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func Load() Config {
	// .env is optional; in containers the variables come from the environment.
	godotenv.Load()

	return Config{
		AppPort:              getenv("APP_PORT", "8080"),
		HMACSecret:           getenv("HMAC_SECRET", "supersecret-dev"),
		SigMaxAgeSeconds:     getInt64("SIG_MAX_AGE_SECONDS", 300),
		SQLiteDSN:            getenv("SQLITE_DSN", "./app.db"),
		CardServiceURL:       getenv("CARD_SERVICE_URL", ""),
		AMQPURL:              getenv("AMQP_URL", ""),
		WebhookTimeoutSecs:   getInt64("WEBHOOK_TIMEOUT_SECONDS", 10),
		WebhookMaxConcurrent: getInt64("WEBHOOK_MAX_CONCURRENT", 32),
	}
}
