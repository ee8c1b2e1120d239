package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	DedupTTL  time.Duration `envconfig:"LISTING_DEDUP_TTL" default:"0"`

	Telegram struct {
		BotToken      string `envconfig:"TELEGRAM_BOT_TOKEN"`
		InternalToken string `envconfig:"TELEGRAM_INTERNAL_TOKEN"`
	} `envconfig:""`

	N8N struct {
		InternalToken string `envconfig:"N8N_INTERNAL_TOKEN"`
	} `envconfig:""`

	Auth struct {
		BaseURL    string `envconfig:"AUTH_BASE_URL"`
		ServiceKey string `envconfig:"AUTH_SERVICE_KEY"`
	} `envconfig:""`

	SMTP struct {
		Addr       string `envconfig:"SMTP_ADDR"`
		From       string `envconfig:"SMTP_FROM" default:"alerts@voiture-alert.app"`
		User       string `envconfig:"SMTP_USER"`
		Password   string `envconfig:"SMTP_PASSWORD"`
		SubjPrefix string `envconfig:"SMTP_SUBJECT_PREFIX" default:"[Voiture Alert]"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
