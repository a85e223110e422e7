package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"prod"`

	Telegram struct {
		Token         string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
		WebhookURL    string `envconfig:"TELEGRAM_WEBHOOK_URL"`
		WebhookListen string `envconfig:"TELEGRAM_WEBHOOK_LISTEN" default:":8080"`
	} `envconfig:""`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB"`
	} `envconfig:""`

	Weather struct {
		BaseURL       string        `envconfig:"WEATHER_BASE_URL" default:"https://api.open-meteo.com"`
		MarineBaseURL string        `envconfig:"MARINE_BASE_URL" default:"https://marine-api.open-meteo.com"`
		Timeout       time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
	} `envconfig:""`

	Schedule struct {
		Interval time.Duration `envconfig:"SCHED_INTERVAL" default:"60s"`
		TZOffset string        `envconfig:"TZ_OFFSET" default:"+03:00"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
