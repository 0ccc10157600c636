// Package config содержит логику чтения конфигурации сервиса пиццерии.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса пиццерии.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET" envDefault:"pizzanat-secret"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`
	AppURL      string `env:"APP_URL" envDefault:"https://pizzanat.ru"`

	GatewayAPIURL    string `env:"YOOKASSA_API_URL"`
	GatewayShopID    string `env:"YOOKASSA_SHOP_ID"`
	GatewaySecretKey string `env:"YOOKASSA_SECRET_KEY"`

	TelegramAPIURL      string  `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramBotToken    string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID []int64 `env:"TELEGRAM_ADMIN_CHAT_IDS" envSeparator:","`

	RedisAddr string `env:"REDIS_ADDR"`

	// PaymentPollWindow ограничивает возраст платежей, опрашиваемых у шлюза:
	// более старые незавершённые платежи считаются брошенными и не опрашиваются.
	PaymentPollInterval time.Duration `env:"PAYMENT_POLL_INTERVAL" envDefault:"1m"`
	PaymentPollWindow   time.Duration `env:"PAYMENT_POLL_WINDOW" envDefault:"10m"`
	PaymentPollWorkers  int           `env:"PAYMENT_POLL_WORKERS" envDefault:"4"`

	NotificationDrainInterval time.Duration `env:"NOTIFICATION_DRAIN_INTERVAL" envDefault:"5m"`
	ReferralDelay             time.Duration `env:"REFERRAL_DELAY" envDefault:"1h"`
	AlertCooldown             time.Duration `env:"ALERT_COOLDOWN" envDefault:"30m"`

	// HighAmountThreshold — сумма платежа в копейках, начиная с которой
	// администраторам отправляется алерт о крупном платеже.
	HighAmountThreshold int64 `env:"HIGH_AMOUNT_THRESHOLD" envDefault:"1000000"`

	// Параметры стандартной зоны, применяемой к адресам вне настроенных зон.
	DefaultZoneEnabled       bool  `env:"DEFAULT_ZONE_ENABLED" envDefault:"true"`
	DefaultZoneCost          int64 `env:"DEFAULT_ZONE_COST" envDefault:"25000"`
	DefaultZoneFreeThreshold int64 `env:"DEFAULT_ZONE_FREE_THRESHOLD" envDefault:"120000"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayURL := cfg.GatewayAPIURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayAPIURL, "g", "", "payment gateway API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayURL != "" {
		cfg.GatewayAPIURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PaymentPollWorkers <= 0 {
		cfg.PaymentPollWorkers = 1
	}

	return cfg, nil
}
