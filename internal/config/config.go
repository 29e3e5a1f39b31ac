// Package config содержит логику чтения конфигурации магазина накрутки.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	TelegramToken     string        `env:"TELEGRAM_TOKEN"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	ProviderAPIURL    string        `env:"PROVIDER_API_URL"`
	ProviderAPIKey    string        `env:"PROVIDER_API_KEY"`
	AdminIDs          []int64       `env:"ADMIN_IDS" envSeparator:","`
	MinDepositCents   int64         `env:"MIN_DEPOSIT_CENTS" envDefault:"100"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`
	ReconcileBatch    int           `env:"RECONCILE_BATCH" envDefault:"100"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderURL := cfg.ProviderAPIURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAPIURL, "r", "", "delivery provider API address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderURL != "" {
		cfg.ProviderAPIURL = envProviderURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, cfg.validate()
}

// validate проверяет обязательные параметры, без которых запуск невозможен.
func (c *Config) validate() error {
	if c.DatabaseURI == "" {
		return errors.New("database URI is required")
	}
	if c.TelegramToken == "" {
		return errors.New("telegram token is required")
	}
	if c.ProviderAPIURL == "" {
		return errors.New("provider API address is required")
	}
	if c.MinDepositCents <= 0 {
		return errors.New("minimum deposit must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return errors.New("reconcile interval must be positive")
	}
	if c.ReconcileBatch <= 0 {
		return errors.New("reconcile batch size must be positive")
	}
	return nil
}

// IsAdmin сообщает, входит ли пользователь в список администраторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
