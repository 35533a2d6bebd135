// Package config содержит логику чтения конфигурации сервиса расчётов.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса расчётов.
type Config struct {
	RunAddress             string        `env:"RUN_ADDRESS"`
	DatabaseURI            string        `env:"DATABASE_URI"`
	PayoutGatewayAddress   string        `env:"PAYOUT_GATEWAY_ADDRESS"`
	PayoutGatewayKeyID     string        `env:"PAYOUT_GATEWAY_KEY_ID"`
	PayoutGatewayKeySecret string        `env:"PAYOUT_GATEWAY_KEY_SECRET"`
	ShipmentAddress        string        `env:"SHIPMENT_ADDRESS"`
	ShipmentToken          string        `env:"SHIPMENT_TOKEN"`
	AuthSecret             string        `env:"AUTH_SECRET"`
	PaymentSecret          string        `env:"PAYMENT_SECRET"`
	WebhookSecret          string        `env:"WEBHOOK_SECRET"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL"`
	SweepStuckAge          time.Duration `env:"SWEEP_STUCK_AGE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPayoutAddress := cfg.PayoutGatewayAddress
	envShipmentAddress := cfg.ShipmentAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PayoutGatewayAddress, "p", "", "payout gateway address")
	flag.StringVar(&cfg.ShipmentAddress, "s", "", "shipment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPayoutAddress != "" {
		cfg.PayoutGatewayAddress = envPayoutAddress
	}
	if envShipmentAddress != "" {
		cfg.ShipmentAddress = envShipmentAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "settlement-secret"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.SweepStuckAge <= 0 {
		cfg.SweepStuckAge = 24 * time.Hour
	}

	return cfg, nil
}
