package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load reads, populates, and validates the configuration.
//
// The loading sequence is:
//  1. Enforce UTC as the process timezone to prevent drift bugs between the
//     due-date math and the database.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Populate the Config struct from environment variables via envconfig.
//  4. Validate the struct; any violation fails the load.
func Load() (*Config, error) {
	time.Local = time.UTC

	// Local development convenience only; deployed environments inject
	// real environment variables.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.checkDriver(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkDriver enforces the cross-field requirements envconfig tags cannot
// express: each notify driver needs its own endpoint setting.
func (c *Config) checkDriver() error {
	switch c.Notify.Driver {
	case "queue":
		if c.Notify.QueueURL == "" {
			return fmt.Errorf("NOTIFY_QUEUE_URL is required when NOTIFY_DRIVER=queue")
		}
	case "http":
		if c.Notify.ServiceURL == "" {
			return fmt.Errorf("NOTIFY_SERVICE_URL is required when NOTIFY_DRIVER=http")
		}
	}
	return nil
}
