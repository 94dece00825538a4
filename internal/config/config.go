// Package config defines the configuration structure for the Upkeep PM
// engine. Configuration is loaded once at process start and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, optionally seeded from a .env file for local development.
// Any missing required value or invalid format fails the process
// immediately on startup.
package config

import "time"

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server   ServerConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Notify   NotifyConfig
	AWS      AWSConfig
}

// ServerConfig holds HTTP server parameters for the API process.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             string        `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// WorkerConfig tunes the pm-worker driver: pass cadence and retention.
type WorkerConfig struct {
	GenerateInterval time.Duration `envconfig:"PM_GENERATE_INTERVAL" default:"5m"`
	FailedInterval   time.Duration `envconfig:"PM_FAILED_INTERVAL" default:"1h"`
	OverdueInterval  time.Duration `envconfig:"PM_OVERDUE_INTERVAL" default:"1h"`
	ArchiveInterval  time.Duration `envconfig:"PM_ARCHIVE_INTERVAL" default:"24h"`
	HistoryRetention time.Duration `envconfig:"PM_HISTORY_RETENTION" default:"8760h"` // one year
	LockTTL          time.Duration `envconfig:"PM_JOB_LOCK_TTL" default:"15m"`
}

// NotifyConfig selects and configures the Notifier driver.
type NotifyConfig struct {
	// Driver selects queue (SQS) or http (notification service API).
	Driver     string `envconfig:"NOTIFY_DRIVER" default:"queue" validate:"oneof=queue http"`
	QueueURL   string `envconfig:"NOTIFY_QUEUE_URL"`
	ServiceURL string `envconfig:"NOTIFY_SERVICE_URL"`
	APIKey     string `envconfig:"NOTIFY_SERVICE_API_KEY"`
}

// AWSConfig holds AWS regional configuration and resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// ArchiveBucket is the cold-storage bucket for maintenance-history
	// archives. Empty disables archival.
	ArchiveBucket string `envconfig:"ARCHIVE_BUCKET"`
	// MetricsEnabled toggles CloudWatch batch metrics emission.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"false"`
}
