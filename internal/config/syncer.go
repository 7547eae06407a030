package config

import "time"

// SyncerConfig contains configuration for the Syncer worker service.
type SyncerConfig struct {
	Enabled        bool          `envconfig:"ENABLED" default:"true"`
	Interval       time.Duration `envconfig:"INTERVAL" default:"10s" validate:"gt=0"`
	SyncTimeout    time.Duration `envconfig:"SYNC_TIMEOUT" default:"30s" validate:"gt=0"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"1s"`
}
