package config

import (
	"fmt"
	"time"
)

// DataPlaneConfig configures the evaluation HTTP API server.
type DataPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8081"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"2s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"` // 512KB

	// L1 snapshot cache (in-memory)
	L1CacheCapacity int           `envconfig:"L1_CACHE_CAPACITY" default:"10000" validate:"min=1"`
	L1CacheTTL      time.Duration `envconfig:"L1_CACHE_TTL" default:"60s" validate:"gt=0"`

	// SnapshotRefreshInterval bounds snapshot staleness when a Pub/Sub
	// update announcement is missed.
	SnapshotRefreshInterval time.Duration `envconfig:"SNAPSHOT_REFRESH_INTERVAL" default:"30s" validate:"gt=0"`
}

// Validate performs validation on the DataPlaneConfig.
func (c *DataPlaneConfig) Validate(environment string) error {
	// Validate port
	if err := validatePort(c.Port, "data plane"); err != nil {
		return err
	}

	// Validate host
	if err := validateHost(c.Host, "data plane"); err != nil {
		return err
	}

	// Production minimums for the L1 snapshot cache
	if environment == EnvironmentProduction {
		if c.L1CacheCapacity < 1000 {
			return fmt.Errorf("data plane L1 cache capacity must be at least 1000 in production, got %d", c.L1CacheCapacity)
		}
		if c.L1CacheTTL < 10*time.Second {
			return fmt.Errorf("data plane L1 cache TTL must be at least 10s in production, got %s", c.L1CacheTTL)
		}
	}

	return nil
}
