package config

import (
	"encoding/hex"
	"fmt"
	"time"
)

// ControlPlaneConfig configures the flag-management REST server. This is
// the write side of Norn: dashboards and CI pipelines mutate features
// here, so it carries the API-key and TLS settings the read-only data
// plane does not need.
type ControlPlaneConfig struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	Host              string        `envconfig:"HOST" default:"0.0.0.0"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	// Flag payloads live in the body, not in headers. 512KB is generous
	// for any auth header and small enough to shrug off header floods.
	MaxHeaderBytes int `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`

	// APIKeyHash holds the SHA-256 of the management API key. Only the
	// digest is ever configured; the plaintext key stays with callers.
	APIKeyHash string `envconfig:"API_KEY_HASH"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Validate checks the listener settings and, in production, the security
// posture of the management API.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}
	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}

	if environment == EnvironmentProduction {
		if err := c.validateProduction(); err != nil {
			return err
		}
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return fmt.Errorf("TLS enabled but cert or key file not specified")
	}

	return nil
}

// validateProduction rejects a production control plane without auth or
// transport security. The management API can flip every flag in the
// system, so neither is optional there.
func (c *ControlPlaneConfig) validateProduction() error {
	if c.APIKeyHash == "" {
		return fmt.Errorf("API key hash is required in production environment")
	}
	if err := validateSHA256Hash(c.APIKeyHash); err != nil {
		return fmt.Errorf("invalid API key hash: %w", err)
	}
	if !c.TLSEnabled {
		return fmt.Errorf("TLS must be enabled in production environment")
	}
	return nil
}

// validateSHA256Hash checks that hash looks like a hex-encoded SHA-256
// digest. Catching a pasted plaintext key at boot beats rejecting every
// request at runtime.
func validateSHA256Hash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	return nil
}
