package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig configures the admin server each Norn binary runs
// next to its business port: Kubernetes probes and the Prometheus scrape
// endpoint. Keeping it on its own port means probe traffic is never
// competing with evaluation requests and the business port can stay
// behind auth.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout caps read and write on the admin server. Probes and scrapes
	// are tiny; anything slow indicates a stuck checker.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Validate checks the port and that every endpoint path is a distinct
// absolute path, since chi registers them verbatim.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	paths := map[string]string{
		"liveness":  o.LivenessPath,
		"readiness": o.ReadinessPath,
		"metrics":   o.MetricsPath,
	}
	seen := make(map[string]string, len(paths))
	for name, path := range paths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", name, path)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("observability %s path %q collides with the %s path", name, path, other)
		}
		seen[path] = name
	}

	return nil
}
