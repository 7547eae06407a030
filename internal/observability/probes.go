package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// liveness answers 200 whenever the process can still serve HTTP. A Norn
// binary that is up but missing its snapshot or database is a readiness
// problem, not a liveness one, so no checkers run here.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type probeResult struct {
	name string
	err  error
}

// readiness runs every registered checker and reports per-dependency
// status. Any failure turns the response into a 503 so the load balancer
// stops routing until the dependency recovers.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	// The probe must answer inside the kubelet's own deadline even when a
	// dependency hangs, so every check shares one bounded context.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	results := make(chan probeResult, len(s.checkers))
	for _, checker := range s.checkers {
		go func(c Checker) {
			results <- probeResult{name: c.Name(), err: c.Check(ctx)}
		}(checker)
	}

	statusMap := make(map[string]string, len(s.checkers))
	hasError := false
	for range s.checkers {
		res := <-results
		if res.err != nil {
			// Warn, not Error: the kubelet retries on its own cadence and a
			// flapping dependency should not page anyone by itself.
			s.logger.Warn("health probe failed",
				slog.String("component", res.name),
				slog.String("error", res.err.Error()),
			)
			statusMap[res.name] = fmt.Sprintf("down: %v", res.err)
			hasError = true
			continue
		}
		statusMap[res.name] = "up"
	}

	w.Header().Set("Content-Type", "application/json")
	if hasError {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	// The status code is already on the wire; the body only helps a human
	// see which dependency is down, so its encode error is not actionable.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": statusMap,
	})
}
