// health_handler.go -- Health check handler for GET /_gate/health.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
)

// HealthChecker is satisfied by *store.RedisStore and *store.PostgresStore.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthHandler returns a GET /_gate/health handler that pings every dependency.
// Returns 200 with {"status":"ok",...} when all are healthy, 503 otherwise.
// With no dependencies (cookie persistence) it always reports ok.
func HealthHandler(deps map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		healthy := true
		for _, name := range names {
			if err := deps[name].CheckHealth(r.Context()); err != nil {
				logError(r, "health check failed", "dependency", name, "error", err)
				body[name] = "error"
				healthy = false
				continue
			}
			body[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			body["status"] = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(body)
	}
}
