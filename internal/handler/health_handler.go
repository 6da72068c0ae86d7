package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"hivechat/internal/bridge"
	"hivechat/internal/history"
)

// Health returns basic health check
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// HealthCheckResult represents the result of a health check
type HealthCheckResult struct {
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Ready returns readiness check with dependencies. Redis being down
// does not fail readiness: the history store keeps serving from its
// fallback buffer, so the check reports degraded instead.
func Ready(store *history.Store, br *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		redisResult := make(chan HealthCheckResult, 1)
		bridgeResult := make(chan HealthCheckResult, 1)

		go func() {
			redisResult <- checkRedis(ctx, store)
		}()

		go func() {
			bridgeResult <- checkBridge(br)
		}()

		redisCheck := <-redisResult
		bridgeCheck := <-bridgeResult

		response := map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"checks": map[string]HealthCheckResult{
				"redis":  redisCheck,
				"bridge": bridgeCheck,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if bridgeCheck.Status == "up" {
			if redisCheck.Status == "up" {
				response["status"] = "ready"
			} else {
				response["status"] = "degraded"
			}
			w.WriteHeader(http.StatusOK)
		} else {
			response["status"] = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(response)
	}
}

// checkRedis verifies history store connectivity
func checkRedis(ctx context.Context, store *history.Store) HealthCheckResult {
	start := time.Now()
	err := store.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return HealthCheckResult{
			Status:    "down",
			LatencyMs: latency.Milliseconds(),
			Error:     err.Error(),
		}
	}

	return HealthCheckResult{
		Status:    "up",
		LatencyMs: latency.Milliseconds(),
		Metadata: map[string]interface{}{
			"degraded": store.Degraded(),
		},
	}
}

// checkBridge verifies the broadcast bridge connection
func checkBridge(br *bridge.Bridge) HealthCheckResult {
	if br.IsClosed() {
		return HealthCheckResult{
			Status: "down",
			Error:  "connection closed",
		}
	}

	return HealthCheckResult{
		Status: "up",
		Metadata: map[string]interface{}{
			"instance_id": br.InstanceID(),
		},
	}
}
