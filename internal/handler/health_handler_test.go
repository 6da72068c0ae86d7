package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hivechat/internal/bridge"
	"hivechat/internal/history"
	"hivechat/internal/testutil"

	"github.com/redis/go-redis/v9"
)

func TestHealth_ReturnsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	Health(w, req)

	testutil.AssertStatusCode(t, w, http.StatusOK)
	testutil.AssertHeader(t, w, "Content-Type", "application/json")

	var response map[string]string
	err := json.NewDecoder(w.Body).Decode(&response)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, response["status"], "ok")
}

func TestHealth_AlwaysReturns200(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{"GET request", http.MethodGet},
		{"HEAD request", http.MethodHead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			Health(w, req)

			testutil.AssertStatusCode(t, w, http.StatusOK)
		})
	}
}

// unreachableStore builds a history store whose Redis client cannot
// connect, so readiness checks observe the down path quickly.
func unreachableStore() *history.Store {
	return history.NewStore(redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:1",
		DialTimeout:  50 * time.Millisecond,
		ReadTimeout:  50 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		MaxRetries:   -1,
	}))
}

func TestReady_NotReadyWhenBridgeDown(t *testing.T) {
	handler := Ready(unreachableStore(), &bridge.Bridge{})

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	testutil.AssertStatusCode(t, w, http.StatusServiceUnavailable)

	var response map[string]interface{}
	err := json.NewDecoder(w.Body).Decode(&response)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, response["status"].(string), "not_ready")

	checks := response["checks"].(map[string]interface{})
	redisCheck := checks["redis"].(map[string]interface{})
	bridgeCheck := checks["bridge"].(map[string]interface{})
	testutil.AssertEqual(t, redisCheck["status"].(string), "down")
	testutil.AssertEqual(t, bridgeCheck["status"].(string), "down")
}

func TestHealthCheckResult_JSON(t *testing.T) {
	tests := []struct {
		name   string
		result HealthCheckResult
		want   map[string]interface{}
	}{
		{
			name: "healthy service",
			result: HealthCheckResult{
				Status:    "up",
				LatencyMs: 5,
			},
			want: map[string]interface{}{
				"status":     "up",
				"latency_ms": float64(5),
			},
		},
		{
			name: "unhealthy service",
			result: HealthCheckResult{
				Status:    "down",
				LatencyMs: 100,
				Error:     "connection refused",
			},
			want: map[string]interface{}{
				"status":     "down",
				"latency_ms": float64(100),
				"error":      "connection refused",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.result)
			testutil.AssertNoError(t, err)

			var result map[string]interface{}
			err = json.Unmarshal(data, &result)
			testutil.AssertNoError(t, err)

			for key, expected := range tt.want {
				got, ok := result[key]
				if !ok {
					t.Errorf("missing key %q", key)
					continue
				}
				switch v := expected.(type) {
				case string:
					testutil.AssertEqual(t, got.(string), v)
				case float64:
					testutil.AssertEqual(t, got.(float64), v)
				}
			}
		})
	}
}
