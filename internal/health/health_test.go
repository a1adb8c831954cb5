package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func probeEngine(checker *Checker) *gin.Engine {
	engine := gin.New()
	engine.GET("/healthz", checker.HealthHandler())
	engine.GET("/readyz", checker.ReadinessHandler())
	return engine
}

func TestChecker_Health(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.2.3")
	checker.RegisterCheck("always-broken", func(ctx context.Context) error {
		return errors.New("down")
	})

	w := httptest.NewRecorder()
	probeEngine(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()

		checker := NewChecker("test")
		checker.RegisterCheck("store", func(ctx context.Context) error { return nil })
		checker.RegisterCheck("policy", func(ctx context.Context) error { return nil })

		w := httptest.NewRecorder()
		probeEngine(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusOK, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, StatusHealthy, resp.Status)
		assert.Len(t, resp.Checks, 2)
	})

	t.Run("failing check turns not ready", func(t *testing.T) {
		t.Parallel()

		checker := NewChecker("test")
		checker.RegisterCheck("store", func(ctx context.Context) error { return nil })
		checker.RegisterCheck("policy", func(ctx context.Context) error {
			return errors.New("connection refused")
		})

		w := httptest.NewRecorder()
		probeEngine(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, StatusUnhealthy, resp.Status)
		assert.Equal(t, StatusUnhealthy, resp.Checks["policy"].Status)
		assert.Contains(t, resp.Checks["policy"].Message, "connection refused")
		assert.Equal(t, StatusHealthy, resp.Checks["store"].Status)
	})

	t.Run("slow check bounded by probe timeout", func(t *testing.T) {
		t.Parallel()

		checker := NewChecker("test", WithProbeTimeout(50*time.Millisecond))
		checker.RegisterCheck("slow", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
				return nil
			}
		})

		start := time.Now()
		resp := checker.Readiness(context.Background())
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.Equal(t, StatusUnhealthy, resp.Status)
	})
}

func TestHTTPCheck(t *testing.T) {
	t.Parallel()

	t.Run("reachable endpoint", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		assert.NoError(t, HTTPCheck(server.URL, nil)(context.Background()))
	})

	t.Run("server error fails", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(server.Close)

		assert.Error(t, HTTPCheck(server.URL, nil)(context.Background()))
	})

	t.Run("unreachable endpoint fails", func(t *testing.T) {
		t.Parallel()

		assert.Error(t, HTTPCheck("http://127.0.0.1:1", nil)(context.Background()))
	})
}
