package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, endpoint http.HandlerFunc) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	endpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestService_ReadinessGate(t *testing.T) {
	s := New()

	code, _ := probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code, "not ready before SetReady")

	s.SetReady(true)
	code, body := probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	s.SetReady(false)
	code, _ = probe(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestService_FailingReadinessCheck(t *testing.T) {
	s := New()
	s.SetReady(true)
	s.AddReadinessCheck("db", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})

	s.Start(context.Background(), 50*time.Millisecond)
	defer s.Stop()

	// Start runs all checks once synchronously before ticking; give the
	// goroutine a moment to record the first result.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		s.ReadyEndpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Code == http.StatusServiceUnavailable
	}, time.Second, 10*time.Millisecond)

	_, body := probe(t, s.ReadyEndpoint)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["db"])
}

func TestService_LivenessIndependentOfReadiness(t *testing.T) {
	s := New()
	s.AddLivenessCheck("noop", time.Second, func(context.Context) error { return nil })
	s.Start(context.Background(), 50*time.Millisecond)
	defer s.Stop()

	// Liveness ignores the readiness gate.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		s.LiveEndpoint(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
