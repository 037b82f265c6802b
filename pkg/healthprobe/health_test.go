package healthprobe

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestNew(t *testing.T) {
	hc := New()
	require.NotNil(t, hc)
	assert.Less(t, time.Since(hc.startTime), time.Second)
	assert.False(t, hc.ready.Load(), "HealthChecker should not be ready by default")
}

func TestSetReady_Toggle(t *testing.T) {
	hc := New()
	hc.SetReady(true)
	assert.True(t, hc.ready.Load())
	hc.SetReady(false)
	assert.False(t, hc.ready.Load())
}

func TestHealth(t *testing.T) {
	hc := New()
	rec := httptest.NewRecorder()
	hc.Health()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "healthy", decode(t, rec).Status)
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checks     map[string]CheckFunc
		wantCode   int
		wantStatus string
		wantFail   []string
	}{
		{
			name:       "starting",
			ready:      false,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
		},
		{
			name:       "ready",
			ready:      true,
			checks:     map[string]CheckFunc{"sessions": func() error { return nil }},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
		},
		{
			name:  "halted-session",
			ready: true,
			checks: map[string]CheckFunc{
				"sessions": func() error { return errors.New("1 session halted") },
				"storage":  func() error { return nil },
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantFail:   []string{"sessions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := New()
			hc.SetReady(tt.ready)
			for name, check := range tt.checks {
				hc.AddCheck(name, check)
			}

			rec := httptest.NewRecorder()
			hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Failing, len(tt.wantFail))
			for _, name := range tt.wantFail {
				assert.Contains(t, resp.Failing, name)
			}
		})
	}
}
