package health

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/modules/health/service"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMux(t *testing.T) {
	state := service.NewState()
	reg := NewRegistry()
	rec := NewMetrics(reg)
	rec.Alert("SIGNAL")

	mux := NewMux(MuxParams{
		State:    state,
		Registry: reg,
		Sources: []Source{
			{Name: "channels", Report: func() any { return map[string]int{"console": 1} }},
		},
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	code, body := get(t, ts.URL+"/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	state.SetReady(true)
	state.TouchBar(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	code, _ = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)

	code, body = get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, code)
	var resp map[string]any
	require.NoError(t, sonic.UnmarshalString(body, &resp))
	assert.Equal(t, true, resp["ready"])
	assert.EqualValues(t, 1709251200, resp["lastBarUnix"])
	assert.Contains(t, resp, "channels")

	code, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "signal_bot_alerts_total")
	assert.Contains(t, body, "go_goroutines")
}
