package ops

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prebidwatch/scout/internal/blacklist"
	"github.com/prebidwatch/scout/internal/cache"
	"github.com/prebidwatch/scout/internal/clusterhealth"
	"github.com/prebidwatch/scout/internal/metrics"
	"github.com/prebidwatch/scout/internal/scan"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestHealthz_HealthyMonitor(t *testing.T) {
	t.Parallel()

	monitor := clusterhealth.New(10, nil)
	srv := New(0, monitor, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Healthy    bool `json:"healthy"`
		ErrorCount int  `json:"errorCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Healthy)
	require.Zero(t, body.ErrorCount)
}

func TestHealthz_UnhealthyMonitorReturns503(t *testing.T) {
	t.Parallel()

	monitor := clusterhealth.New(3, nil)
	events := make(chan scan.FailureEvent)
	monitor.StartMonitoring(events)
	for i := 0; i < 5; i++ {
		events <- scan.FailureEvent{URL: "https://bad.example", Message: "navigation timeout", At: time.Now()}
	}
	close(events)
	monitor.StopMonitoring()

	srv := New(0, monitor, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats_ReportsBlacklistAndCache(t *testing.T) {
	t.Parallel()

	bl := blacklist.Load(t.TempDir()+"/blacklist.json", 2, nil, nil)
	bl.AddToBlacklist("https://banned.example", "manual")

	contentCache := cache.New(cache.Config{}, nil, nil)
	contentCache.Set("https://a.example", []byte("<html></html>"))

	srv := New(0, nil, bl, contentCache, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Blacklist struct {
			BlacklistedCount int `json:"blacklistedCount"`
		} `json:"blacklist"`
		Cache struct {
			Entries int   `json:"entries"`
			Size    int64 `json:"size"`
		} `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Blacklist.BlacklistedCount)
	require.Equal(t, 1, body.Cache.Entries)
	require.EqualValues(t, 13, body.Cache.Size)
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	srv := New(0, nil, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
