package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, cfg config) http.Handler {
	t.Helper()
	comps, err := wire(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { comps.close(zap.NewNop()) })
	router, err := newRouter(cfg, zap.NewNop(), comps)
	require.NoError(t, err)
	return router
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func exerciseRoutes(t *testing.T, h http.Handler) {
	t.Helper()
	uplink := `{"end_device_ids":{"dev_eui":"70B3D57ED0051234","device_id":"buoy-1","application_ids":{"application_id":"lake"}},
		"uplink_message":{"f_port":1,"decoded_payload":{"lat":"47.1","lng":"8.5","ts":1714560000000},"rx_metadata":[{"rssi":-90,"snr":6}]}}`

	rec := serve(h, http.MethodPost, "/v1/uplink", uplink)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, http.MethodGet, "/v1/devices/70B3D57ED0051234/latest", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"ts":1714560000`)

	rec = serve(h, http.MethodGet, "/v1/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "buoy-1")

	rec = serve(h, http.MethodGet, "/v1/uplinks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"application_id":"lake"`)

	rec = serve(h, http.MethodDelete, "/v1/devices/70B3D57ED0051234", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, http.MethodGet, "/v1/devices/70B3D57ED0051234/history", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "envsurveillance_telemetry_points_appended_total")
}

func TestRoutesWithMemoryDriver(t *testing.T) {
	cfg := defaultConfig()
	cfg.DBDriver = driverMemory
	exerciseRoutes(t, newTestServer(t, cfg))
}

func TestRoutesWithSQLiteDriver(t *testing.T) {
	cfg := defaultConfig()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "routes.db")
	cfg.StreamEnabled = false
	exerciseRoutes(t, newTestServer(t, cfg))
}
