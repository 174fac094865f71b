// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_MetricsIncludeRegisteredCollectors(t *testing.T) {
	hits := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exthost_test_hits_total", Help: "test counter"},
		[]string{"kind"},
	)
	s := NewServer("127.0.0.1:0", WithMetrics(func(reg prometheus.Registerer) { reg.MustRegister(hits) }))

	hits.WithLabelValues("node").Inc()
	hits.WithLabelValues("node").Inc()

	body := serve(t, s, "/metrics").Body.String()
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `exthost_test_hits_total{kind="node"} 2`)
}

func TestServer_Probes(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		path     string
		wantCode int
		wantBody string
	}{
		{
			name:     "liveness",
			path:     "/healthz/liveness",
			wantCode: http.StatusOK,
			wantBody: "ok\n",
		},
		{
			name:     "readiness without checker",
			path:     "/healthz/readiness",
			wantCode: http.StatusOK,
			wantBody: "ok\n",
		},
		{
			name:     "readiness after eager activation",
			opts:     []Option{WithReadiness(func() bool { return true })},
			path:     "/healthz/readiness",
			wantCode: http.StatusOK,
			wantBody: "ok\n",
		},
		{
			name:     "readiness before eager activation",
			opts:     []Option{WithReadiness(func() bool { return false })},
			path:     "/healthz/readiness",
			wantCode: http.StatusServiceUnavailable,
			wantBody: "eager activation pending\n",
		},
		{
			name:     "hosts without status func",
			path:     "/healthz/hosts",
			wantCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, NewServer("127.0.0.1:0", tt.opts...), tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestServer_HostStatus(t *testing.T) {
	states := map[string]string{"node": "ready", "worker": "ready"}
	s := NewServer("127.0.0.1:0", WithHostStatus(func() map[string]string { return states }))

	rec := serve(t, s, "/healthz/hosts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ready", gjson.Get(rec.Body.String(), "worker").String())

	states = map[string]string{"node": "restarting"}
	rec = serve(t, s, "/healthz/hosts")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "restarting", gjson.Get(rec.Body.String(), "node").String())
}

func TestServer_StartServesOverTCP(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	assert.Empty(t, s.Addr())

	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/healthz/liveness") //nolint:gosec,noctx // local test request
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestServer_DoubleStartFails(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	_, err := s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	_, err = s.Start()
	assert.Error(t, err)
}

func TestServer_StartOnBusyAddrFails(t *testing.T) {
	first := NewServer("127.0.0.1:0")
	_, err := first.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	second := NewServer(first.Addr())
	_, err = second.Start()
	require.Error(t, err)

	// A failed start leaves the server startable.
	second.addr = "127.0.0.1:0"
	_, err = second.Start()
	require.NoError(t, err)
	_ = second.Stop(context.Background())
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := NewServer("127.0.0.1:0")
	assert.NoError(t, s.Stop(context.Background()))
}

func TestServer_ErrorChannel(t *testing.T) {
	t.Run("reports serve failures", func(t *testing.T) {
		s := NewServer("127.0.0.1:0")
		errCh, err := s.Start()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Stop(context.Background()) })

		_ = s.listener.Close()

		select {
		case serveErr := <-errCh:
			assert.Error(t, serveErr)
		case <-time.After(2 * time.Second):
			t.Fatal("serve failure was not reported")
		}
	})

	t.Run("closes on shutdown", func(t *testing.T) {
		s := NewServer("127.0.0.1:0")
		errCh, err := s.Start()
		require.NoError(t, err)
		require.NoError(t, s.Stop(context.Background()))

		select {
		case err, ok := <-errCh:
			if ok {
				assert.NoError(t, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("error channel was not closed")
		}
	})
}
