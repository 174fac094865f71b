// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/holomush/exthost/internal/extension"
	"github.com/holomush/exthost/internal/extension/extensiontest"
	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/exthost/exthosttest"
	"github.com/holomush/exthost/internal/exthost/lua"
	"github.com/holomush/exthost/internal/observability"
	"github.com/holomush/exthost/internal/scanner"
)

type staticScanner struct {
	mds []extension.Metadata
}

func (s staticScanner) GetAllExtensions(context.Context, []string, []string, string, map[string]string) ([]extension.Metadata, error) {
	return s.mds, nil
}

// fakeObsServer serves the real observability handler without listening.
type fakeObsServer struct {
	mu      sync.Mutex
	handler http.Handler
	stopped bool
}

func (s *fakeObsServer) Start() (<-chan error, error) { return make(chan error), nil }

func (s *fakeObsServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeObsServer) Addr() string { return "127.0.0.1:0" }

func (s *fakeObsServer) get(path string) *httptest.ResponseRecorder {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	rec := httptest.NewRecorder()
	if h == nil {
		rec.WriteHeader(http.StatusNotFound)
		return rec
	}
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (s *fakeObsServer) Ready() bool {
	return s.get("/healthz/readiness").Code == http.StatusOK
}

func (s *fakeObsServer) Hosts() map[string]string {
	rec := s.get("/healthz/hosts")
	out := map[string]string{}
	if rec.Code == http.StatusNotFound {
		return out
	}
	gjson.ParseBytes(rec.Body.Bytes()).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.String()
		return true
	})
	return out
}

func (s *fakeObsServer) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched []string
	closed  bool
}

func (w *fakeWatcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched = append(w.watched, dir)
	return nil
}

func (w *fakeWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWatcher) State() ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watched...), w.closed
}

type testEnv struct {
	cfg       *Config
	deps      *ServeDeps
	nodeProxy *exthosttest.Proxy
	obs       *fakeObsServer
	watcher   *fakeWatcher
}

// newTestEnv returns default configuration and deps that boot an eager
// extension and a command-activated one on a fake node host.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	isolateXDG(t)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	nodeProxy := exthosttest.NewProxy()
	nodeProxy.Commands["test.lazy"] = []string{"lazy.run"}

	env := &testEnv{
		cfg:       cfg,
		nodeProxy: nodeProxy,
		obs:       &fakeObsServer{},
		watcher:   &fakeWatcher{},
	}
	env.deps = &ServeDeps{
		Scanner: staticScanner{mds: []extension.Metadata{
			extensiontest.Metadata(t, "eager", extensiontest.Manifest{
				"main":             "main.lua",
				"activationEvents": []string{"*"},
			}),
			extensiontest.Metadata(t, "lazy", extensiontest.Manifest{
				"main":             "main.lua",
				"activationEvents": []string{"onCommand:lazy.run"},
				"contributes": map[string]any{
					"commands": []map[string]any{{"command": "lazy.run", "title": "Run"}},
				},
			}),
		}},
		NodeRuntimeFactory: func(*Config) exthost.Runtime {
			return &exthosttest.Runtime{Proxy: nodeProxy}
		},
		WorkerRuntimeFactory: func(*Config, lua.KVStore) exthost.Runtime {
			return &exthosttest.Runtime{}
		},
		ObservabilityServerFactory: func(addr string, opts ...observability.Option) ObservabilityServer {
			srv := observability.NewServer(addr, opts...)
			env.obs.mu.Lock()
			env.obs.handler = srv.Handler()
			env.obs.mu.Unlock()
			return env.obs
		},
		WatcherFactory: func(context.Context, scanner.RemovedFunc) (DirWatcher, error) {
			return env.watcher, nil
		},
	}
	return env
}
