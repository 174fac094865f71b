// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability serves metrics and health probes for the extension
// service.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether eager extension activation has finished.
type ReadinessChecker func() bool

// HostStatusFunc reports the lifecycle state of each extension host by kind.
type HostStatusFunc func() map[string]string

// RegisterFunc registers a package's metrics, e.g. activation.RegisterMetrics.
type RegisterFunc func(reg prometheus.Registerer)

// Server serves /metrics and the /healthz probes.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	isReady    ReadinessChecker
	hostStatus HostStatusFunc
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithReadiness gates /healthz/readiness on fn. Without it the server is
// always ready.
func WithReadiness(fn ReadinessChecker) Option {
	return func(s *Server) {
		s.isReady = fn
	}
}

// WithMetrics runs each register func against the server's registry.
func WithMetrics(register ...RegisterFunc) Option {
	return func(s *Server) {
		for _, fn := range register {
			fn(s.registry)
		}
	}
}

// WithHostStatus serves fn on /healthz/hosts.
func WithHostStatus(fn HostStatusFunc) Option {
	return func(s *Server) {
		s.hostStatus = fn
	}
}

// NewServer creates a server listening on addr ("127.0.0.1:9110", or
// ":9110" for all interfaces). The registry is private to the server and
// always carries the Go and process collectors.
func NewServer(addr string, opts ...Option) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	mux.HandleFunc("/healthz/hosts", s.handleHosts)
	return mux
}

// Start begins serving. The returned channel receives a serve failure and
// is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a
// no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	w.Write([]byte(body))
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok\n")
}

// handleReadiness returns 200 once eager activation has finished, or 503
// before that.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeText(w, http.StatusOK, "ok\n")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "eager activation pending\n")
}

// handleHosts reports host states as a JSON object. It answers 503 when a
// host is not ready.
func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if s.hostStatus == nil {
		http.NotFound(w, r)
		return
	}

	states := s.hostStatus()
	status := http.StatusOK
	for _, st := range states {
		if st != "ready" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(states)
}
