// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package goplugin runs the node extension host as a child process using
// HashiCorp's go-plugin system over gRPC.
package goplugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/exthost/internal/exthost"
	"github.com/holomush/exthost/internal/logging"
	exthostv1 "github.com/holomush/exthost/internal/proto/exthost/v1"
	"github.com/holomush/exthost/pkg/hostsdk"
)

// Defaults for process supervision.
const (
	DefaultWatchInterval = 250 * time.Millisecond
	DefaultLaunchRetries = 2
	DefaultLaunchBackoff = 100 * time.Millisecond
)

// ErrHostExited is passed to onExit when the host process dies.
var ErrHostExited = errors.New("host process exited")

// Compile-time interface check.
var _ exthost.Runtime = (*Runtime)(nil)

// PluginClient wraps go-plugin client for testability.
type PluginClient interface {
	// Client returns the gRPC client protocol.
	Client() (hashiplug.ClientProtocol, error)
	// Exited reports whether the process has exited.
	Exited() bool
	// Kill terminates the host process.
	Kill()
}

// ClientFactory creates plugin clients.
type ClientFactory interface {
	// NewClient creates a client that runs path with args.
	NewClient(path string, args []string) PluginClient
}

// DefaultClientFactory creates real go-plugin clients.
type DefaultClientFactory struct {
	Logger hclog.Logger
}

// NewClient creates a real go-plugin client.
func (f *DefaultClientFactory) NewClient(path string, args []string) PluginClient {
	return hashiplug.NewClient(&hashiplug.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path, args...), // #nosec G204 -- path is our own executable or an operator-configured host binary
		AllowedProtocols: []hashiplug.Protocol{hashiplug.ProtocolGRPC},
		Logger:           f.Logger,
	})
}

// Runtime supervises one node host process.
type Runtime struct {
	factory       ClientFactory
	path          string
	args          []string
	watchInterval time.Duration
	retries       uint64
	backoff       time.Duration

	mu     sync.Mutex
	client PluginClient
	stop   chan struct{}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClientFactory replaces the go-plugin client factory (for testing).
func WithClientFactory(f ClientFactory) Option {
	return func(r *Runtime) {
		r.factory = f
	}
}

// WithCommand sets the host executable and its arguments.
func WithCommand(path string, args ...string) Option {
	return func(r *Runtime) {
		r.path = path
		r.args = args
	}
}

// WithWatchInterval sets how often the process is checked for exit.
func WithWatchInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.watchInterval = d
		}
	}
}

// WithLaunchRetries sets how many failed launches are retried, and the
// base of the exponential backoff between them.
func WithLaunchRetries(retries uint64, backoff time.Duration) Option {
	return func(r *Runtime) {
		r.retries = retries
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// NewRuntime creates a runtime. By default it re-executes the current
// binary with the hidden node-host subcommand.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory:       &DefaultClientFactory{Logger: logging.HCLogger("exthost.node", "json", nil)},
		args:          []string{"node-host"},
		watchInterval: DefaultWatchInterval,
		retries:       DefaultLaunchRetries,
		backoff:       DefaultLaunchBackoff,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the host process and dispenses its client. Failed
// launches are retried with exponential backoff.
func (r *Runtime) Start(ctx context.Context, onExit func(error)) (exthost.Proxy, error) {
	path := r.path
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve host executable: %w", err)
		}
		path = self
	}
	if err := executableExists(path); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()

	var (
		client PluginClient
		host   exthostv1.ExtensionHostClient
	)
	attempt := 0
	backoff := retry.WithMaxRetries(r.retries, retry.NewExponential(r.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c := r.factory.NewClient(path, r.args)
		h, err := dispense(c)
		if err != nil {
			c.Kill()
			slog.WarnContext(ctx, "node host launch attempt failed",
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		client, host = c, h
		return nil
	})
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	r.client = client
	r.stop = stop
	go r.watch(path, client, stop, onExit)

	slog.InfoContext(ctx, "node host started", "path", path, "attempts", attempt)
	return &proxy{client: host}, nil
}

func dispense(c PluginClient) (exthostv1.ExtensionHostClient, error) {
	rpcClient, err := c.Client()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node host: %w", err)
	}
	raw, err := rpcClient.Dispense(hostsdk.PluginName)
	if err != nil {
		return nil, fmt.Errorf("failed to dispense node host: %w", err)
	}
	host, ok := raw.(exthostv1.ExtensionHostClient)
	if !ok {
		return nil, fmt.Errorf("node host does not implement ExtensionHostClient (got %T)", raw)
	}
	return host, nil
}

// executableExists reports a missing host binary as exthost.ErrProcessNotExist.
func executableExists(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", exthost.ErrProcessNotExist, path)
	}
	return nil
}

// watch reports the process exit through onExit unless stop closes first.
// go-plugin reaps the child itself and exposes only Exited, so the client
// is polled. An exit whose binary has since disappeared is reported as
// exthost.ErrProcessNotExist.
func (r *Runtime) watch(path string, client PluginClient, stop <-chan struct{}, onExit func(error)) {
	ticker := time.NewTicker(r.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !client.Exited() {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			if onExit == nil {
				return
			}
			if err := executableExists(path); err != nil {
				onExit(fmt.Errorf("%w: %w", ErrHostExited, err))
				return
			}
			onExit(ErrHostExited)
			return
		}
	}
}

// Stop kills the host process. The exit is not reported to onExit.
func (r *Runtime) Stop(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	return nil
}

func (r *Runtime) stopLocked() {
	if r.client == nil {
		return
	}
	close(r.stop)
	r.client.Kill()
	r.client = nil
	r.stop = nil
}
