// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hostsdk serves an extension host over go-plugin. The node host
// process calls Serve from its main; the orchestrator dispenses the
// ExtensionHost client on the other end.
//
// Example usage:
//
//	func main() {
//		hostsdk.Serve(&hostsdk.ServeConfig{
//			Host: lua.NewHost(exthost.KindNode),
//		})
//	}
package hostsdk

import (
	"context"
	"errors"

	"github.com/hashicorp/go-hclog"
	hashiplug "github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"

	"github.com/holomush/exthost/internal/exthost"
	exthostv1 "github.com/holomush/exthost/internal/proto/exthost/v1"
)

// PluginName is the name the host is dispensed under.
const PluginName = "exthost"

// HandshakeConfig is the go-plugin handshake configuration.
// Both the orchestrator and the host process must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "EXTHOST_NODE_HOST",
	MagicCookieValue: "exthost-v1",
}

// ServeConfig configures the host server.
type ServeConfig struct {
	// Host runs the extensions. Required; Serve will panic if nil.
	Host exthost.Proxy
	// Logger receives go-plugin's own logs. Optional.
	Logger hclog.Logger
}

// Serve starts the host server. It blocks until the orchestrator goes away.
func Serve(config *ServeConfig) {
	if config == nil {
		panic("hostsdk: config cannot be nil")
	}
	if config.Host == nil {
		panic("hostsdk: config.Host cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hashiplug.Plugin{
			PluginName: &GRPCPlugin{Impl: NewServer(config.Host)},
		},
		GRPCServer: hashiplug.DefaultGRPCServer,
		Logger:     config.Logger,
	})
}

// GRPCPlugin implements go-plugin's Plugin interface for gRPC. Impl is
// only used on the host process side.
type GRPCPlugin struct {
	hashiplug.NetRPCUnsupportedPlugin
	Impl exthostv1.ExtensionHostServer
}

// GRPCServer registers the host server (called by the host process).
func (p *GRPCPlugin) GRPCServer(_ *hashiplug.GRPCBroker, s *grpc.Server) error {
	if p.Impl == nil {
		return errors.New("hostsdk: host implementation is nil")
	}
	exthostv1.RegisterExtensionHostServer(s, p.Impl)
	return nil
}

// GRPCClient returns a host client (called by the orchestrator).
func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *hashiplug.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return exthostv1.NewExtensionHostClient(c), nil
}
