// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package goplugin

import (
	hashiplug "github.com/hashicorp/go-plugin"

	"github.com/holomush/exthost/pkg/hostsdk"
)

// HandshakeConfig is imported from hostsdk to ensure the orchestrator and
// host processes use identical configuration. Do not define locally.
var HandshakeConfig = hostsdk.HandshakeConfig

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]hashiplug.Plugin{
	hostsdk.PluginName: &hostsdk.GRPCPlugin{},
}
