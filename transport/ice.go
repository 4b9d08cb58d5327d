// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/pion/webrtc/v4"

// ICEConfig holds the ICE server set used during candidate discovery.
type ICEConfig struct {
	// Servers is the list of STUN servers to query for server-reflexive
	// candidates. Order matters: pion tries them in sequence. An empty
	// list yields host candidates only, which is enough for same-LAN
	// sessions.
	Servers []webrtc.ICEServer
}

// ICEConfigFromURLs builds an ICEConfig from plain STUN URLs as they
// appear in the configuration file ("stun:host:port"). An empty list
// returns a host-candidates-only config.
func ICEConfigFromURLs(urls []string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{{URLs: urls}},
	}
}
