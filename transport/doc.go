// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport wraps a pion WebRTC PeerConnection as the secure
// channel capability the handshake drives.
//
// One [Peer] backs one handshake session. Candidate discovery and
// connection lifecycle surface as events on a single channel, in arrival
// order. The chat data channel is detached from pion's message-oriented
// API and exposed as a stream-oriented net.Conn; SCTP handles
// fragmentation and reassembly underneath.
//
// Connection establishment uses vanilla ICE: candidates are accumulated
// into the local description before it is encoded, so the out-of-band
// exchange needs exactly one token in each direction and no trickle
// path.
package transport
