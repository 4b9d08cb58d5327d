// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/glyphlink/glyphlink/codec"
)

// Transport abstracts the secure peer-connection capability the
// orchestrator drives. The production implementation wraps a pion
// PeerConnection; tests use an in-process fake.
//
// Creating a description (offer or answer) also sets it locally and
// starts asynchronous candidate discovery; discovery progress and
// connection lifecycle arrive on the Events channel. The transport is
// exclusively owned by one session and is closed when that session ends.
type Transport interface {
	// CreateOffer creates the local offer, applies it, and begins
	// candidate discovery. Initiator role only.
	CreateOffer(ctx context.Context) error

	// CreateAnswer creates the local answer, applies it, and begins
	// candidate discovery. Valid only after a remote offer has been
	// applied. Responder role only.
	CreateAnswer(ctx context.Context) error

	// LocalDescription returns the current local description including
	// candidates discovered so far. ok is false when no description has
	// been created yet.
	LocalDescription() (description webrtc.SessionDescription, ok bool)

	// SetRemoteDescription applies the peer's reconstructed description.
	SetRemoteDescription(description webrtc.SessionDescription) error

	// Events delivers discovery and connection lifecycle events in
	// arrival order. The channel is closed when the transport shuts
	// down.
	Events() <-chan Event

	// Close releases the underlying connection and its subscriptions.
	Close() error
}

// EventKind discriminates transport events.
type EventKind int

const (
	// EventCandidate carries one newly discovered candidate of a kind
	// the codec can encode.
	EventCandidate EventKind = iota

	// EventDiscoveryComplete signals that candidate discovery finished.
	EventDiscoveryComplete

	// EventConnected signals that the peer connection reached its
	// connected state.
	EventConnected

	// EventChannelOpen signals that the chat data channel is open at
	// both ends. This is the establishment signal: it cannot fire until
	// the remote side has applied our description.
	EventChannelOpen

	// EventDisconnected signals a (possibly transient) loss of
	// connectivity.
	EventDisconnected

	// EventFailed signals a hard transport failure. Not retried.
	EventFailed

	// EventClosed signals that the underlying connection was closed.
	EventClosed
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventCandidate:
		return "candidate"
	case EventDiscoveryComplete:
		return "discovery-complete"
	case EventConnected:
		return "connected"
	case EventChannelOpen:
		return "channel-open"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one transport notification.
type Event struct {
	Kind EventKind

	// Candidate is set for EventCandidate.
	Candidate *codec.CandidateRecord

	// Err is set for EventFailed.
	Err error
}
