// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/glyphlink/glyphlink/codec"
	"github.com/glyphlink/glyphlink/handshake"
)

// Compile-time interface check.
var _ handshake.Transport = (*Peer)(nil)

// chatChannelLabel names the single data channel a session carries. The
// initiator creates it before the offer so pion includes a data channel
// section in the SDP; the responder adopts it on arrival.
const chatChannelLabel = "chat"

// Peer wraps one pion PeerConnection for one handshake session.
type Peer struct {
	connection *webrtc.PeerConnection
	logger     *slog.Logger

	events chan handshake.Event

	// conns carries the detached chat channel, at most one per session.
	conns chan net.Conn

	mu     sync.Mutex
	closed bool
}

// NewPeer creates a PeerConnection with the given ICE servers. Data
// channel detach is enabled so the chat channel can be used as a
// net.Conn, and loopback candidates are included so two processes on
// one machine can connect.
func NewPeer(iceConfig ICEConfig, logger *slog.Logger) (*Peer, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	connection, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: iceConfig.Servers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	peer := &Peer{
		connection: connection,
		logger:     logger,
		events:     make(chan handshake.Event, 64),
		conns:      make(chan net.Conn, 1),
	}

	connection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			peer.emit(handshake.Event{Kind: handshake.EventDiscoveryComplete})
			return
		}
		record, ok := candidateRecord(candidate)
		if !ok {
			peer.logger.Debug("skipping candidate the token cannot carry",
				"type", candidate.Typ.String(),
				"protocol", candidate.Protocol.String(),
			)
			return
		}
		peer.emit(handshake.Event{Kind: handshake.EventCandidate, Candidate: &record})
	})

	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		peer.logger.Debug("connection state change", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			peer.emit(handshake.Event{Kind: handshake.EventConnected})
		case webrtc.PeerConnectionStateDisconnected:
			peer.emit(handshake.Event{Kind: handshake.EventDisconnected})
		case webrtc.PeerConnectionStateFailed:
			peer.emit(handshake.Event{
				Kind: handshake.EventFailed,
				Err:  fmt.Errorf("peer connection reached %s", state),
			})
		case webrtc.PeerConnectionStateClosed:
			peer.emit(handshake.Event{Kind: handshake.EventClosed})
		}
	})

	// The responder side receives the chat channel the initiator created.
	connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		if channel.Label() != chatChannelLabel {
			peer.logger.Warn("ignoring unexpected data channel", "label", channel.Label())
			return
		}
		peer.adoptChannel(channel)
	})

	return peer, nil
}

// CreateOffer implements handshake.Transport. The chat channel is
// created first so the offer carries a data channel section.
func (p *Peer) CreateOffer(ctx context.Context) error {
	ordered := true
	channel, err := p.connection.CreateDataChannel(chatChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("creating chat channel: %w", err)
	}
	p.adoptChannel(channel)

	offer, err := p.connection.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := p.connection.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

// CreateAnswer implements handshake.Transport. Valid only after
// SetRemoteDescription has applied the offer.
func (p *Peer) CreateAnswer(ctx context.Context) error {
	answer, err := p.connection.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := p.connection.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	return nil
}

// LocalDescription implements handshake.Transport. pion keeps the
// description current as candidates are gathered, so the value read
// after discovery settles already carries them.
func (p *Peer) LocalDescription() (webrtc.SessionDescription, bool) {
	description := p.connection.LocalDescription()
	if description == nil {
		return webrtc.SessionDescription{}, false
	}
	return *description, true
}

// SetRemoteDescription implements handshake.Transport.
func (p *Peer) SetRemoteDescription(description webrtc.SessionDescription) error {
	return p.connection.SetRemoteDescription(description)
}

// Events implements handshake.Transport.
func (p *Peer) Events() <-chan handshake.Event { return p.events }

// Channel returns the detached chat channel once it is open. Call after
// the session reports establishment.
func (p *Peer) Channel(ctx context.Context) (net.Conn, error) {
	select {
	case conn := <-p.conns:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements handshake.Transport. Closing the PeerConnection ends
// the chat channel with it.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.connection.Close()
	close(p.events)
	return err
}

// adoptChannel detaches the chat channel when it opens and publishes it
// for the chat session, then signals establishment.
func (p *Peer) adoptChannel(channel *webrtc.DataChannel) {
	channel.OnOpen(func() {
		stream, err := channel.Detach()
		if err != nil {
			p.logger.Error("detaching chat channel", "error", err)
			p.emit(handshake.Event{
				Kind: handshake.EventFailed,
				Err:  fmt.Errorf("detaching chat channel: %w", err),
			})
			return
		}
		conn := NewChannelConn(stream, "local/"+channel.Label(), "peer/"+channel.Label())
		select {
		case p.conns <- conn:
			p.emit(handshake.Event{Kind: handshake.EventChannelOpen})
		default:
			// A second chat channel has no consumer.
			conn.Close()
		}
	})
}

// emit delivers an event without blocking pion's callback goroutines.
func (p *Peer) emit(event handshake.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- event:
	default:
		p.logger.Warn("dropping transport event, consumer is behind",
			"kind", event.Kind.String())
	}
}

// candidateRecord converts a pion candidate to the compact form the
// token carries. Only UDP host and server-reflexive candidates survive
// the trip.
func candidateRecord(candidate *webrtc.ICECandidate) (codec.CandidateRecord, bool) {
	if candidate.Protocol != webrtc.ICEProtocolUDP {
		return codec.CandidateRecord{}, false
	}
	var kind codec.CandidateKind
	switch candidate.Typ {
	case webrtc.ICECandidateTypeHost:
		kind = codec.KindHost
	case webrtc.ICECandidateTypeSrflx:
		kind = codec.KindServerReflexive
	default:
		return codec.CandidateRecord{}, false
	}
	return codec.CandidateRecord{
		Foundation: candidate.Foundation,
		Address:    candidate.Address,
		Port:       int(candidate.Port),
		Kind:       kind,
	}, true
}
