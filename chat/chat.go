// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat frames text messages over an established channel.
//
// Messages travel as newline-delimited JSON envelopes with short keys to
// keep frames small. Unknown envelope types are skipped on receipt so
// future envelope kinds do not break older builds.
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/glyphlink/glyphlink/lib/clock"
)

// ErrMessageTooLong reports a message above the configured length limit,
// outbound or inbound.
var ErrMessageTooLong = errors.New("message too long")

// TypeMessage is the envelope type of an ordinary text message.
const TypeMessage = "m"

// Envelope is one framed chat datum.
type Envelope struct {
	// Type discriminates envelope kinds; see TypeMessage.
	Type string `json:"t"`

	// Text is the message body.
	Text string `json:"d"`

	// SentAt is the sender's clock at send time, in Unix milliseconds.
	// Informational only; no ordering logic depends on it.
	SentAt int64 `json:"ts"`
}

// Channel frames chat messages over a stream. Send is safe for
// concurrent use; Receive must be called from one goroutine.
type Channel struct {
	decoder *json.Decoder
	maxLen  int
	clk     clock.Clock

	writeMu sync.Mutex
	encoder *json.Encoder
}

// NewChannel wraps an established stream. maxLen bounds message length
// in runes, both directions.
func NewChannel(stream io.ReadWriter, maxLen int, clk clock.Clock) *Channel {
	return &Channel{
		encoder: json.NewEncoder(stream),
		decoder: json.NewDecoder(stream),
		maxLen:  maxLen,
		clk:     clk,
	}
}

// Send frames and writes one text message.
func (c *Channel) Send(text string) error {
	if utf8.RuneCountInString(text) > c.maxLen {
		return fmt.Errorf("%w: %d runes, limit %d", ErrMessageTooLong, utf8.RuneCountInString(text), c.maxLen)
	}
	envelope := Envelope{
		Type:   TypeMessage,
		Text:   text,
		SentAt: c.clk.Now().UnixMilli(),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.encoder.Encode(envelope); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Receive blocks until the next text message arrives. Envelopes of
// unknown type are skipped. An inbound message above the length limit is
// an error: the peer is violating the negotiated bound.
func (c *Channel) Receive() (Envelope, error) {
	for {
		var envelope Envelope
		if err := c.decoder.Decode(&envelope); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Envelope{}, io.EOF
			}
			return Envelope{}, fmt.Errorf("reading message: %w", err)
		}
		if envelope.Type != TypeMessage {
			continue
		}
		if utf8.RuneCountInString(envelope.Text) > c.maxLen {
			return Envelope{}, fmt.Errorf("%w: peer sent %d runes, limit %d",
				ErrMessageTooLong, utf8.RuneCountInString(envelope.Text), c.maxLen)
		}
		return envelope, nil
	}
}
