// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec compresses a WebRTC session description into a token small
// enough to fit in a single scannable optical code, and reconstructs a
// standards-compliant description from such a token.
//
// The transformation is deliberately lossy. [Encode] extracts only the
// fields required to resume a data-channel session — ICE credentials, the
// DTLS certificate fingerprint, a role hint, and a bounded subset of host
// and server-reflexive candidates — and discards everything else. [Decode]
// re-synthesizes the boilerplate the transport stack expects around those
// fields. decode(encode(d)) is therefore not equal to d, but it is accepted
// by pion as a valid description of the requested kind and preserves the
// credentials, fingerprint, and candidate subset verbatim.
//
// Token wire format: a one-character tag ('Z' for a deflate-compressed
// body, 'B' for a raw body) followed by standard base64. A token whose
// leading byte is neither tag is treated as an unprefixed base64 payload
// from older builds. Tag values and the structured body layout are protocol
// constants — changing them breaks tokens already in circulation.
//
// Failures are reported through three sentinel errors: a description
// missing required fields fails [Encode] with [ErrMalformedDescription];
// a token whose framing cannot be reversed fails [Decode] with
// [ErrInvalidToken]; a token with a recognized tag but an out-of-bounds
// structured body fails with [ErrUnsupportedToken]. Decode never returns
// a partially populated description.
package codec
