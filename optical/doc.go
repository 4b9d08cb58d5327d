// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package optical moves tokens across the out-of-band visual channel.
//
// A [Renderer] shows the local token to the operator, a [Scanner]
// produces the strings decoded from the peer's display. The production
// renderer draws a QR code on the terminal; scanning is delegated to
// either standard input (the operator runs a decoder app on their phone
// and types or pastes the token) or an external decoder process whose
// stdout is read line by line.
package optical
