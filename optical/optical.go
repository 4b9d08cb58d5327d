// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package optical

import (
	"context"
	"fmt"
	"io"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer displays a token to the operator.
type Renderer interface {
	// Render shows the token. Called once per session, after candidate
	// discovery settles.
	Render(token string) error
}

// Scanner produces token strings decoded from the peer's display.
type Scanner interface {
	// Scan arms the scan surface and returns a channel of decoded
	// strings. The channel stays open across rejected tokens so a bad
	// scan only requires scanning again; it closes when the source is
	// exhausted or ctx is cancelled.
	Scan(ctx context.Context) (<-chan string, error)
}

// TerminalRenderer draws the token as a QR code made of half-block
// characters, followed by the raw token for manual copy when the
// terminal cannot show the code legibly.
type TerminalRenderer struct {
	Out io.Writer
}

// Render implements Renderer.
func (r *TerminalRenderer) Render(token string) error {
	code, err := qrcode.New(token, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("building QR code: %w", err)
	}
	if _, err := io.WriteString(r.Out, code.ToSmallString(false)); err != nil {
		return fmt.Errorf("writing QR code: %w", err)
	}
	if _, err := fmt.Fprintf(r.Out, "\n%s\n\n", token); err != nil {
		return fmt.Errorf("writing token: %w", err)
	}
	return nil
}
