// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package optical

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/glyphlink/glyphlink/lib/testutil"
)

func TestTerminalRenderer_EmitsCodeAndRawToken(t *testing.T) {
	var out strings.Builder
	renderer := &TerminalRenderer{Out: &out}
	if err := renderer.Render("ZeJxLTc4vLVGvKC3OyM9LBQ"); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	rendered := out.String()
	if !strings.Contains(rendered, "ZeJxLTc4vLVGvKC3OyM9LBQ") {
		t.Error("output does not include the raw token")
	}
	// The half-block QR drawing uses the upper-half-block rune.
	if !strings.ContainsRune(rendered, '▀') {
		t.Error("output does not look like a half-block QR code")
	}
}

func TestStreamScanner_PassesTokensThrough(t *testing.T) {
	tokens := make(chan string, 2)
	tokens <- "first"
	tokens <- "second"
	close(tokens)

	scanner := &StreamScanner{Tokens: tokens}
	out, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if got := testutil.RequireReceive(t, out, time.Second, "first token"); got != "first" {
		t.Errorf("token = %q, want first", got)
	}
	if got := testutil.RequireReceive(t, out, time.Second, "second token"); got != "second" {
		t.Errorf("token = %q, want second", got)
	}
	testutil.RequireClosed(t, out, time.Second, "token channel")
}

func TestCommandScanner_StreamsStdoutLines(t *testing.T) {
	scanner := &CommandScanner{
		Command: []string{"sh", "-c", "printf 'tok-one\\n\\n  tok-two  \\n'"},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	out, err := scanner.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if got := testutil.RequireReceive(t, out, 5*time.Second, "first line"); got != "tok-one" {
		t.Errorf("token = %q, want tok-one", got)
	}
	// Blank lines are skipped, surrounding whitespace is trimmed.
	if got := testutil.RequireReceive(t, out, 5*time.Second, "second line"); got != "tok-two" {
		t.Errorf("token = %q, want tok-two", got)
	}
	testutil.RequireClosed(t, out, 5*time.Second, "token channel")
}

func TestCommandScanner_EmptyCommandRejected(t *testing.T) {
	scanner := &CommandScanner{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if _, err := scanner.Scan(context.Background()); err == nil {
		t.Error("Scan with no command succeeded, want error")
	}
}
