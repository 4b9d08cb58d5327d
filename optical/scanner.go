// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package optical

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// StreamScanner adapts an existing channel of decoded strings into a
// Scanner. Used when line input is already being multiplexed elsewhere
// (the CLI reads stdin once and routes lines here) and by tests.
type StreamScanner struct {
	Tokens <-chan string
}

// Scan implements Scanner.
func (s *StreamScanner) Scan(ctx context.Context) (<-chan string, error) {
	return s.Tokens, nil
}

// CommandScanner runs an external optical-code decoder and streams its
// stdout lines as tokens. The command is expected to print one decoded
// string per line and keep running until its input closes (zbarcam
// --raw behaves this way).
type CommandScanner struct {
	// Command is the argv of the decoder process.
	Command []string

	// Logger receives decoder lifecycle messages. Required.
	Logger *slog.Logger
}

// Scan implements Scanner. The decoder process is terminated when ctx
// is cancelled; its exit closes the returned channel.
func (s *CommandScanner) Scan(ctx context.Context) (<-chan string, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("no scan command configured")
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting decoder %s: %w", s.Command[0], err)
	}
	s.Logger.Info("decoder started", "command", strings.Join(s.Command, " "))

	tokens := make(chan string)
	go func() {
		defer close(tokens)
		lines := bufio.NewScanner(stdout)
		for lines.Scan() {
			line := strings.TrimSpace(lines.Text())
			if line == "" {
				continue
			}
			select {
			case tokens <- line:
			case <-ctx.Done():
				// The decoder is being killed; keep draining until EOF
				// so Wait can reap it.
			}
		}
		if err := lines.Err(); err != nil {
			s.Logger.Warn("reading decoder output", "error", err)
		}
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.Logger.Warn("decoder exited", "error", err)
		}
	}()
	return tokens, nil
}
