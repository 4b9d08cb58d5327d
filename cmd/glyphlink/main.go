// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// glyphlink establishes an encrypted peer-to-peer chat between two
// machines with no signaling server: each side's connection offer is
// squeezed into a compact token, shown as a QR code, and scanned by the
// other side.
//
//	glyphlink host     create a session and display the offer code
//	glyphlink join     scan a host's offer code and answer it
//	glyphlink decode   decode a token and print the rebuilt description
//	glyphlink version  print version information
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/glyphlink/glyphlink/chat"
	"github.com/glyphlink/glyphlink/codec"
	"github.com/glyphlink/glyphlink/handshake"
	"github.com/glyphlink/glyphlink/lib/clock"
	"github.com/glyphlink/glyphlink/lib/config"
	"github.com/glyphlink/glyphlink/lib/version"
	"github.com/glyphlink/glyphlink/optical"
	"github.com/glyphlink/glyphlink/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "glyphlink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var verbose bool
	var candidateCap int

	flagSet := pflag.NewFlagSet("glyphlink", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flagSet.IntVar(&candidateCap, "cap", 0, "override the candidate cap from the config")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("glyphlink")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printUsage(flagSet)
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printUsage(flagSet)
		return fmt.Errorf("no command given")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if candidateCap > 0 {
		cfg.CandidateCap = candidateCap
	}

	switch args[0] {
	case "host":
		return runSession(cfg, handshake.RoleInitiator, logger)
	case "join":
		return runSession(cfg, handshake.RoleResponder, logger)
	case "decode":
		return runDecode(args[1:])
	case "version":
		version.Print("glyphlink")
		return nil
	default:
		printUsage(flagSet)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprint(os.Stderr, `Usage: glyphlink [flags] <command>

Commands:
  host     create a session and display the offer code
  join     scan a host's offer code and answer it
  decode   decode a token and print the rebuilt description
  version  print version information

Flags:
`)
	fmt.Fprint(os.Stderr, flagSet.FlagUsages())
}

// runDecode prints the description a token reconstructs to. Useful for
// checking what a code on someone's screen actually says.
func runDecode(args []string) error {
	kind := webrtc.SDPTypeOffer
	var token string
	for _, arg := range args {
		switch arg {
		case "--answer":
			kind = webrtc.SDPTypeAnswer
		default:
			token = arg
		}
	}
	if token == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading token from stdin: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	description, err := codec.Decode(token, kind)
	if err != nil {
		return err
	}
	fmt.Printf("kind: %s\n\n%s", description.Type, description.SDP)
	return nil
}

// runSession drives one handshake to establishment and then runs the
// chat loop over the resulting channel.
func runSession(cfg config.Config, role handshake.Role, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	iceConfig := transport.ICEConfigFromURLs(cfg.ICEServers)

	// The orchestrator owns the Transport interface; keep the concrete
	// peer so the chat channel can be fetched after establishment.
	var peer *transport.Peer
	newTransport := func(ctx context.Context) (handshake.Transport, error) {
		created, err := transport.NewPeer(iceConfig, logger)
		if err != nil {
			return nil, err
		}
		peer = created
		return created, nil
	}

	// Standard input serves three duties in sequence: Enter forces an
	// early end to discovery, a pasted line is a scanned token, and
	// after establishment lines are chat messages.
	lines := make(chan string)
	go pumpLines(os.Stdin, lines)

	scanTokens := make(chan string, 1)
	var scanner optical.Scanner = &optical.StreamScanner{Tokens: scanTokens}
	if len(cfg.ScanCommand) > 0 {
		scanner = &optical.CommandScanner{Command: cfg.ScanCommand, Logger: logger}
	}

	orchestrator := handshake.New(
		newTransport,
		&optical.TerminalRenderer{Out: os.Stdout},
		scanner,
		handshake.Config{
			CandidateCap:     cfg.CandidateCap,
			DiscoveryTimeout: cfg.DiscoveryTimeout.Std(),
			ForceDelay:       cfg.ForceDelay.Std(),
		},
		clock.Real(),
		logger,
	)
	defer orchestrator.Close()

	session, err := orchestrator.Start(ctx, role)
	if err != nil {
		return err
	}

	state := handshake.StateIdle
	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				return nil
			}
			state = update.State
			announce(update, role)
			switch {
			case update.State == handshake.StateFailed:
				return update.Err
			case update.State == handshake.StateEstablished:
				return runChat(ctx, cfg, peer, session, lines)
			}

		case line, ok := <-lines:
			if !ok {
				// Stdin closed before the session settled.
				return nil
			}
			switch state {
			case handshake.StateDiscoveringCandidates:
				session.Force()
			case handshake.StateAwaitingRemote:
				select {
				case scanTokens <- line:
				default:
				}
			}

		case <-session.Done():
			if err := session.Err(); err != nil {
				return err
			}
			return nil
		}
	}
}

// announce prints user-facing progress for a session update.
func announce(update handshake.Update, role handshake.Role) {
	switch {
	case update.Err != nil && update.State != handshake.StateFailed:
		fmt.Fprintf(os.Stderr, "code rejected (%v), scan again\n", update.Err)
	case update.ForceAvailable:
		fmt.Fprintln(os.Stderr, "still gathering routes; press Enter to send the code now")
	case update.State == handshake.StateDiscoveringCandidates:
		fmt.Fprintln(os.Stderr, "gathering connection routes...")
	case update.State == handshake.StateReadyToTransmit:
		fmt.Fprintln(os.Stderr, "show this code to your peer:")
	case update.State == handshake.StateAwaitingRemote && role == handshake.RoleInitiator:
		fmt.Fprintln(os.Stderr, "scan your peer's answer code (or paste the token):")
	case update.State == handshake.StateAwaitingRemote:
		fmt.Fprintln(os.Stderr, "scan the host's code (or paste the token):")
	case update.State == handshake.StateEstablished:
		fmt.Fprintln(os.Stderr, "connected; type messages, Ctrl-D to leave")
	}
}

// runChat relays lines to the peer and prints what arrives until either
// side leaves.
func runChat(
	ctx context.Context,
	cfg config.Config,
	peer *transport.Peer,
	session *handshake.Session,
	lines <-chan string,
) error {
	conn, err := peer.Channel(ctx)
	if err != nil {
		return fmt.Errorf("fetching chat channel: %w", err)
	}
	channel := chat.NewChannel(conn, cfg.MaxMessageLength, clock.Real())

	received := make(chan chat.Envelope)
	readErr := make(chan error, 1)
	go func() {
		defer close(received)
		for {
			envelope, err := channel.Receive()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case received <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := channel.Send(line); err != nil {
				if errors.Is(err, chat.ErrMessageTooLong) {
					fmt.Fprintf(os.Stderr, "%v\n", err)
					continue
				}
				return err
			}

		case envelope, ok := <-received:
			if !ok {
				err := <-readErr
				if errors.Is(err, io.EOF) {
					fmt.Fprintln(os.Stderr, "peer left")
					return nil
				}
				return err
			}
			fmt.Printf("peer> %s\n", envelope.Text)

		case <-session.Done():
			if err := session.Err(); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "connection ended")
			return nil
		}
	}
}

// pumpLines feeds stdin lines into the channel and closes it on EOF.
func pumpLines(reader io.Reader, lines chan<- string) {
	defer close(lines)
	input := bufio.NewScanner(reader)
	input.Buffer(make([]byte, 64*1024), 64*1024)
	for input.Scan() {
		lines <- input.Text()
	}
}
