// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package handshake drives the two-role exchange that establishes a
// peer connection from scanned tokens.
//
// An [Orchestrator] owns at most one [Session] at a time; starting a new
// role tears the previous session down — its transport handle, event
// subscription, and pending timers — before the replacement is created.
// Each session runs a single event-loop goroutine: every wait (candidate
// discovery, an incoming scan, connection progress) is a channel select,
// and every deadline is a cancellable timer on an injected clock.
//
// The state sequence is idle → creating-description →
// discovering-candidates → ready-to-transmit → awaiting-remote →
// applying-remote → established, with failed reachable from any
// non-terminal state. The initiator enters at creating-description and
// scans an answer; the responder enters at awaiting-remote, applies the
// scanned offer, and then runs the same shape to produce its answer.
//
// Discovery ends on whichever comes first: the transport reports
// gathering complete, the wall-clock deadline elapses (a normal
// transition, not an error), or the accumulated candidate count reaches
// the configured cap. The operator may force the transition earlier, but
// only once a shorter fixed delay has passed.
//
// Error policy: a remote token that fails to decode or apply re-arms the
// scan surface and keeps all discovery state — the one retry path. A
// local description that cannot be encoded, or a transport-reported hard
// failure, is fatal to the attempt.
package handshake
