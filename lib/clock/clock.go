// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// The handshake state machine is driven by wall-clock deadlines (the
// candidate-discovery timeout, the forced-generate delay). Production
// code injects Real(); tests inject Fake() and advance time explicitly,
// which makes "the timeout fires at exactly the deadline" testable
// without sleeping.
package clock

import "time"

// Clock abstracts the time operations the handshake uses. Code that
// schedules or reads time accepts a Clock instead of calling the time
// package directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d elapses. If d <= 0, the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f. The returned Timer
	// cancels the pending call with Stop. If d <= 0, f runs
	// immediately.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer represents a scheduled AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the timer from firing. Returns true if the call stops
// the timer, false if it has already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
