// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/glyphlink/glyphlink/codec"
	"github.com/glyphlink/glyphlink/lib/clock"
	"github.com/glyphlink/glyphlink/lib/testutil"
	"github.com/glyphlink/glyphlink/optical"
)

// fakeTransport is an in-process Transport whose events the test emits
// by hand.
type fakeTransport struct {
	events chan Event

	mu         sync.Mutex
	local      webrtc.SessionDescription
	hasLocal   bool
	applied    []webrtc.SessionDescription
	rejections int

	closeOnce sync.Once
}

func newFakeTransport(local webrtc.SessionDescription) *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16), local: local}
}

func (f *fakeTransport) CreateOffer(ctx context.Context) error  { return f.create() }
func (f *fakeTransport) CreateAnswer(ctx context.Context) error { return f.create() }

func (f *fakeTransport) create() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hasLocal = true
	return nil
}

func (f *fakeTransport) LocalDescription() (webrtc.SessionDescription, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local, f.hasLocal
}

func (f *fakeTransport) SetRemoteDescription(description webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejections > 0 {
		f.rejections--
		return errors.New("remote description rejected")
	}
	f.applied = append(f.applied, description)
	return nil
}

func (f *fakeTransport) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

func (f *fakeTransport) appliedAt(i int) webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[i]
}

func (f *fakeTransport) setRejections(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = n
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeTransport) emit(event Event) { f.events <- event }

// fakeRenderer captures the token handed to it.
type fakeRenderer struct {
	tokens chan string
}

func (r *fakeRenderer) Render(token string) error {
	r.tokens <- token
	return nil
}

func testFingerprint() string {
	parts := make([]string, 32)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", i*11%256)
	}
	return strings.Join(parts, ":")
}

// sdpWith builds a minimal description carrying the fields the codec
// requires. An empty setup omits the a=setup line.
func sdpWith(setup string) string {
	lines := []string{
		"v=0",
		"o=- 123 2 IN IP4 127.0.0.1",
		"s=-",
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel",
		"a=ice-ufrag:frag",
		"a=ice-pwd:password12345678901234",
		"a=fingerprint:sha-256 " + testFingerprint(),
	}
	if setup != "" {
		lines = append(lines, "a=setup:"+setup)
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// tokenFor encodes a description of the given kind into a scannable
// token.
func tokenFor(t *testing.T, kind webrtc.SDPType, setup string) string {
	t.Helper()
	token, err := codec.Encode(webrtc.SessionDescription{Type: kind, SDP: sdpWith(setup)}, 4)
	if err != nil {
		t.Fatalf("encoding test token: %v", err)
	}
	return token
}

type harness struct {
	orchestrator *Orchestrator
	renderer     *fakeRenderer
	scans        chan string
	clk          *clock.FakeClock

	// local is the description every created transport reports; tests
	// may replace it before calling Start.
	local webrtc.SessionDescription

	// transport is the transport created by the most recent Start.
	transport *fakeTransport
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		renderer: &fakeRenderer{tokens: make(chan string, 1)},
		scans:    make(chan string, 4),
		clk:      clock.Fake(time.Unix(1_700_000_000, 0)),
		local: webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  sdpWith("actpass"),
		},
	}
	h.orchestrator = New(
		func(ctx context.Context) (Transport, error) {
			h.transport = newFakeTransport(h.local)
			return h.transport, nil
		},
		h.renderer,
		&optical.StreamScanner{Tokens: h.scans},
		cfg,
		h.clk,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	t.Cleanup(h.orchestrator.Close)
	return h
}

// waitForState consumes updates until one reports the wanted state.
func waitForState(t *testing.T, session *Session, want State) Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				t.Fatalf("updates closed before reaching %s", want)
			}
			if update.State == want {
				return update
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, currently %s", want, session.State())
		}
	}
}

// waitForError consumes updates until one carries an error.
func waitForError(t *testing.T, session *Session) Update {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case update, ok := <-session.Updates():
			if !ok {
				t.Fatal("updates closed before an error update arrived")
			}
			if update.Err != nil {
				return update
			}
		case <-deadline:
			t.Fatal("timed out waiting for an error update")
		}
	}
}

func hostCandidate(address string) Event {
	return Event{Kind: EventCandidate, Candidate: &codec.CandidateRecord{
		Foundation: "1",
		Address:    address,
		Port:       50000,
		Kind:       codec.KindHost,
	}}
}

func TestInitiator_HappyPathWithOneRetry(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 8})
	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateCreatingDescription)
	waitForState(t, session, StateDiscoveringCandidates)

	h.transport.emit(hostCandidate("192.168.1.5"))
	h.transport.emit(Event{Kind: EventDiscoveryComplete})

	waitForState(t, session, StateReadyToTransmit)
	token := testutil.RequireReceive(t, h.renderer.tokens, 5*time.Second, "rendered token")
	if _, err := codec.Decode(token, webrtc.SDPTypeOffer); err != nil {
		t.Fatalf("rendered token does not decode: %v", err)
	}
	waitForState(t, session, StateAwaitingRemote)

	// A garbage scan is rejected without losing session state.
	h.scans <- "!!! not a token !!!"
	update := waitForError(t, session)
	if !errors.Is(update.Err, codec.ErrInvalidToken) {
		t.Errorf("rejection error = %v, want ErrInvalidToken", update.Err)
	}
	if got := session.Candidates(); len(got) != 1 {
		t.Errorf("candidates after rejection = %d, want 1", len(got))
	}

	// The real answer establishes the session.
	h.scans <- tokenFor(t, webrtc.SDPTypeAnswer, "active")
	h.transport.emit(Event{Kind: EventConnected})
	h.transport.emit(Event{Kind: EventChannelOpen})
	waitForState(t, session, StateEstablished)

	if h.transport.appliedCount() != 1 {
		t.Errorf("applied descriptions = %d, want 1", h.transport.appliedCount())
	}
	if _, ok := session.Opened(); !ok {
		t.Error("Opened() reports no open time after establishment")
	}

	session.Close()
	testutil.RequireClosed(t, session.Done(), 5*time.Second, "session done")
}

func TestDiscovery_DeadlineFiresAtExactBoundary(t *testing.T) {
	h := newHarness(t, Config{
		CandidateCap:     99,
		DiscoveryTimeout: 5 * time.Second,
		ForceDelay:       1500 * time.Millisecond,
	})
	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateDiscoveringCandidates)
	h.clk.WaitForTimers(2)

	// One tick short of the deadline: the force window opens but
	// discovery keeps running.
	h.clk.Advance(4999 * time.Millisecond)
	update := waitForState(t, session, StateDiscoveringCandidates)
	if !update.ForceAvailable {
		t.Error("expected the force-available notification after the force delay")
	}
	if got := session.State(); got != StateDiscoveringCandidates {
		t.Fatalf("state before deadline = %s, want discovering-candidates", got)
	}

	// The final millisecond ends discovery with zero candidates.
	h.clk.Advance(1 * time.Millisecond)
	waitForState(t, session, StateReadyToTransmit)
	if got := session.Candidates(); len(got) != 0 {
		t.Errorf("candidates = %d, want 0", len(got))
	}
}

func TestDiscovery_CandidateCapExitsEarly(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 2})
	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateDiscoveringCandidates)
	h.transport.emit(hostCandidate("192.168.1.5"))
	h.transport.emit(hostCandidate("10.0.0.7"))

	// No clock advance: the cap alone ends discovery.
	waitForState(t, session, StateReadyToTransmit)
	if got := session.Candidates(); len(got) != 2 {
		t.Errorf("candidates = %d, want 2", len(got))
	}
}

func TestForce_IgnoredBeforeDelayHonoredAfter(t *testing.T) {
	h := newHarness(t, Config{
		CandidateCap:     99,
		DiscoveryTimeout: 30 * time.Second,
		ForceDelay:       1500 * time.Millisecond,
	})
	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateDiscoveringCandidates)
	h.clk.WaitForTimers(2)

	// Too early: the request must be swallowed.
	session.Force()
	time.Sleep(50 * time.Millisecond)
	if got := session.State(); got != StateDiscoveringCandidates {
		t.Fatalf("state after premature force = %s, want discovering-candidates", got)
	}

	h.clk.Advance(1500 * time.Millisecond)
	update := waitForState(t, session, StateDiscoveringCandidates)
	if !update.ForceAvailable {
		t.Fatal("expected force-available notification at the force delay")
	}

	session.Force()
	waitForState(t, session, StateReadyToTransmit)
}

func TestTransmit_UnencodableDescriptionIsFatal(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 8})
	// Strip the fingerprint so the codec must refuse the description.
	h.local.SDP = strings.ReplaceAll(
		h.local.SDP, "a=fingerprint:sha-256 "+testFingerprint()+"\r\n", "")

	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateDiscoveringCandidates)
	h.transport.emit(Event{Kind: EventDiscoveryComplete})

	update := waitForState(t, session, StateFailed)
	if !errors.Is(update.Err, codec.ErrMalformedDescription) {
		t.Errorf("failure = %v, want ErrMalformedDescription", update.Err)
	}
	if !errors.Is(session.Err(), codec.ErrMalformedDescription) {
		t.Errorf("session.Err() = %v, want ErrMalformedDescription", session.Err())
	}
}

func TestTransportFailure_IsFatal(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 8})
	session, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	waitForState(t, session, StateDiscoveringCandidates)
	h.transport.emit(Event{Kind: EventFailed, Err: errors.New("ice failed")})

	update := waitForState(t, session, StateFailed)
	if !errors.Is(update.Err, ErrTransportFailure) {
		t.Errorf("failure = %v, want ErrTransportFailure", update.Err)
	}
}

func TestResponder_AppliesOfferThenAnswers(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 1})
	session, err := h.orchestrator.Start(context.Background(), RoleResponder)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// The responder starts by waiting for the initiator's offer.
	waitForState(t, session, StateAwaitingRemote)
	h.scans <- tokenFor(t, webrtc.SDPTypeOffer, "actpass")
	waitForState(t, session, StateApplyingRemote)
	waitForState(t, session, StateCreatingDescription)
	waitForState(t, session, StateDiscoveringCandidates)

	if h.transport.appliedCount() != 1 {
		t.Fatalf("applied descriptions = %d, want 1", h.transport.appliedCount())
	}
	applied := h.transport.appliedAt(0)
	if applied.Type != webrtc.SDPTypeOffer {
		t.Errorf("applied kind = %s, want offer", applied.Type)
	}

	h.transport.emit(hostCandidate("192.168.1.9"))
	waitForState(t, session, StateReadyToTransmit)
	testutil.RequireReceive(t, h.renderer.tokens, 5*time.Second, "answer token")

	h.transport.emit(Event{Kind: EventChannelOpen})
	waitForState(t, session, StateEstablished)
}

func TestResponder_TransportRejectionIsRetryable(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 1})
	session, err := h.orchestrator.Start(context.Background(), RoleResponder)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	h.transport.setRejections(1)

	waitForState(t, session, StateAwaitingRemote)
	h.scans <- tokenFor(t, webrtc.SDPTypeOffer, "actpass")
	update := waitForError(t, session)
	if update.Err == nil || update.State != StateAwaitingRemote {
		t.Fatalf("rejection update = %+v, want awaiting-remote with error", update)
	}

	// Scanning again succeeds.
	h.scans <- tokenFor(t, webrtc.SDPTypeOffer, "actpass")
	waitForState(t, session, StateCreatingDescription)
}

func TestOrchestrator_StartSupersedesActiveSession(t *testing.T) {
	h := newHarness(t, Config{CandidateCap: 8})
	first, err := h.orchestrator.Start(context.Background(), RoleInitiator)
	if err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	waitForState(t, first, StateDiscoveringCandidates)

	second, err := h.orchestrator.Start(context.Background(), RoleResponder)
	if err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	testutil.RequireClosed(t, first.Done(), 5*time.Second, "superseded session")
	waitForState(t, second, StateAwaitingRemote)
}
