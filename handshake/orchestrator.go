// Copyright 2026 The Glyphlink Authors
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/glyphlink/glyphlink/codec"
	"github.com/glyphlink/glyphlink/lib/clock"
	"github.com/glyphlink/glyphlink/optical"
)

// ErrTransportFailure reports a hard failure from the transport
// capability. Fatal to the session; the transport's own negotiation is a
// black box whose internal retries are its own responsibility.
var ErrTransportFailure = errors.New("transport failure")

// Role selects which side of the exchange a session plays.
type Role int

const (
	// RoleInitiator creates the offer and scans the answer.
	RoleInitiator Role = iota

	// RoleResponder scans the offer and creates the answer.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// expectedKind returns the description kind this role scans for.
func (r Role) expectedKind() webrtc.SDPType {
	if r == RoleResponder {
		return webrtc.SDPTypeOffer
	}
	return webrtc.SDPTypeAnswer
}

// State is a session's position in the handshake.
type State int

const (
	StateIdle State = iota
	StateCreatingDescription
	StateDiscoveringCandidates
	StateReadyToTransmit
	StateAwaitingRemote
	StateApplyingRemote
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreatingDescription:
		return "creating-description"
	case StateDiscoveringCandidates:
		return "discovering-candidates"
	case StateReadyToTransmit:
		return "ready-to-transmit"
	case StateAwaitingRemote:
		return "awaiting-remote"
	case StateApplyingRemote:
		return "applying-remote"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes the orchestrator. Zero values take defaults.
type Config struct {
	// CandidateCap bounds both the discovery early-exit count and the
	// number of candidates encoded into the token.
	CandidateCap int

	// DiscoveryTimeout is the wall-clock deadline on candidate
	// discovery.
	DiscoveryTimeout time.Duration

	// ForceDelay is how long discovery must run before an operator
	// Force request is honored.
	ForceDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.CandidateCap == 0 {
		c.CandidateCap = codec.DefaultCandidateCap
	}
	if c.DiscoveryTimeout == 0 {
		c.DiscoveryTimeout = 5 * time.Second
	}
	if c.ForceDelay == 0 {
		c.ForceDelay = 1500 * time.Millisecond
	}
	return c
}

// Update is one user-visible session notification.
type Update struct {
	// State is the session state after the transition.
	State State

	// Err carries the cause of a recoverable rejection (a token that
	// failed to decode or apply) or, with StateFailed, the fatal cause.
	Err error

	// ForceAvailable is set on the notification that the operator
	// escape hatch for discovery has become usable.
	ForceAvailable bool
}

// Orchestrator creates and supervises handshake sessions. It enforces
// the one-active-session discipline: the transport capability and its
// event subscription belong to exactly one session, reassigned only
// through teardown-then-create.
type Orchestrator struct {
	newTransport func(ctx context.Context) (Transport, error)
	renderer     optical.Renderer
	scanner      optical.Scanner
	cfg          Config
	clk          clock.Clock
	logger       *slog.Logger

	mu      sync.Mutex
	current *Session
}

// New creates an Orchestrator. newTransport is invoked once per session.
func New(
	newTransport func(ctx context.Context) (Transport, error),
	renderer optical.Renderer,
	scanner optical.Scanner,
	cfg Config,
	clk clock.Clock,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		newTransport: newTransport,
		renderer:     renderer,
		scanner:      scanner,
		cfg:          cfg.withDefaults(),
		clk:          clk,
		logger:       logger,
	}
}

// Start tears down any existing session and begins a new one in the
// given role. The session runs until established and then monitors the
// connection; Close it (or cancel ctx) to end it.
func (o *Orchestrator) Start(ctx context.Context, role Role) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil {
		o.logger.Info("superseding active session", "role", o.current.role.String())
		o.current.Close()
		o.current = nil
	}

	transport, err := o.newTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		role:          role,
		transport:     transport,
		renderer:      o.renderer,
		scanner:       o.scanner,
		cfg:           o.cfg,
		clk:           o.clk,
		logger:        o.logger.With("role", role.String()),
		cancel:        cancel,
		done:          make(chan struct{}),
		updates:       make(chan Update, 64),
		forceRequests: make(chan struct{}, 1),
		state:         StateIdle,
	}
	o.current = session
	go session.run(sessionCtx)
	return session, nil
}

// Close tears down the active session, if any.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.current.Close()
		o.current = nil
	}
}

// Session is one handshake attempt. All mutation happens on the
// session's own event-loop goroutine; accessors are safe from any
// goroutine.
type Session struct {
	role      Role
	transport Transport
	renderer  optical.Renderer
	scanner   optical.Scanner
	cfg       Config
	clk       clock.Clock
	logger    *slog.Logger

	cancel        context.CancelFunc
	done          chan struct{}
	updates       chan Update
	forceRequests chan struct{}
	forceReady    atomic.Bool

	mu                sync.Mutex
	state             State
	candidates        []codec.CandidateRecord
	discoveryComplete bool
	discoveryStarted  time.Time
	channelOpened     time.Time
	failure           error
}

// Updates delivers state transitions and recoverable-error
// notifications. The channel is buffered; if a consumer falls far
// behind, the oldest notifications are dropped rather than blocking the
// session.
func (s *Session) Updates() <-chan Update { return s.updates }

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the fatal failure cause, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Candidates returns a snapshot of the candidates observed so far, in
// arrival order.
func (s *Session) Candidates() []codec.CandidateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]codec.CandidateRecord, len(s.candidates))
	copy(snapshot, s.candidates)
	return snapshot
}

// Opened returns the time the chat channel opened, if the session has
// been established.
func (s *Session) Opened() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelOpened, !s.channelOpened.IsZero()
}

// Force requests an early exit from candidate discovery. Honored only
// once the force delay has elapsed; earlier requests are ignored.
func (s *Session) Force() {
	select {
	case s.forceRequests <- struct{}{}:
	default:
	}
}

// Done is closed when the session's event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close cancels the session and waits for its event loop to exit. The
// transport, its event subscription, and any pending timers are released
// before Close returns.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Warn("closing transport", "error", err)
		}
	}()

	var err error
	switch s.role {
	case RoleResponder:
		err = s.runResponder(ctx)
	default:
		err = s.runInitiator(ctx)
	}

	switch {
	case ctx.Err() != nil:
		// Torn down, not failed.
	case err != nil:
		s.logger.Error("handshake failed", "error", err)
		s.setFailure(err)
	default:
		// Clean end of an established session: back to idle.
		s.setState(StateIdle)
	}
}

func (s *Session) runInitiator(ctx context.Context) error {
	s.setState(StateCreatingDescription)
	if err := s.transport.CreateOffer(ctx); err != nil {
		return fmt.Errorf("%w: creating offer: %v", ErrTransportFailure, err)
	}
	if err := s.discover(ctx); err != nil {
		return err
	}
	if err := s.transmit(); err != nil {
		return err
	}
	if err := s.applyRemote(ctx); err != nil {
		return err
	}
	return s.awaitEstablished(ctx)
}

func (s *Session) runResponder(ctx context.Context) error {
	if err := s.applyRemote(ctx); err != nil {
		return err
	}
	s.setState(StateCreatingDescription)
	if err := s.transport.CreateAnswer(ctx); err != nil {
		return fmt.Errorf("%w: creating answer: %v", ErrTransportFailure, err)
	}
	if err := s.discover(ctx); err != nil {
		return err
	}
	if err := s.transmit(); err != nil {
		return err
	}
	return s.awaitEstablished(ctx)
}

// discover accumulates candidates until the first of: the transport
// reports discovery complete, the deadline elapses (a normal transition),
// the candidate count reaches the cap, or an operator force arrives after
// the force delay. Both timers are cancelled on every exit path so a
// stale timer can never fire into a later state.
func (s *Session) discover(ctx context.Context) error {
	s.setState(StateDiscoveringCandidates)
	s.mu.Lock()
	s.discoveryStarted = s.clk.Now()
	s.mu.Unlock()

	deadline := make(chan struct{})
	deadlineTimer := s.clk.AfterFunc(s.cfg.DiscoveryTimeout, func() { close(deadline) })
	defer deadlineTimer.Stop()

	forceTimer := s.clk.AfterFunc(s.cfg.ForceDelay, func() {
		s.forceReady.Store(true)
		s.notify(Update{State: StateDiscoveringCandidates, ForceAvailable: true})
	})
	defer forceTimer.Stop()

	for {
		if len(s.Candidates()) >= s.cfg.CandidateCap {
			s.logger.Debug("candidate cap reached", "cap", s.cfg.CandidateCap)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadline:
			s.logger.Info("discovery deadline reached",
				"candidates", len(s.Candidates()),
				"timeout", s.cfg.DiscoveryTimeout,
			)
			return nil

		case <-s.forceRequests:
			if !s.forceReady.Load() {
				s.logger.Debug("force requested before it is available, ignored")
				continue
			}
			s.logger.Info("discovery forced", "candidates", len(s.Candidates()))
			return nil

		case event, ok := <-s.transport.Events():
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrTransportFailure)
			}
			if err := fatalEvent(event); err != nil {
				return err
			}
			switch event.Kind {
			case EventCandidate:
				s.appendCandidate(*event.Candidate)
			case EventDiscoveryComplete:
				s.mu.Lock()
				s.discoveryComplete = true
				s.mu.Unlock()
				s.logger.Debug("discovery complete", "candidates", len(s.Candidates()))
				return nil
			}
		}
	}
}

// transmit encodes the finalized local description and hands the token
// to the renderer. Encoding failure means the description lacks required
// fields — fatal to the session.
func (s *Session) transmit() error {
	s.setState(StateReadyToTransmit)

	description, ok := s.transport.LocalDescription()
	if !ok {
		return fmt.Errorf("%w: transport has no local description", codec.ErrMalformedDescription)
	}
	token, err := codec.Encode(description, s.cfg.CandidateCap)
	if err != nil {
		return fmt.Errorf("encoding local description: %w", err)
	}
	s.mu.Lock()
	discoveryElapsed := s.clk.Now().Sub(s.discoveryStarted)
	s.mu.Unlock()
	s.logger.Info("token ready",
		"size", len(token),
		"candidates", len(s.Candidates()),
		"discovery", discoveryElapsed,
	)
	if err := s.renderer.Render(token); err != nil {
		return fmt.Errorf("rendering token: %w", err)
	}
	return nil
}

// applyRemote waits for a scanned token, decodes it as the
// role-appropriate kind, and applies it. A token that fails to decode or
// apply is reported and the scan surface stays armed — discovery state
// is untouched, so the peer only needs to be re-scanned.
func (s *Session) applyRemote(ctx context.Context) error {
	s.setState(StateAwaitingRemote)

	tokens, err := s.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("arming scanner: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-s.transport.Events():
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrTransportFailure)
			}
			if err := fatalEvent(event); err != nil {
				return err
			}
			// Late candidates can still trickle in after the token was
			// rendered; record them for observability only.
			if event.Kind == EventCandidate {
				s.appendCandidate(*event.Candidate)
			}

		case token, ok := <-tokens:
			if !ok {
				return fmt.Errorf("scan source closed before a usable token arrived")
			}
			s.setState(StateApplyingRemote)
			description, err := codec.Decode(strings.TrimSpace(token), s.role.expectedKind())
			if err != nil {
				s.logger.Warn("rejected remote token", "error", err)
				s.notify(Update{State: StateAwaitingRemote, Err: err})
				s.setStateQuiet(StateAwaitingRemote)
				continue
			}
			if err := s.transport.SetRemoteDescription(description); err != nil {
				s.logger.Warn("transport rejected remote description", "error", err)
				s.notify(Update{State: StateAwaitingRemote, Err: err})
				s.setStateQuiet(StateAwaitingRemote)
				continue
			}
			s.logger.Info("remote description applied", "kind", s.role.expectedKind().String())
			return nil
		}
	}
}

// awaitEstablished waits for the chat channel to open, then monitors the
// connection until it ends.
func (s *Session) awaitEstablished(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.transport.Events():
			if !ok {
				return fmt.Errorf("%w: event stream closed", ErrTransportFailure)
			}
			if err := fatalEvent(event); err != nil {
				return err
			}
			switch event.Kind {
			case EventConnected:
				s.logger.Info("transport connected")
			case EventChannelOpen:
				s.mu.Lock()
				s.channelOpened = s.clk.Now()
				s.mu.Unlock()
				s.setState(StateEstablished)
				return s.monitor(ctx)
			}
		}
	}
}

// monitor watches an established session for the end of the connection.
// A hard failure is an error; a disconnect or close is a clean end.
func (s *Session) monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.transport.Events():
			if !ok {
				return nil
			}
			switch event.Kind {
			case EventFailed:
				return fmt.Errorf("%w: %v", ErrTransportFailure, event.Err)
			case EventDisconnected, EventClosed:
				s.logger.Info("peer connection ended", "event", event.Kind.String())
				return nil
			}
		}
	}
}

// fatalEvent maps hard transport events to errors during the handshake.
func fatalEvent(event Event) error {
	switch event.Kind {
	case EventFailed:
		return fmt.Errorf("%w: %v", ErrTransportFailure, event.Err)
	case EventClosed:
		return fmt.Errorf("%w: connection closed during handshake", ErrTransportFailure)
	default:
		return nil
	}
}

func (s *Session) appendCandidate(candidate codec.CandidateRecord) {
	s.mu.Lock()
	s.candidates = append(s.candidates, candidate)
	count := len(s.candidates)
	s.mu.Unlock()
	s.logger.Debug("candidate discovered",
		"kind", candidate.Kind.String(),
		"address", candidate.Address,
		"count", count,
	)
}

func (s *Session) setState(next State) {
	s.setStateQuiet(next)
	s.notify(Update{State: next})
}

// setStateQuiet records a state without emitting an update; used when
// the transition has already been reported with an attached error.
func (s *Session) setStateQuiet(next State) {
	s.mu.Lock()
	previous := s.state
	s.state = next
	s.mu.Unlock()
	if previous != next {
		s.logger.Debug("state transition", "from", previous.String(), "to", next.String())
	}
}

func (s *Session) setFailure(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.failure = err
	s.mu.Unlock()
	s.notify(Update{State: StateFailed, Err: err})
}

// notify delivers an update without ever blocking the event loop. When
// the buffer is full the oldest update is discarded.
func (s *Session) notify(update Update) {
	for {
		select {
		case s.updates <- update:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
