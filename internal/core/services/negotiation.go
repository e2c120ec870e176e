package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/observable"
	"fluxx/pkg/tracing"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Session is one negotiated peer connection for a single match. A Session
// is only ever mutated by the NegotiationEngine on the controller's event
// loop; callbacks carry the *Session they belong to so late events for a
// replaced session can be recognised and dropped.
type Session struct {
	id        domain.SessionID
	match     domain.Match
	pc        ports.PeerConnection
	createdAt time.Time

	signaling            domain.SignalingState
	iceState             webrtc.ICEConnectionState
	connState            domain.ConnectionState
	remoteDescriptionSet bool
	pending              []webrtc.ICECandidateInit

	remote           *domain.TrackSet
	remoteReady      bool
	restartAttempted bool
	closed           bool
}

func newSession(match domain.Match) *Session {
	return &Session{
		id:        domain.SessionID(uuid.New().String()),
		match:     match,
		createdAt: time.Now(),
		signaling: domain.SignalingStable,
		iceState:  webrtc.ICEConnectionStateNew,
		connState: domain.ConnectionNew,
		remote:    domain.NewTrackSet(),
	}
}

// ID returns the locally generated session identifier.
func (s *Session) ID() domain.SessionID { return s.id }

// RoomID returns the room every signal for this session must carry.
func (s *Session) RoomID() domain.RoomID { return s.match.RoomID }

// Role reports whether this side sends or answers the first offer.
func (s *Session) Role() domain.Role { return s.match.Role }

func (s *Session) Match() domain.Match { return s.match }

// SignalingState returns the offer/answer state of the peer connection.
func (s *Session) SignalingState() domain.SignalingState { return s.signaling }

// ConnectionState returns the aggregate connection state.
func (s *Session) ConnectionState() domain.ConnectionState { return s.connState }

// ICEConnectionState returns the last ICE state reported by the peer connection.
func (s *Session) ICEConnectionState() webrtc.ICEConnectionState {
	return s.iceState
}

// RemoteDescriptionSet reports whether candidates can be applied directly.
func (s *Session) RemoteDescriptionSet() bool { return s.remoteDescriptionSet }

// PendingCandidates returns how many remote candidates wait for the
// remote description.
func (s *Session) PendingCandidates() int { return len(s.pending) }

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// NegotiationEngine owns at most one Session and drives its offer/answer
// and ICE exchange over the signaling transport.
type NegotiationEngine struct {
	factory     ports.PeerConnectionFactory
	capture     ports.MediaCapture
	transport   ports.SignalTransport
	constraints ports.Constraints
	metrics     Metrics
	logger      *zap.SugaredLogger

	active *Session

	// dispatch hands a peer event to whoever serialises engine access.
	dispatch func(s *Session, ev ports.PeerEvent)
	// afterAcquire runs once each time capture produces a fresh track set.
	afterAcquire func()

	localTracks  *observable.Value[domain.TrackSnapshot]
	remoteTracks *observable.Value[domain.TrackSnapshot]
	connState    *observable.Value[domain.ConnectionState]
	remoteReady  *observable.Value[domain.SessionID]
}

func NewNegotiationEngine(
	factory ports.PeerConnectionFactory,
	capture ports.MediaCapture,
	transport ports.SignalTransport,
	constraints ports.Constraints,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *NegotiationEngine {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	e := &NegotiationEngine{
		factory:      factory,
		capture:      capture,
		transport:    transport,
		constraints:  constraints,
		metrics:      metrics,
		logger:       logger,
		localTracks:  observable.NewValue(domain.TrackSnapshot{}),
		remoteTracks: observable.NewValue(domain.TrackSnapshot{}),
		connState:    observable.NewValue(domain.ConnectionNew),
		remoteReady:  observable.NewValue(domain.SessionID("")),
	}
	e.dispatch = func(s *Session, ev ports.PeerEvent) {
		e.logger.Warnw("Peer event dropped, no dispatcher installed", "session_id", s.id, "kind", ev.Kind)
	}
	return e
}

// Active returns the live session, or nil.
func (e *NegotiationEngine) Active() *Session { return e.active }

// CreateSession tears down any previous session, makes sure local capture
// exists and allocates a fresh peer connection for match. The initiator
// sends its offer before CreateSession returns.
func (e *NegotiationEngine) CreateSession(ctx context.Context, match domain.Match) (*Session, error) {
	e.Teardown()

	tracks, err := e.ensureCapture(ctx)
	if err != nil {
		return nil, err
	}

	s := newSession(match)
	ctx, span := tracing.TraceNegotiation(ctx, "create_session", string(s.id), string(match.RoomID), string(match.Role))
	defer span.End()

	pc, err := e.factory.NewPeerConnection(func(ev ports.PeerEvent) { e.dispatch(s, ev) })
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("%w: create peer connection: %w", domain.ErrNegotiation, err)
	}
	s.pc = pc

	for _, t := range tracks {
		if err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			tracing.RecordError(ctx, err)
			return nil, fmt.Errorf("%w: add %s track: %w", domain.ErrNegotiation, t.Kind(), err)
		}
	}

	e.active = s
	e.setConnectionState(s, domain.ConnectionConnecting)
	e.metrics.SessionCreated(match.Role)
	e.logger.Infow("Session created",
		"session_id", s.id,
		"room_id", match.RoomID,
		"partner_id", match.PartnerID,
		"role", match.Role,
	)

	if match.Role == domain.RoleInitiator {
		if err := e.sendOffer(ctx, s, false); err != nil {
			tracing.RecordError(ctx, err)
			e.teardown(s)
			return nil, err
		}
	}
	return s, nil
}

func (e *NegotiationEngine) ensureCapture(ctx context.Context) ([]ports.LocalTrack, error) {
	if tracks := e.capture.Tracks(); len(tracks) > 0 {
		return tracks, nil
	}

	tracks, err := e.capture.Acquire(ctx, e.constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCaptureUnavailable, err)
	}

	set := domain.NewTrackSet()
	for _, t := range tracks {
		set.Put(t)
	}
	e.localTracks.Set(set.Snapshot())
	if e.afterAcquire != nil {
		e.afterAcquire()
	}
	return tracks, nil
}

func (e *NegotiationEngine) sendOffer(ctx context.Context, s *Session, iceRestart bool) error {
	offer, err := s.pc.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", domain.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %w", domain.ErrNegotiation, err)
	}
	s.signaling = domain.SignalingHaveLocalOffer

	e.send(ctx, s, domain.MsgOffer, domain.DescriptionPayload{Description: offer})
	return nil
}

// HandleOffer accepts a remote offer for room, creating a responder session
// when none exists. Glare is resolved by rolling back the local offer.
func (e *NegotiationEngine) HandleOffer(ctx context.Context, room domain.RoomID, desc webrtc.SessionDescription) error {
	s := e.active
	if s == nil {
		if room == "" {
			e.metrics.SignalDiscarded(domain.MsgOffer, "no_room")
			return nil
		}
		var err error
		s, err = e.CreateSession(ctx, domain.Match{RoomID: room, Role: domain.RoleResponder, MatchedAt: time.Now()})
		if err != nil {
			return err
		}
	}
	if !e.owns(s, room, domain.MsgOffer) {
		return nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "handle_offer", string(s.id), string(room), string(s.match.Role))
	defer span.End()

	if s.signaling != domain.SignalingStable {
		e.logger.Infow("Glare detected, rolling back",
			"session_id", s.id,
			"signaling_state", s.signaling,
		)
		if err := e.rollback(s); err != nil {
			tracing.RecordError(ctx, err)
			e.teardown(s)
			return err
		}
	}

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		tracing.RecordError(ctx, err)
		e.teardown(s)
		return fmt.Errorf("%w: set remote offer: %w", domain.ErrNegotiation, err)
	}
	s.signaling = domain.SignalingHaveRemoteOffer
	s.remoteDescriptionSet = true
	e.flushCandidates(s)

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		tracing.RecordError(ctx, err)
		e.teardown(s)
		return fmt.Errorf("%w: create answer: %w", domain.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		tracing.RecordError(ctx, err)
		e.teardown(s)
		return fmt.Errorf("%w: set local answer: %w", domain.ErrNegotiation, err)
	}
	s.signaling = domain.SignalingStable

	e.send(ctx, s, domain.MsgAnswer, domain.DescriptionPayload{Description: answer})
	return nil
}

func (e *NegotiationEngine) rollback(s *Session) error {
	rb := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	var err error
	switch s.signaling {
	case domain.SignalingHaveLocalOffer:
		err = s.pc.SetLocalDescription(rb)
	case domain.SignalingHaveRemoteOffer:
		err = s.pc.SetRemoteDescription(rb)
	default:
		err = fmt.Errorf("cannot roll back from %s", s.signaling)
	}
	if err != nil {
		return fmt.Errorf("%w: rollback: %w", domain.ErrNegotiation, err)
	}
	s.signaling = domain.SignalingStable
	return nil
}

// HandleAnswer applies the partner's answer. Answers outside
// have-local-offer are stale and discarded.
func (e *NegotiationEngine) HandleAnswer(ctx context.Context, room domain.RoomID, desc webrtc.SessionDescription) error {
	s := e.active
	if !e.owns(s, room, domain.MsgAnswer) {
		return nil
	}

	switch s.signaling {
	case domain.SignalingHaveLocalOffer:
	case domain.SignalingStable:
		e.logger.Debugw("Duplicate answer discarded", "session_id", s.id)
		e.metrics.SignalDiscarded(domain.MsgAnswer, "duplicate")
		return nil
	default:
		e.logger.Warnw("Answer discarded",
			"session_id", s.id,
			"signaling_state", s.signaling,
			"error", domain.ErrStaleMessage,
		)
		e.metrics.SignalDiscarded(domain.MsgAnswer, "unexpected_state")
		return nil
	}

	ctx, span := tracing.TraceNegotiation(ctx, "handle_answer", string(s.id), string(room), string(s.match.Role))
	defer span.End()

	if err := s.pc.SetRemoteDescription(desc); err != nil {
		tracing.RecordError(ctx, err)
		e.teardown(s)
		return fmt.Errorf("%w: set remote answer: %w", domain.ErrNegotiation, err)
	}
	s.signaling = domain.SignalingStable
	s.remoteDescriptionSet = true
	e.flushCandidates(s)
	return nil
}

// HandleCandidate applies a remote ICE candidate, or queues it until the
// remote description has been set.
func (e *NegotiationEngine) HandleCandidate(ctx context.Context, room domain.RoomID, candidate webrtc.ICECandidateInit) error {
	s := e.active
	if !e.owns(s, room, domain.MsgICECandidate) {
		return nil
	}

	if !s.remoteDescriptionSet {
		s.pending = append(s.pending, candidate)
		e.logger.Debugw("ICE candidate queued", "session_id", s.id, "pending", len(s.pending))
		return nil
	}
	e.applyCandidate(s, candidate, false)
	return nil
}

func (e *NegotiationEngine) flushCandidates(s *Session) {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		e.applyCandidate(s, c, true)
	}
}

func (e *NegotiationEngine) applyCandidate(s *Session, c webrtc.ICECandidateInit, buffered bool) {
	if err := s.pc.AddICECandidate(c); err != nil {
		e.logger.Warnw("ICE candidate rejected", "session_id", s.id, "error", err)
		e.metrics.CandidateRejected()
		return
	}
	e.metrics.CandidateApplied(buffered)
}

// HandlePeerEvent processes one callback from s's peer connection. Events
// for sessions that are no longer active are dropped. A non-nil error means
// the session was torn down and needs a decision from the caller.
func (e *NegotiationEngine) HandlePeerEvent(ctx context.Context, s *Session, ev ports.PeerEvent) error {
	if s == nil || s != e.active || s.closed {
		if ev.Track != nil {
			ev.Track.Stop()
		}
		e.logger.Debugw("Event for inactive session dropped", "kind", ev.Kind)
		return nil
	}

	switch ev.Kind {
	case ports.PeerEventICECandidate:
		if ev.Candidate == nil {
			e.logger.Debugw("ICE gathering complete", "session_id", s.id)
			return nil
		}
		e.send(ctx, s, domain.MsgICECandidate, domain.CandidatePayload{Candidate: *ev.Candidate})

	case ports.PeerEventTrack:
		e.attachRemoteTrack(s, ev.Track)

	case ports.PeerEventICEConnectionState:
		s.iceState = ev.ICEState
		e.logger.Debugw("ICE connection state changed", "session_id", s.id, "state", ev.ICEState.String())

	case ports.PeerEventConnectionState:
		return e.onConnectionState(ctx, s, ev.ConnectionState)
	}
	return nil
}

func (e *NegotiationEngine) attachRemoteTrack(s *Session, t domain.Track) {
	if t == nil {
		return
	}
	if prev := s.remote.Put(t); prev != nil && prev != t {
		prev.Stop()
	}
	e.remoteTracks.Set(s.remote.Snapshot())
	e.logger.Infow("Remote track attached", "session_id", s.id, "kind", t.Kind(), "track_id", t.ID())

	if !s.remoteReady {
		s.remoteReady = true
		e.remoteReady.Set(s.id)
	}
}

func (e *NegotiationEngine) onConnectionState(ctx context.Context, s *Session, state webrtc.PeerConnectionState) error {
	var next domain.ConnectionState
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		next = domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		next = domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		next = domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		next = domain.ConnectionFailed
	default:
		return nil
	}
	e.setConnectionState(s, next)

	if next != domain.ConnectionFailed {
		return nil
	}

	if s.restartAttempted {
		e.teardown(s)
		return fmt.Errorf("%w: connection failed after ICE restart", domain.ErrNegotiation)
	}
	s.restartAttempted = true

	ctx, span := tracing.TraceNegotiation(ctx, "ice_restart", string(s.id), string(s.match.RoomID), string(s.match.Role))
	defer span.End()

	e.logger.Infow("Connection failed, restarting ICE", "session_id", s.id)
	if err := e.sendOffer(ctx, s, true); err != nil {
		e.metrics.ICERestart(false)
		tracing.RecordError(ctx, err)
		e.teardown(s)
		return fmt.Errorf("ice restart: %w", err)
	}
	e.metrics.ICERestart(true)
	return nil
}

func (e *NegotiationEngine) setConnectionState(s *Session, state domain.ConnectionState) {
	if s.connState == state {
		return
	}
	s.connState = state
	e.connState.Set(state)
	e.metrics.ConnectionState(state)
}

// Teardown closes the active session. Local capture is left running.
func (e *NegotiationEngine) Teardown() {
	e.teardown(e.active)
}

func (e *NegotiationEngine) teardown(s *Session) {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	s.signaling = domain.SignalingClosed
	s.connState = domain.ConnectionClosed
	s.pending = nil
	s.remoteDescriptionSet = false
	s.remote.StopAll()

	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			e.logger.Warnw("Failed to close peer connection", "session_id", s.id, "error", err)
		}
	}

	if e.active == s {
		e.active = nil
		e.remoteTracks.Set(domain.TrackSnapshot{})
		e.remoteReady.Set("")
		e.connState.Set(domain.ConnectionClosed)
	}
	e.metrics.SessionClosed()
	e.logger.Infow("Session torn down", "session_id", s.id, "room_id", s.match.RoomID)
}

// ReleaseCapture stops local capture. The next session acquires it again.
func (e *NegotiationEngine) ReleaseCapture() {
	e.capture.Release()
	e.localTracks.Set(domain.TrackSnapshot{})
}

func (e *NegotiationEngine) owns(s *Session, room domain.RoomID, t domain.MessageType) bool {
	if s == nil {
		e.logger.Debugw("Signal without session discarded", "type", t, "room_id", room)
		e.metrics.SignalDiscarded(t, "no_session")
		return false
	}
	if room != s.match.RoomID {
		e.logger.Debugw("Signal for other room discarded", "type", t, "room_id", room, "session_room_id", s.match.RoomID)
		e.metrics.SignalDiscarded(t, "other_room")
		return false
	}
	return true
}

func (e *NegotiationEngine) send(ctx context.Context, s *Session, t domain.MessageType, payload interface{}) {
	msg, err := domain.NewMessage(t, s.match.RoomID, payload)
	if err == nil {
		err = e.transport.Send(ctx, msg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warnw("Failed to send signal", "session_id", s.id, "type", t, "error", err)
	}
}
