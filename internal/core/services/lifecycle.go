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

	"go.uber.org/zap"
)

type LifecycleConfig struct {
	// AutoRejoin requeues after a partner leaves, once RejoinDelay passes.
	// partner_disconnected may override it per event.
	AutoRejoin  bool
	RejoinDelay time.Duration
	// QueueDepth sizes the event channel.
	QueueDepth int
}

func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{
		AutoRejoin:  true,
		RejoinDelay: 2 * time.Second,
		QueueDepth:  128,
	}
}

// Observers is the read-only state a UI layer mirrors.
type Observers struct {
	LocalTracks     *observable.Value[domain.TrackSnapshot]
	RemoteTracks    *observable.Value[domain.TrackSnapshot]
	RemoteReady     *observable.Value[domain.SessionID]
	ConnectionState *observable.Value[domain.ConnectionState]
	QueueStatus     *observable.Value[domain.QueueStatus]
	QueuePosition   *observable.Value[int]
	Control         *observable.Value[domain.ControlState]
	Ban             *observable.Value[domain.Ban]
	LastError       *observable.Value[string]
}

var queueTransitions = map[domain.QueueStatus][]domain.QueueStatus{
	domain.QueueIdle:         {domain.QueueSearching},
	domain.QueueSearching:    {domain.QueueMatched, domain.QueueDisconnected},
	domain.QueueMatched:      {domain.QueueConnecting, domain.QueueSearching, domain.QueueDisconnected, domain.QueueFailed},
	domain.QueueConnecting:   {domain.QueueConnected, domain.QueueMatched, domain.QueueSearching, domain.QueueDisconnected, domain.QueueFailed},
	domain.QueueConnected:    {domain.QueueMatched, domain.QueueSearching, domain.QueueDisconnected, domain.QueueFailed},
	domain.QueueDisconnected: {domain.QueueSearching, domain.QueueMatched},
	domain.QueueFailed:       {domain.QueueSearching, domain.QueueDisconnected},
}

func canTransition(from, to domain.QueueStatus) bool {
	if to == domain.QueueIdle || from == to {
		return true
	}
	for _, s := range queueTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type loopEvent func(ctx context.Context)

// LifecycleController runs the matchmaking queue protocol and is the only
// goroutine that touches the NegotiationEngine. Transport messages, peer
// callbacks, timers and commands all arrive as events on one channel.
type LifecycleController struct {
	cfg       LifecycleConfig
	engine    *NegotiationEngine
	control   *ControlSurface
	transport ports.SignalTransport
	creds     ports.CredentialStore
	metrics   Metrics
	logger    *zap.SugaredLogger

	events  chan loopEvent
	stopped chan struct{}

	afterFunc func(d time.Duration, f func()) (stop func() bool)
	now       func() time.Time

	status    *observable.Value[domain.QueueStatus]
	position  *observable.Value[int]
	ban       *observable.Value[domain.Ban]
	lastError *observable.Value[string]

	rejoinGen  uint64
	stopRejoin func() bool
	matchedAt  time.Time

	// room is the room of the current match; abandoned holds the most
	// recent rooms this client left, oldest first.
	room      domain.RoomID
	abandoned []domain.RoomID
}

// maxAbandonedRooms bounds how many left rooms are remembered.
const maxAbandonedRooms = 32

// NewLifecycleController wires the controller to its engine and transport.
// Nothing happens until Run is started.
func NewLifecycleController(
	cfg LifecycleConfig,
	engine *NegotiationEngine,
	control *ControlSurface,
	transport ports.SignalTransport,
	creds ports.CredentialStore,
	metrics Metrics,
	logger *zap.SugaredLogger,
) *LifecycleController {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultLifecycleConfig().QueueDepth
	}
	c := &LifecycleController{
		cfg:       cfg,
		engine:    engine,
		control:   control,
		transport: transport,
		creds:     creds,
		metrics:   metrics,
		logger:    logger,
		events:    make(chan loopEvent, cfg.QueueDepth),
		stopped:   make(chan struct{}),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:       time.Now,
		status:    observable.NewValue(domain.QueueIdle),
		position:  observable.NewValue(0),
		ban:       observable.NewValue(domain.Ban{}),
		lastError: observable.NewValue(""),
	}
	engine.dispatch = c.postPeerEvent
	engine.afterAcquire = control.Apply
	return c
}

func (c *LifecycleController) Observers() Observers {
	return Observers{
		LocalTracks:     c.engine.localTracks,
		RemoteTracks:    c.engine.remoteTracks,
		RemoteReady:     c.engine.remoteReady,
		ConnectionState: c.engine.connState,
		QueueStatus:     c.status,
		QueuePosition:   c.position,
		Control:         c.control.State(),
		Ban:             c.ban,
		LastError:       c.lastError,
	}
}

// Run processes events until ctx is done. On exit the session and capture
// are released.
func (c *LifecycleController) Run(ctx context.Context) error {
	defer close(c.stopped)
	c.logger.Infow("Lifecycle controller started", "auto_rejoin", c.cfg.AutoRejoin, "rejoin_delay", c.cfg.RejoinDelay)

	for {
		select {
		case <-ctx.Done():
			c.cancelRejoin()
			c.dropSession()
			c.engine.ReleaseCapture()
			c.logger.Infow("Lifecycle controller stopped")
			return ctx.Err()
		case ev := <-c.events:
			ev(ctx)
		}
	}
}

func (c *LifecycleController) post(ev loopEvent) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// do runs fn on the loop and waits for its result.
func (c *LifecycleController) do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	select {
	case c.events <- func(loopCtx context.Context) { result <- fn(loopCtx) }:
	case <-c.stopped:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-c.stopped:
		return ErrControllerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrControllerStopped is returned by commands issued after Run exited.
var ErrControllerStopped = errors.New("lifecycle controller stopped")

// JoinQueue asks the server for a partner. It is only valid while idle and
// fails with domain.ErrBanned while a ban is in force.
func (c *LifecycleController) JoinQueue(ctx context.Context) error {
	return c.do(ctx, c.joinQueue)
}

// LeaveQueue drops the current match or queue place and returns to idle.
func (c *LifecycleController) LeaveQueue(ctx context.Context) error {
	return c.do(ctx, c.leaveQueue)
}

// NextMatch ends the current match and searches again in one step. If the
// server cannot be told, the status becomes disconnected and the search
// resumes once the transport reconnects.
func (c *LifecycleController) NextMatch(ctx context.Context) error {
	return c.do(ctx, c.nextMatch)
}

// EndChat tears everything down, releases capture and returns to idle.
func (c *LifecycleController) EndChat(ctx context.Context) error {
	return c.do(ctx, c.endChat)
}

// ToggleMute and ToggleCamera bypass the loop; they never touch signaling.
func (c *LifecycleController) ToggleMute() bool   { return c.control.ToggleMute() }
func (c *LifecycleController) ToggleCamera() bool { return c.control.ToggleCamera() }

// HandleSignal implements ports.SignalHandler.
func (c *LifecycleController) HandleSignal(msg domain.Message) {
	c.post(func(ctx context.Context) { c.handleSignal(ctx, msg) })
}

// HandleTransportStatus implements ports.SignalHandler.
func (c *LifecycleController) HandleTransportStatus(connected bool) {
	c.post(func(ctx context.Context) { c.handleTransportStatus(ctx, connected) })
}

func (c *LifecycleController) postPeerEvent(s *Session, ev ports.PeerEvent) {
	c.post(func(ctx context.Context) { c.handlePeerEvent(ctx, s, ev) })
}

func (c *LifecycleController) joinQueue(ctx context.Context) error {
	if st := c.status.Get(); st != domain.QueueIdle {
		return fmt.Errorf("%w: join queue from %s", domain.ErrInvalidTransition, st)
	}
	if b := c.ban.Get(); b.Reason != "" && b.Active(c.now()) {
		return domain.ErrBanned
	}
	return c.enterQueue(ctx, domain.MsgJoinQueue)
}

func (c *LifecycleController) enterQueue(ctx context.Context, t domain.MessageType) error {
	c.cancelRejoin()
	if err := c.sendControl(ctx, t); err != nil {
		return err
	}
	c.position.Set(0)
	c.setStatus(domain.QueueSearching)
	return nil
}

func (c *LifecycleController) leaveQueue(ctx context.Context) error {
	if st := c.status.Get(); st == domain.QueueIdle {
		return fmt.Errorf("%w: leave queue from %s", domain.ErrInvalidTransition, st)
	}
	c.cancelRejoin()
	c.dropSession()
	if err := c.sendControl(ctx, domain.MsgLeaveQueue); err != nil {
		c.logger.Warnw("Leave queue not delivered", "error", err)
	}
	c.position.Set(0)
	c.setStatus(domain.QueueIdle)
	return nil
}

func (c *LifecycleController) nextMatch(ctx context.Context) error {
	if st := c.status.Get(); st == domain.QueueIdle {
		return fmt.Errorf("%w: next match from %s", domain.ErrInvalidTransition, st)
	}
	c.dropSession()
	if err := c.enterQueue(ctx, domain.MsgNextMatch); err != nil {
		c.position.Set(0)
		c.setStatus(domain.QueueDisconnected)
		return err
	}
	return nil
}

func (c *LifecycleController) endChat(ctx context.Context) error {
	c.cancelRejoin()
	c.dropSession()
	c.engine.ReleaseCapture()
	if c.status.Get() != domain.QueueIdle {
		if err := c.sendControl(ctx, domain.MsgEndChat); err != nil {
			c.logger.Warnw("End chat not delivered", "error", err)
		}
	}
	c.position.Set(0)
	c.setStatus(domain.QueueIdle)
	return nil
}

func (c *LifecycleController) handleSignal(ctx context.Context, msg domain.Message) {
	ctx, span := tracing.TraceSignalMessage(ctx, string(msg.Type), "")
	defer span.End()

	if err := c.dispatchSignal(ctx, msg); err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Warnw("Signal handling failed", "type", msg.Type, "room_id", msg.RoomID, "error", err)
	}
}

func (c *LifecycleController) dispatchSignal(ctx context.Context, msg domain.Message) error {
	if roomScoped(msg.Type) && c.isAbandoned(msg.RoomID) {
		c.metrics.SignalDiscarded(msg.Type, "abandoned_room")
		c.logger.Debugw("Signal for abandoned room discarded", "type", msg.Type, "room_id", msg.RoomID)
		return nil
	}

	switch msg.Type {
	case domain.MsgMatchFound:
		var p domain.MatchFoundPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return c.onMatchFound(ctx, p)

	case domain.MsgOffer:
		var p domain.DescriptionPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return c.onOffer(ctx, msg.RoomID, p)

	case domain.MsgAnswer:
		var p domain.DescriptionPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if err := c.engine.HandleAnswer(ctx, msg.RoomID, p.Description); err != nil {
			c.onEngineError(ctx, err)
		}

	case domain.MsgICECandidate:
		var p domain.CandidatePayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		return c.engine.HandleCandidate(ctx, msg.RoomID, p.Candidate)

	case domain.MsgPartnerLeft, domain.MsgMatchEnded:
		var p domain.PartnerLeftPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		c.onPartnerGone(ctx, msg, c.cfg.AutoRejoin, p.Reason)

	case domain.MsgPartnerDisconnected:
		var p domain.PartnerDisconnectedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		autoRejoin := c.cfg.AutoRejoin
		if p.AutoRejoin != nil {
			autoRejoin = *p.AutoRejoin
		}
		c.onPartnerGone(ctx, msg, autoRejoin, p.Message)

	case domain.MsgQueueJoined:
		var p domain.QueueJoinedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if c.status.Get() == domain.QueueSearching {
			c.position.Set(p.Position)
		}

	case domain.MsgQueueLeft:
		if c.status.Get() == domain.QueueSearching {
			c.position.Set(0)
			c.setStatus(domain.QueueIdle)
		}

	case domain.MsgChatEnded:
		c.logger.Debugw("Chat end acknowledged")

	case domain.MsgBanned:
		var p domain.BannedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		c.onBanned(p)

	case domain.MsgError:
		var p domain.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		c.lastError.Set(p.Message)
		c.logger.Warnw("Server reported error", "message", p.Message)

	default:
		c.metrics.SignalDiscarded(msg.Type, "unknown_type")
		c.logger.Warnw("Unknown signal type", "type", msg.Type)
	}
	return nil
}

func (c *LifecycleController) onMatchFound(ctx context.Context, p domain.MatchFoundPayload) error {
	if c.status.Get() == domain.QueueIdle {
		c.metrics.SignalDiscarded(domain.MsgMatchFound, "idle")
		return nil
	}
	if !p.Role.Valid() || p.RoomID == "" {
		return fmt.Errorf("invalid match_found: room %q role %q", p.RoomID, p.Role)
	}

	c.cancelRejoin()
	c.dropSession()
	c.position.Set(0)
	c.setStatus(domain.QueueMatched)
	c.matchedAt = c.now()
	c.room = p.RoomID

	c.setStatus(domain.QueueConnecting)
	match := domain.Match{
		RoomID:      p.RoomID,
		PartnerID:   p.PartnerID,
		PartnerName: p.PartnerName,
		Role:        p.Role,
		MatchedAt:   c.matchedAt,
	}
	if _, err := c.engine.CreateSession(ctx, match); err != nil {
		c.onEngineError(ctx, err)
	}
	return nil
}

func (c *LifecycleController) onOffer(ctx context.Context, room domain.RoomID, p domain.DescriptionPayload) error {
	switch c.status.Get() {
	case domain.QueueIdle, domain.QueueDisconnected, domain.QueueFailed:
		c.metrics.SignalDiscarded(domain.MsgOffer, "not_matched")
		return nil
	case domain.QueueSearching:
		// match_found was lost; the offer itself carries the room.
		if room == "" {
			c.metrics.SignalDiscarded(domain.MsgOffer, "no_room")
			return nil
		}
		c.setStatus(domain.QueueMatched)
		c.matchedAt = c.now()
		c.room = room
		c.setStatus(domain.QueueConnecting)
	}
	if err := c.engine.HandleOffer(ctx, room, p.Description); err != nil {
		c.onEngineError(ctx, err)
	}
	return nil
}

func (c *LifecycleController) handlePeerEvent(ctx context.Context, s *Session, ev ports.PeerEvent) {
	if err := c.engine.HandlePeerEvent(ctx, s, ev); err != nil {
		c.onEngineError(ctx, err)
		return
	}
	if s != c.engine.Active() {
		return
	}
	if s.ConnectionState() == domain.ConnectionConnected && c.status.Get() == domain.QueueConnecting {
		c.setStatus(domain.QueueConnected)
		c.metrics.TimeToConnect(c.now().Sub(c.matchedAt))
	}
}

// onEngineError decides what happens after the engine gave up on a session.
func (c *LifecycleController) onEngineError(ctx context.Context, err error) {
	c.lastError.Set(err.Error())
	c.dropSession()

	switch {
	case errors.Is(err, domain.ErrCaptureUnavailable):
		c.logger.Errorw("Capture unavailable", "error", err)
		if sendErr := c.sendControl(ctx, domain.MsgEndChat); sendErr != nil {
			c.logger.Warnw("End chat not delivered", "error", sendErr)
		}
		c.setStatus(domain.QueueFailed)
		c.setStatus(domain.QueueIdle)
	default:
		c.logger.Warnw("Negotiation failed, finding next partner", "error", err)
		if sendErr := c.enterQueue(ctx, domain.MsgNextMatch); sendErr != nil {
			c.logger.Warnw("Requeue failed", "error", sendErr)
			c.setStatus(domain.QueueFailed)
		}
	}
}

func (c *LifecycleController) onPartnerGone(ctx context.Context, msg domain.Message, autoRejoin bool, reason string) {
	switch c.status.Get() {
	case domain.QueueMatched, domain.QueueConnecting, domain.QueueConnected:
	default:
		c.metrics.SignalDiscarded(msg.Type, "no_match")
		return
	}
	if msg.RoomID != c.room {
		c.metrics.SignalDiscarded(msg.Type, "other_room")
		return
	}

	c.logger.Infow("Partner gone", "type", msg.Type, "reason", reason, "auto_rejoin", autoRejoin)
	c.dropSession()
	c.setStatus(domain.QueueDisconnected)
	if autoRejoin {
		c.scheduleRejoin()
	}
}

func (c *LifecycleController) onBanned(p domain.BannedPayload) {
	c.logger.Warnw("Banned by server", "reason", p.Reason, "expires_at", p.ExpiresAt)
	c.cancelRejoin()
	c.dropSession()
	c.engine.ReleaseCapture()
	if c.creds != nil {
		c.creds.Clear()
	}
	reason := p.Reason
	if reason == "" {
		reason = p.Message
	}
	if reason == "" {
		reason = "banned"
	}
	c.ban.Set(domain.Ban{Reason: reason, ExpiresAt: p.ExpiresAt})
	c.position.Set(0)
	c.setStatus(domain.QueueIdle)
}

func (c *LifecycleController) handleTransportStatus(ctx context.Context, connected bool) {
	st := c.status.Get()
	if !connected {
		c.logger.Warnw("Signaling transport lost", "queue_status", st)
		c.cancelRejoin()
		c.dropSession()
		if st != domain.QueueIdle {
			c.setStatus(domain.QueueDisconnected)
		}
		return
	}

	c.logger.Infow("Signaling transport connected", "queue_status", st)
	if st == domain.QueueDisconnected && c.cfg.AutoRejoin {
		if err := c.enterQueue(ctx, domain.MsgJoinQueue); err != nil {
			c.logger.Warnw("Rejoin after reconnect failed", "error", err)
		}
	}
}

// dropSession tears down the session and remembers its room so signals
// still in flight from it are ignored.
func (c *LifecycleController) dropSession() {
	c.engine.Teardown()
	if c.room == "" {
		return
	}
	c.abandoned = append(c.abandoned, c.room)
	if len(c.abandoned) > maxAbandonedRooms {
		c.abandoned = c.abandoned[len(c.abandoned)-maxAbandonedRooms:]
	}
	c.room = ""
}

func (c *LifecycleController) isAbandoned(room domain.RoomID) bool {
	if room == "" {
		return false
	}
	for _, r := range c.abandoned {
		if r == room {
			return true
		}
	}
	return false
}

func roomScoped(t domain.MessageType) bool {
	switch t {
	case domain.MsgOffer, domain.MsgAnswer, domain.MsgICECandidate,
		domain.MsgPartnerLeft, domain.MsgPartnerDisconnected, domain.MsgMatchEnded:
		return true
	}
	return false
}

func (c *LifecycleController) scheduleRejoin() {
	c.cancelRejoin()
	gen := c.rejoinGen
	c.stopRejoin = c.afterFunc(c.cfg.RejoinDelay, func() {
		c.post(func(ctx context.Context) { c.rejoin(ctx, gen) })
	})
}

func (c *LifecycleController) rejoin(ctx context.Context, gen uint64) {
	if gen != c.rejoinGen || c.status.Get() != domain.QueueDisconnected {
		return
	}
	c.stopRejoin = nil
	if err := c.enterQueue(ctx, domain.MsgJoinQueue); err != nil {
		c.logger.Warnw("Auto rejoin failed", "error", err)
	}
}

func (c *LifecycleController) cancelRejoin() {
	c.rejoinGen++
	if c.stopRejoin != nil {
		c.stopRejoin()
		c.stopRejoin = nil
	}
}

func (c *LifecycleController) setStatus(next domain.QueueStatus) {
	prev := c.status.Get()
	if prev == next {
		return
	}
	if !canTransition(prev, next) {
		c.logger.Errorw("Invalid queue transition", "from", prev, "to", next, "error", domain.ErrInvalidTransition)
		return
	}
	c.status.Set(next)
	c.metrics.QueueTransition(prev, next)
	c.logger.Infow("Queue status changed", "from", prev, "to", next)
}

func (c *LifecycleController) sendControl(ctx context.Context, t domain.MessageType) error {
	msg, err := domain.NewMessage(t, "", nil)
	if err != nil {
		return err
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send %s: %w", domain.ErrTransport, t, err)
	}
	return nil
}
