package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type fakeTrack struct {
	id      string
	kind    domain.TrackKind
	enabled bool
	stopped int
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind   { return t.kind }
func (t *fakeTrack) Stop()                    { t.stopped++ }
func (t *fakeTrack) Enabled() bool            { return t.enabled }
func (t *fakeTrack) SetEnabled(enabled bool)  { t.enabled = enabled }
func (t *fakeTrack) Local() webrtc.TrackLocal { return nil }

type fakeCapture struct {
	mu         sync.Mutex
	tracks     []ports.LocalTrack
	acquireErr error
	acquired   int
	released   int
}

func (c *fakeCapture) Acquire(_ context.Context, cons ports.Constraints) ([]ports.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acquireErr != nil {
		return nil, c.acquireErr
	}
	c.acquired++
	c.tracks = []ports.LocalTrack{
		&fakeTrack{id: fmt.Sprintf("audio-%d", c.acquired), kind: domain.TrackAudio, enabled: true},
		&fakeTrack{id: fmt.Sprintf("video-%d", c.acquired), kind: domain.TrackVideo, enabled: true},
	}
	return c.tracks, nil
}

func (c *fakeCapture) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		t.Stop()
	}
	if c.tracks != nil {
		c.released++
	}
	c.tracks = nil
}

func (c *fakeCapture) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		if t.Kind() == kind {
			t.SetEnabled(enabled)
		}
	}
}

func (c *fakeCapture) Tracks() []ports.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

func (c *fakeCapture) track(kind domain.TrackKind) ports.LocalTrack {
	for _, t := range c.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []domain.Message
	err  error
}

func (t *fakeTransport) Send(_ context.Context, msg domain.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) types() []domain.MessageType {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.MessageType, 0, len(t.sent))
	for _, m := range t.sent {
		out = append(out, m.Type)
	}
	return out
}

func (t *fakeTransport) count(mt domain.MessageType) int {
	n := 0
	for _, got := range t.types() {
		if got == mt {
			n++
		}
	}
	return n
}

func (t *fakeTransport) last(mt domain.MessageType) (domain.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		if t.sent[i].Type == mt {
			return t.sent[i], true
		}
	}
	return domain.Message{}, false
}

func (t *fakeTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

var errFakePC = errors.New("fake peer connection failure")

// fakePC mirrors the pion rules the engine relies on: candidates are
// rejected until a remote description exists.
type fakePC struct {
	emit func(ports.PeerEvent)

	offers     int
	restarts   int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	remoteSet  bool
	applied    []string
	tracks     int
	closed     int
	failOffer  bool
	failRemote bool
	failRollbk bool
	rejectCand string
}

func (pc *fakePC) AddTrack(ports.LocalTrack) error { pc.tracks++; return nil }

func (pc *fakePC) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	if pc.failOffer {
		return webrtc.SessionDescription{}, errFakePC
	}
	pc.offers++
	if iceRestart {
		pc.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", pc.offers)}, nil
}

func (pc *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (pc *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	if d.Type == webrtc.SDPTypeRollback && pc.failRollbk {
		return errFakePC
	}
	pc.local = append(pc.local, d)
	return nil
}

func (pc *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	if pc.failRemote {
		return errFakePC
	}
	pc.remote = append(pc.remote, d)
	if d.Type != webrtc.SDPTypeRollback {
		pc.remoteSet = true
	}
	return nil
}

func (pc *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	if !pc.remoteSet {
		return errors.New("remote description not set")
	}
	if c.Candidate == pc.rejectCand {
		return errFakePC
	}
	pc.applied = append(pc.applied, c.Candidate)
	return nil
}

func (pc *fakePC) Close() error { pc.closed++; return nil }

type fakeFactory struct {
	pcs []*fakePC
	err error
	// configure runs on each new connection before it is returned.
	configure func(pc *fakePC)
}

func (f *fakeFactory) NewPeerConnection(emit func(ports.PeerEvent)) (ports.PeerConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	pc := &fakePC{emit: emit}
	if f.configure != nil {
		f.configure(pc)
	}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakeFactory) last() *fakePC {
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}

type fakeCreds struct{ cleared int }

func (c *fakeCreds) Token() string { return "token" }
func (c *fakeCreds) Clear()        { c.cleared++ }

// manualTimers replaces time.AfterFunc so tests decide when timers fire.
type manualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (m *manualTimers) afterFunc(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	m.pending = append(m.pending, t)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		was := !t.stopped && !t.fired
		t.stopped = true
		return was
	}
}

// fireAll runs every timer that has not fired yet. Stopped timers only run
// with includeStopped, which simulates a Stop that lost the race with the
// timer goroutine.
func (m *manualTimers) fireAll(includeStopped bool) int {
	m.mu.Lock()
	var due []*manualTimer
	for _, t := range m.pending {
		if t.fired || (t.stopped && !includeStopped) {
			continue
		}
		t.fired = true
		due = append(due, t)
	}
	m.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	capture   *fakeCapture
	transport *fakeTransport
	factory   *fakeFactory
	creds     *fakeCreds
	timers    *manualTimers
	engine    *NegotiationEngine
	control   *ControlSurface
	ctrl      *LifecycleController
}

func newHarness(t *testing.T, cfg LifecycleConfig) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		capture:   &fakeCapture{},
		transport: &fakeTransport{},
		factory:   &fakeFactory{},
		creds:     &fakeCreds{},
		timers:    &manualTimers{},
	}
	h.engine = NewNegotiationEngine(h.factory, h.capture, h.transport,
		ports.Constraints{AudioEnabled: true, VideoEnabled: true}, nil, logger)
	h.control = NewControlSurface(h.capture, logger)
	h.ctrl = NewLifecycleController(cfg, h.engine, h.control, h.transport, h.creds, nil, logger)
	h.ctrl.afterFunc = h.timers.afterFunc
	return h
}

// drain runs queued loop events until none remain.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.ctrl.events:
			ev(h.ctx)
		default:
			return
		}
	}
}

func (h *harness) signal(t domain.MessageType, room domain.RoomID, payload interface{}) {
	h.t.Helper()
	msg, err := domain.NewMessage(t, room, payload)
	if err != nil {
		h.t.Fatalf("build %s: %v", t, err)
	}
	h.ctrl.handleSignal(h.ctx, msg)
	h.drain()
}

func (h *harness) matchFound(room domain.RoomID, role domain.Role) {
	h.signal(domain.MsgMatchFound, "", domain.MatchFoundPayload{RoomID: room, PartnerID: "peer-1", Role: role})
}

func (h *harness) emit(pc *fakePC, ev ports.PeerEvent) {
	pc.emit(ev)
	h.drain()
}

func (h *harness) status() domain.QueueStatus { return h.ctrl.status.Get() }

func candidate(s string) webrtc.ICECandidateInit { return webrtc.ICECandidateInit{Candidate: s} }

func offerDesc(sdp string) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
}

func answerDesc() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
}
