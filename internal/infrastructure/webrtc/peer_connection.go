package webrtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/config"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrPeerConnectionClosed = errors.New("peer connection closed")

// WebRTCConfig WebRTC configuration
type WebRTCConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	CandidatePoolSize uint8
}

// ConfigFrom maps the YAML webrtc section onto WebRTCConfig.
func ConfigFrom(cfg *config.Config) WebRTCConfig {
	out := WebRTCConfig{
		CandidatePoolSize: cfg.WebRTC.ICECandidatePoolSize,
	}
	for _, s := range cfg.WebRTC.ICEServers {
		out.ICEServers = append(out.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	out.PortRange.Min = cfg.WebRTC.PortRange.Min
	out.PortRange.Max = cfg.WebRTC.PortRange.Max
	return out
}

// RTPMetrics is the slice of the prometheus collector the remote track
// readers report into.
type RTPMetrics interface {
	RecordRTPReceived(kind domain.TrackKind, bytes int)
}

// Factory builds pion peer connections that share one API instance.
type Factory struct {
	config  WebRTCConfig
	api     *webrtc.API
	metrics RTPMetrics
	logger  *zap.SugaredLogger
}

var _ ports.PeerConnectionFactory = (*Factory)(nil)

func NewFactory(cfg WebRTCConfig, metrics RTPMetrics, logger *zap.SugaredLogger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("invalid port range: %w", err)
		}
	}

	return &Factory{
		config: cfg,
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(i),
			webrtc.WithSettingEngine(settingEngine),
		),
		metrics: metrics,
		logger:  logger,
	}, nil
}

func (f *Factory) NewPeerConnection(emit func(ports.PeerEvent)) (ports.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:           f.config.ICEServers,
		ICECandidatePoolSize: f.config.CandidatePoolSize,
		SDPSemantics:         webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peerConnection{
		pc:      pc,
		pump:    newEventPump(emit),
		factory: f,
		logger:  f.logger,
	}

	pc.OnICECandidate(p.handleICECandidate)
	pc.OnTrack(p.handleTrack)
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		p.logger.Debugw("ICE connection state changed", "ice_state", state)
		p.pump.push(ports.PeerEvent{Kind: ports.PeerEventICEConnectionState, ICEState: state})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("peer connection state changed", "connection_state", state)
		p.pump.push(ports.PeerEvent{Kind: ports.PeerEventConnectionState, ConnectionState: state})
	})

	return p, nil
}

// peerConnection adapts *webrtc.PeerConnection to ports.PeerConnection.
// pion fires callbacks on its own goroutines; they are queued on the pump
// so a slow consumer never blocks ICE or DTLS.
type peerConnection struct {
	pc      *webrtc.PeerConnection
	pump    *eventPump
	factory *Factory
	closed  atomic.Bool
	logger  *zap.SugaredLogger
}

func (p *peerConnection) AddTrack(track ports.LocalTrack) error {
	if p.closed.Load() {
		return ErrPeerConnectionClosed
	}
	sender, err := p.pc.AddTrack(track.Local())
	if err != nil {
		return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
	}
	go p.readSenderRTCP(track.Kind(), sender)
	return nil
}

func (p *peerConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	return p.pc.CreateOffer(opts)
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// pion parses the SDP of every description, rollbacks included, so an
// empty rollback carries the description it undoes.
func (p *peerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if desc.Type == webrtc.SDPTypeRollback && desc.SDP == "" {
		if cur := p.pc.PendingLocalDescription(); cur != nil {
			desc.SDP = cur.SDP
		}
	}
	return p.pc.SetLocalDescription(desc)
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if desc.Type == webrtc.SDPTypeRollback && desc.SDP == "" {
		if cur := p.pc.PendingRemoteDescription(); cur != nil {
			desc.SDP = cur.SDP
		}
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Close stops event delivery before closing pion so no callback reaches the
// consumer afterwards.
func (p *peerConnection) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.pump.close()
	return p.pc.Close()
}

func (p *peerConnection) handleICECandidate(c *webrtc.ICECandidate) {
	ev := ports.PeerEvent{Kind: ports.PeerEventICECandidate}
	if c != nil {
		cand := c.ToJSON()
		ev.Candidate = &cand
	}
	p.pump.push(ev)
}

func (p *peerConnection) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if p.closed.Load() {
		return
	}

	p.logger.Infow("remote track started",
		"track_id", track.ID(),
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	rt := newRemoteTrack(track, p.factory.metrics, p.logger)
	if rt.kind == domain.TrackVideo {
		rt.requestKeyframes(p.pc)
	}
	go rt.read()
	go drainReceiverRTCP(receiver)

	p.pump.push(ports.PeerEvent{Kind: ports.PeerEventTrack, Track: rt})
}

// readSenderRTCP must run for interceptors such as NACK to work.
func (p *peerConnection) readSenderRTCP(kind domain.TrackKind, sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				p.logger.Debugw("partner requested keyframe", "kind", kind)
			case *rtcp.ReceiverReport:
				for _, report := range pkt.Reports {
					p.logger.Debugw("receiver report",
						"kind", kind,
						"fraction_lost", report.FractionLost,
						"jitter", report.Jitter,
					)
				}
			case *rtcp.TransportLayerNack:
				p.logger.Debugw("received NACK", "kind", kind, "nacks", len(pkt.Nacks))
			}
		}
	}
}

func drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// eventPump delivers events in order on a single goroutine. Events pushed
// after close are dropped.
type eventPump struct {
	mu     sync.Mutex
	queue  []ports.PeerEvent
	closed bool
	wake   chan struct{}
	done   chan struct{}
	emit   func(ports.PeerEvent)
}

func newEventPump(emit func(ports.PeerEvent)) *eventPump {
	p := &eventPump{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		emit: emit,
	}
	go p.run()
	return p
}

func (p *eventPump) push(ev ports.PeerEvent) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if ev.Track != nil {
			ev.Track.Stop()
		}
		return
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *eventPump) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	close(p.done)
	for _, ev := range pending {
		if ev.Track != nil {
			ev.Track.Stop()
		}
	}
}

func (p *eventPump) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}

		for {
			p.mu.Lock()
			if p.closed || len(p.queue) == 0 {
				p.mu.Unlock()
				break
			}
			ev := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()

			p.emit(ev)
		}
	}
}
