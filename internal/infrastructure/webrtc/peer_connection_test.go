package webrtc

import (
	"sync"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/config"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []ports.PeerEvent
}

func (r *recorder) emit(ev ports.PeerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) kinds() []ports.PeerEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.PeerEventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 50100

	out := ConfigFrom(cfg)
	require.Len(t, out.ICEServers, len(cfg.WebRTC.ICEServers))
	assert.Equal(t, cfg.WebRTC.ICEServers[0].URLs, out.ICEServers[0].URLs)
	assert.Equal(t, uint16(50000), out.PortRange.Min)
	assert.Equal(t, uint16(50100), out.PortRange.Max)
}

func TestEventPump_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	p := newEventPump(rec.emit)
	defer p.close()

	p.push(ports.PeerEvent{Kind: ports.PeerEventICECandidate})
	p.push(ports.PeerEvent{Kind: ports.PeerEventICEConnectionState})
	p.push(ports.PeerEvent{Kind: ports.PeerEventConnectionState})

	require.Eventually(t, func() bool { return rec.len() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []ports.PeerEventKind{
		ports.PeerEventICECandidate,
		ports.PeerEventICEConnectionState,
		ports.PeerEventConnectionState,
	}, rec.kinds())
}

type stopCounter struct{ stops int }

func (s *stopCounter) ID() string             { return "remote" }
func (s *stopCounter) Kind() domain.TrackKind { return domain.TrackVideo }
func (s *stopCounter) Stop()                  { s.stops++ }

func TestEventPump_DropsAfterClose(t *testing.T) {
	rec := &recorder{}
	p := newEventPump(rec.emit)
	p.close()
	p.close()

	track := &stopCounter{}
	p.push(ports.PeerEvent{Kind: ports.PeerEventTrack, Track: track})
	p.push(ports.PeerEvent{Kind: ports.PeerEventICECandidate})

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, rec.len())
	assert.Equal(t, 1, track.stops, "a dropped track is stopped")
}

func TestPeerConnection_Lifecycle(t *testing.T) {
	f, err := NewFactory(WebRTCConfig{}, nil, zap.NewNop().Sugar())
	require.NoError(t, err)

	rec := &recorder{}
	pc, err := f.NewPeerConnection(rec.emit)
	require.NoError(t, err)

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	require.NoError(t, pc.AddTrack(fakeLocal{track}))

	offer, err := pc.CreateOffer(false)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "opus")
	require.NoError(t, pc.SetLocalDescription(offer))

	restart, err := pc.CreateOffer(true)
	require.NoError(t, err)
	assert.NotEmpty(t, restart.SDP)

	require.NoError(t, pc.Close())
	require.NoError(t, pc.Close())
	assert.ErrorIs(t, pc.AddTrack(fakeLocal{track}), ErrPeerConnectionClosed)
}

func TestPeerConnection_RejectsCandidateWithoutRemoteDescription(t *testing.T) {
	f, err := NewFactory(WebRTCConfig{}, nil, zap.NewNop().Sugar())
	require.NoError(t, err)

	pc, err := f.NewPeerConnection(func(ports.PeerEvent) {})
	require.NoError(t, err)
	defer pc.Close()

	err = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host"})
	assert.Error(t, err)
}

// fakeLocal satisfies ports.LocalTrack around a bare pion track.
type fakeLocal struct {
	track *webrtc.TrackLocalStaticSample
}

func (f fakeLocal) ID() string               { return f.track.ID() }
func (f fakeLocal) Kind() domain.TrackKind   { return domain.TrackAudio }
func (f fakeLocal) Stop()                    {}
func (f fakeLocal) Enabled() bool            { return true }
func (f fakeLocal) SetEnabled(bool)          {}
func (f fakeLocal) Local() webrtc.TrackLocal { return f.track }
