package webrtc

import (
	"sync"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/pkg/optimize"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	pliInterval = 3 * time.Second
	rtpMTU      = 1500
)

// rtpBuffers is shared by every remote track's read loop.
var rtpBuffers = optimize.NewBytePool(rtpMTU)

// remoteTrack is the domain.Track handed to the engine for each incoming
// track. Stop ends metrics reporting; the RTP stream itself ends when the
// peer connection closes.
type remoteTrack struct {
	track   *webrtc.TrackRemote
	kind    domain.TrackKind
	metrics RTPMetrics
	gate    *KeyframeGate
	started time.Time
	logger  *zap.SugaredLogger

	stop chan struct{}
	once sync.Once
}

func newRemoteTrack(track *webrtc.TrackRemote, metrics RTPMetrics, logger *zap.SugaredLogger) *remoteTrack {
	kind := domain.TrackAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackVideo
	}
	return &remoteTrack{
		track:   track,
		kind:    kind,
		metrics: metrics,
		gate:    NewKeyframeGate(),
		started: time.Now(),
		logger:  logger.With("track_id", track.ID(), "kind", kind),
		stop:    make(chan struct{}),
	}
}

func (t *remoteTrack) ID() string             { return t.track.ID() }
func (t *remoteTrack) Kind() domain.TrackKind { return t.kind }

func (t *remoteTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

func (t *remoteTrack) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// requestKeyframes sends PLIs until the first keyframe arrives so the
// picture appears without waiting for the sender's next GOP.
func (t *remoteTrack) requestKeyframes(pc *webrtc.PeerConnection) {
	ssrc := uint32(t.track.SSRC())
	send := func() error {
		return pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	}

	go func() {
		ticker := time.NewTicker(pliInterval)
		defer ticker.Stop()

		for {
			if t.gate.Opened() {
				return
			}
			if err := send(); err != nil {
				return
			}
			select {
			case <-t.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func (t *remoteTrack) read() {
	buf := rtpBuffers.Get()
	defer rtpBuffers.Put(buf)

	var pkt rtp.Packet
	for {
		n, _, err := t.track.Read(buf)
		if err != nil {
			t.logger.Debugw("remote track ended", "error", err)
			return
		}
		if t.stopped() {
			// Keep draining so the interceptor chain is not backed up.
			continue
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("dropping malformed rtp packet", "error", err)
			continue
		}

		if t.metrics != nil {
			t.metrics.RecordRTPReceived(t.kind, len(pkt.Payload))
		}

		if t.kind == domain.TrackVideo && !t.gate.Opened() && t.gate.Pass(&pkt) {
			t.logger.Infow("first keyframe received", "after", time.Since(t.started))
		}
	}
}
