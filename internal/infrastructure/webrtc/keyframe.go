package webrtc

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// KeyframeGate tracks whether a video stream has delivered its first
// keyframe. Until then the picture cannot be decoded and PLIs keep going out.
type KeyframeGate struct {
	mu     sync.Mutex
	opened bool
}

func NewKeyframeGate() *KeyframeGate {
	return &KeyframeGate{}
}

// Pass reports whether pkt may be forwarded. The gate opens on the first
// VP8 keyframe and then stays open.
func (g *KeyframeGate) Pass(pkt *rtp.Packet) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.opened && IsVP8Keyframe(pkt) {
		g.opened = true
	}
	return g.opened
}

func (g *KeyframeGate) Opened() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened
}

// IsVP8Keyframe reports whether pkt starts a VP8 key frame.
func IsVP8Keyframe(pkt *rtp.Packet) bool {
	if pkt == nil || len(pkt.Payload) == 0 {
		return false
	}

	vp8 := &codecs.VP8Packet{}
	frame, err := vp8.Unmarshal(pkt.Payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	// Only the first packet of partition 0 carries the frame header.
	if vp8.S != 1 || vp8.PID != 0 {
		return false
	}
	// P bit of the frame tag: 0 means key frame.
	return frame[0]&0x01 == 0
}
