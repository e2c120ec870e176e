package webrtc

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

// vp8Packet builds a packet with the minimal one byte descriptor.
func vp8Packet(start bool, frameTag byte) *rtp.Packet {
	desc := byte(0x00)
	if start {
		desc |= 0x10
	}
	return &rtp.Packet{Payload: []byte{desc, frameTag, 0x00, 0x00}}
}

func TestIsVP8Keyframe(t *testing.T) {
	assert.True(t, IsVP8Keyframe(vp8Packet(true, 0x10)))
	assert.False(t, IsVP8Keyframe(vp8Packet(true, 0x11)), "inter frame")
	assert.False(t, IsVP8Keyframe(vp8Packet(false, 0x10)), "continuation packet")
	assert.False(t, IsVP8Keyframe(&rtp.Packet{}))
	assert.False(t, IsVP8Keyframe(nil))
}

func TestKeyframeGate(t *testing.T) {
	g := NewKeyframeGate()

	assert.False(t, g.Pass(vp8Packet(true, 0x11)))
	assert.False(t, g.Opened())

	assert.True(t, g.Pass(vp8Packet(true, 0x10)))
	assert.True(t, g.Pass(vp8Packet(true, 0x11)), "stays open after the first keyframe")
	assert.True(t, g.Opened())
}
