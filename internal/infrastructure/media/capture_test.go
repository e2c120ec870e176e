package media

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var both = ports.Constraints{AudioEnabled: true, VideoEnabled: true}

func newTestCapture(devices ...Device) *Capture {
	return NewCapture(Config{Devices: devices, FrameInterval: 5 * time.Millisecond}, zap.NewNop().Sugar())
}

// writeIVF writes a VP8 IVF file with n tiny frames at 1/100s.
func writeIVF(t *testing.T, n int) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 16)
	binary.LittleEndian.PutUint16(header[14:], 16)
	binary.LittleEndian.PutUint32(header[16:], 100)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(n))

	data := header
	for i := 0; i < n; i++ {
		frame := []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		data = append(data, fh...)
		data = append(data, frame...)
	}

	path := filepath.Join(t.TempDir(), "camera.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func trackOf(tracks []ports.LocalTrack, kind domain.TrackKind) *localTrack {
	for _, tr := range tracks {
		if tr.Kind() == kind {
			return tr.(*localTrack)
		}
	}
	return nil
}

func TestCapture_GeneratedSources(t *testing.T) {
	c := newTestCapture()
	defer c.Release()

	tracks, err := c.Acquire(context.Background(), both)
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	audio := trackOf(tracks, domain.TrackAudio)
	video := trackOf(tracks, domain.TrackVideo)
	require.NotNil(t, audio)
	require.NotNil(t, video)

	assert.Equal(t, webrtc.MimeTypeOpus, audio.sample.Codec().MimeType)
	assert.Equal(t, webrtc.MimeTypeVP8, video.sample.Codec().MimeType)

	require.Eventually(t, func() bool { return audio.Samples() > 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, video.Samples(), "no video frames without a device file")
}

func TestCapture_AcquireIsIdempotentUntilRelease(t *testing.T) {
	c := newTestCapture()

	first, err := c.Acquire(context.Background(), both)
	require.NoError(t, err)
	again, err := c.Acquire(context.Background(), both)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, first, c.Tracks())

	c.Release()
	c.Release()
	assert.Nil(t, c.Tracks())
	for _, tr := range first {
		assert.True(t, tr.(*localTrack).stopped())
	}

	fresh, err := c.Acquire(context.Background(), both)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID(), fresh[0].ID())
	c.Release()
}

func TestCapture_DisabledTrackDropsSamples(t *testing.T) {
	c := newTestCapture()
	defer c.Release()

	tracks, err := c.Acquire(context.Background(), ports.Constraints{AudioEnabled: true})
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	audio := trackOf(tracks, domain.TrackAudio)

	c.SetTrackEnabled(domain.TrackAudio, false)
	assert.False(t, audio.Enabled())
	// Let a write that raced the toggle land first.
	time.Sleep(20 * time.Millisecond)

	before := audio.Samples()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, audio.Samples())

	c.SetTrackEnabled(domain.TrackAudio, true)
	require.Eventually(t, func() bool { return audio.Samples() > before }, time.Second, 5*time.Millisecond)
}

func TestCapture_IVFDevice(t *testing.T) {
	path := writeIVF(t, 3)
	c := newTestCapture(Device{ID: "cam", Kind: domain.TrackVideo, Path: path})
	defer c.Release()

	tracks, err := c.Acquire(context.Background(), ports.Constraints{VideoEnabled: true, PreferredDeviceID: "cam"})
	require.NoError(t, err)
	video := trackOf(tracks, domain.TrackVideo)
	require.NotNil(t, video)

	// The file loops, so more samples than frames eventually arrive.
	require.Eventually(t, func() bool { return video.Samples() > 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestCapture_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.ivf")

	tests := []struct {
		name        string
		devices     []Device
		constraints ports.Constraints
		want        error
	}{
		{
			name:        "unknown preferred device",
			constraints: ports.Constraints{VideoEnabled: true, PreferredDeviceID: "ghost"},
			want:        domain.ErrDeviceUnavailable,
		},
		{
			name:        "missing file",
			devices:     []Device{{ID: "cam", Kind: domain.TrackVideo, Path: missing}},
			constraints: ports.Constraints{VideoEnabled: true},
			want:        domain.ErrDeviceUnavailable,
		},
		{
			name:        "unsupported container",
			devices:     []Device{{ID: "cam", Kind: domain.TrackVideo, Path: "/dev/video0"}},
			constraints: ports.Constraints{VideoEnabled: true},
			want:        domain.ErrDeviceUnavailable,
		},
		{
			name:        "nothing requested",
			constraints: ports.Constraints{},
			want:        domain.ErrDeviceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCapture(tt.devices...)
			_, err := c.Acquire(context.Background(), tt.constraints)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, c.Tracks())
		})
	}
}

func TestCapture_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}
	path := writeIVF(t, 1)
	require.NoError(t, os.Chmod(path, 0o000))

	c := newTestCapture(Device{ID: "cam", Kind: domain.TrackVideo, Path: path})
	_, err := c.Acquire(context.Background(), ports.Constraints{VideoEnabled: true})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestCapture_FailedAcquireStopsOpenedTracks(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.ivf")
	c := newTestCapture(Device{ID: "cam", Kind: domain.TrackVideo, Path: missing})

	_, err := c.Acquire(context.Background(), both)
	require.ErrorIs(t, err, domain.ErrDeviceUnavailable)
	assert.Nil(t, c.Tracks())
}

func TestCapture_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestCapture().Acquire(ctx, both)
	assert.ErrorIs(t, err, context.Canceled)
}
