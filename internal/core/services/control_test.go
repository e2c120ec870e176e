package services

import (
	"context"
	"testing"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestControlSurface_Toggles(t *testing.T) {
	capture := &fakeCapture{}
	_, err := capture.Acquire(context.Background(), ports.Constraints{AudioEnabled: true, VideoEnabled: true})
	require.NoError(t, err)
	cs := NewControlSurface(capture, zap.NewNop().Sugar())

	assert.Equal(t, domain.DefaultControlState(), cs.State().Get())

	updates, cancel := cs.State().Subscribe()
	defer cancel()

	assert.True(t, cs.ToggleMute())
	assert.False(t, capture.track(domain.TrackAudio).Enabled())
	assert.True(t, capture.track(domain.TrackVideo).Enabled())
	assert.Equal(t, domain.ControlState{Muted: true, CameraOn: true}, <-updates)

	assert.False(t, cs.ToggleMute())
	assert.True(t, capture.track(domain.TrackAudio).Enabled())

	assert.False(t, cs.ToggleCamera())
	assert.False(t, capture.track(domain.TrackVideo).Enabled())
	assert.True(t, cs.ToggleCamera())
	assert.True(t, capture.track(domain.TrackVideo).Enabled())
}

func TestControlSurface_ApplyToNewCapture(t *testing.T) {
	capture := &fakeCapture{}
	cs := NewControlSurface(capture, zap.NewNop().Sugar())
	cs.ToggleCamera()

	_, err := capture.Acquire(context.Background(), ports.Constraints{AudioEnabled: true, VideoEnabled: true})
	require.NoError(t, err)
	require.True(t, capture.track(domain.TrackVideo).Enabled())

	cs.Apply()
	assert.False(t, capture.track(domain.TrackVideo).Enabled())
	assert.True(t, capture.track(domain.TrackAudio).Enabled())
}
